package core

import (
	"DSCEngine/internal/ledger"
	"DSCEngine/internal/token"
	"context"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Views read the committed ledger. They are rejected while an operation is
// in flight so a collaborator callback can never observe staged state.

func (e *Engine) viewGuard() error {
	if e.guard.Held() {
		if e.metrics != nil {
			e.metrics.GuardRejections.Inc()
		}
		return ErrReentrantCall
	}
	return nil
}

// GetAccountInformation returns the user's debt and total collateral value.
func (e *Engine) GetAccountInformation(ctx context.Context, user uuid.UUID) (debt, collateralValue *uint256.Int, err error) {
	if err := e.viewGuard(); err != nil {
		return nil, nil, err
	}
	return e.health.AccountInformation(ctx, user)
}

func (e *Engine) GetHealthFactor(ctx context.Context, user uuid.UUID) (*uint256.Int, error) {
	if err := e.viewGuard(); err != nil {
		return nil, err
	}
	return e.health.HealthFactor(ctx, user)
}

// GetUsdValue converts a token amount into peg value.
func (e *Engine) GetUsdValue(ctx context.Context, symbol string, amount *uint256.Int) (*uint256.Int, error) {
	if err := e.viewGuard(); err != nil {
		return nil, err
	}
	if _, err := e.registry.Lookup(symbol); err != nil {
		return nil, err
	}
	return e.oracle.ValueOf(ctx, symbol, amount)
}

// GetTokenAmountFromUsd converts a peg value into a token amount.
func (e *Engine) GetTokenAmountFromUsd(ctx context.Context, symbol string, usd *uint256.Int) (*uint256.Int, error) {
	if err := e.viewGuard(); err != nil {
		return nil, err
	}
	if _, err := e.registry.Lookup(symbol); err != nil {
		return nil, err
	}
	return e.oracle.AmountFor(ctx, symbol, usd)
}

func (e *Engine) GetAccountCollateralValue(ctx context.Context, user uuid.UUID) (*uint256.Int, error) {
	if err := e.viewGuard(); err != nil {
		return nil, err
	}
	return e.health.CollateralValue(ctx, user)
}

func (e *Engine) GetCollateralBalanceOfUser(user uuid.UUID, symbol string) (*uint256.Int, error) {
	if err := e.viewGuard(); err != nil {
		return nil, err
	}
	if _, err := e.registry.Lookup(symbol); err != nil {
		return nil, err
	}
	return e.collateral.Balance(user, symbol), nil
}

func (e *Engine) GetDebt(user uuid.UUID) (*uint256.Int, error) {
	if err := e.viewGuard(); err != nil {
		return nil, err
	}
	return e.debt.Debt(user), nil
}

// GetTotalCollateral is the sum of every user's deposited balance of symbol,
// i.e. what custody must hold.
func (e *Engine) GetTotalCollateral(symbol string) (*uint256.Int, error) {
	if err := e.viewGuard(); err != nil {
		return nil, err
	}
	if _, err := e.registry.Lookup(symbol); err != nil {
		return nil, err
	}
	return e.tracker.SumUsers(ledger.SubTypeCollateral, symbol), nil
}

// CalculateHealthFactor is the pure ratio over the given inputs.
func (e *Engine) CalculateHealthFactor(debt, collateralValue *uint256.Int) *uint256.Int {
	return e.health.CalculateHealthFactor(debt, collateralValue)
}

// GetCollateralTokens returns the registered symbols in construction order.
func (e *Engine) GetCollateralTokens() []string {
	return e.registry.Symbols()
}

func (e *Engine) GetCollateralTokenPriceFeed(symbol string) (string, error) {
	ct, err := e.registry.Lookup(symbol)
	if err != nil {
		return "", err
	}
	return ct.PriceFeed, nil
}

func (e *Engine) GetPrecision() *uint256.Int {
	return e.cfg.Precision.Clone()
}

func (e *Engine) GetAdditionalFeedPrecision() *uint256.Int {
	return e.cfg.AdditionalFeedPrecision.Clone()
}

func (e *Engine) GetLiquidationThreshold() uint64 {
	return e.cfg.LiquidationThreshold
}

func (e *Engine) GetLiquidationBonus() uint64 {
	return e.cfg.LiquidationBonus
}

func (e *Engine) GetLiquidationPrecision() uint64 {
	return e.cfg.LiquidationPrecision
}

func (e *Engine) GetMinHealthFactor() *uint256.Int {
	return e.cfg.MinHealthFactor.Clone()
}

func (e *Engine) GetDsc() token.Synthetic {
	return e.dsc
}

// ID is the engine identity: custody holder and owner of the synthetic token.
func (e *Engine) ID() uuid.UUID {
	return e.id
}
