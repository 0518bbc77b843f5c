package state

import (
	"DSCEngine/internal/ledger"
	fpmath "DSCEngine/internal/math"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// PriceOracle converts between collateral amounts and peg value.
type PriceOracle interface {
	ValueOf(ctx context.Context, token string, amount *uint256.Int) (*uint256.Int, error)
	AmountFor(ctx context.Context, token string, value *uint256.Int) (*uint256.Int, error)
}

// HealthCalculator computes solvency over the current (possibly staged)
// balances. Prices are read fresh on every call.
type HealthCalculator struct {
	cfg      SystemConfig
	registry *ledger.Registry
	tracker  *ledger.BalanceTracker
	oracle   PriceOracle
}

func NewHealthCalculator(
	cfg SystemConfig,
	registry *ledger.Registry,
	tracker *ledger.BalanceTracker,
	oracle PriceOracle,
) *HealthCalculator {
	return &HealthCalculator{
		cfg:      cfg,
		registry: registry,
		tracker:  tracker,
		oracle:   oracle,
	}
}

// CollateralValue sums the peg value of every registered collateral the user
// holds. Empty balances contribute nothing and do not read their feed. A sum
// beyond 256 bits fails with fpmath.ErrOverflow.
func (hc *HealthCalculator) CollateralValue(ctx context.Context, user uuid.UUID) (*uint256.Int, error) {
	total := new(uint256.Int)
	for _, ct := range hc.registry.Types() {
		amount := hc.tracker.GetUserCollateral(user, ct.Symbol)
		if amount.IsZero() {
			continue
		}
		value, err := hc.oracle.ValueOf(ctx, ct.Symbol, amount)
		if err != nil {
			return nil, fmt.Errorf("value %s: %w", ct.Symbol, err)
		}
		if _, overflow := total.AddOverflow(total, value); overflow {
			return nil, fmt.Errorf("collateral value of %s: %w", user, fpmath.ErrOverflow)
		}
	}
	return total, nil
}

// AccountInformation returns the user's debt and total collateral value.
func (hc *HealthCalculator) AccountInformation(ctx context.Context, user uuid.UUID) (debt, collateralValue *uint256.Int, err error) {
	debt = hc.tracker.GetUserDebt(user)
	collateralValue, err = hc.CollateralValue(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return debt, collateralValue, nil
}

// HealthFactor returns the user's ratio at Precision scale. Collateral worth
// more than 256 bits can express counts as the maximum value.
func (hc *HealthCalculator) HealthFactor(ctx context.Context, user uuid.UUID) (*uint256.Int, error) {
	debt := hc.tracker.GetUserDebt(user)
	if debt.IsZero() {
		return fpmath.MaxUint256(), nil
	}
	value, err := hc.CollateralValue(ctx, user)
	if errors.Is(err, fpmath.ErrOverflow) {
		return fpmath.MaxUint256(), nil
	}
	if err != nil {
		return nil, err
	}
	return hc.CalculateHealthFactor(debt, value), nil
}

// CalculateHealthFactor computes
// (collateralValue * threshold / liquidationPrecision) * precision / debt.
// Zero debt, or a ratio too large for 256 bits, yields the maximum value.
func (hc *HealthCalculator) CalculateHealthFactor(debt, collateralValue *uint256.Int) *uint256.Int {
	if debt.IsZero() {
		return fpmath.MaxUint256()
	}
	adjusted, err := fpmath.MulDiv(
		collateralValue,
		uint256.NewInt(hc.cfg.LiquidationThreshold),
		uint256.NewInt(hc.cfg.LiquidationPrecision),
		fpmath.RoundDown,
	)
	if err != nil {
		return fpmath.MaxUint256()
	}
	ratio, err := fpmath.MulDiv(adjusted, hc.cfg.Precision, debt, fpmath.RoundDown)
	if errors.Is(err, fpmath.ErrOverflow) {
		return fpmath.MaxUint256()
	}
	return ratio
}

// AssertSolvent fails with *HealthFactorBrokenError when the user's ratio is
// below the minimum.
func (hc *HealthCalculator) AssertSolvent(ctx context.Context, user uuid.UUID) error {
	ratio, err := hc.HealthFactor(ctx, user)
	if err != nil {
		return err
	}
	if ratio.Lt(hc.cfg.MinHealthFactor) {
		return &HealthFactorBrokenError{User: user, Ratio: ratio}
	}
	return nil
}
