package state

import (
	"DSCEngine/internal/event"
	fpmath "DSCEngine/internal/math"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// LiquidationResult describes a staged liquidation.
type LiquidationResult struct {
	Liquidator           uuid.UUID
	Debtor               uuid.UUID
	Token                string
	DebtCovered          *uint256.Int
	Base                 *uint256.Int // collateral equivalent of DebtCovered
	Bonus                *uint256.Int
	Seized               *uint256.Int // Base + Bonus
	StartingHealthFactor *uint256.Int
	EndingHealthFactor   *uint256.Int
}

// LiquidationEngine seizes collateral from an insolvent debtor in exchange
// for repaying their debt.
type LiquidationEngine struct {
	cfg        SystemConfig
	health     *HealthCalculator
	collateral *CollateralLedger
	debt       *DebtLedger
	oracle     PriceOracle
}

func NewLiquidationEngine(
	cfg SystemConfig,
	health *HealthCalculator,
	collateral *CollateralLedger,
	debt *DebtLedger,
	oracle PriceOracle,
) *LiquidationEngine {
	return &LiquidationEngine{
		cfg:        cfg,
		health:     health,
		collateral: collateral,
		debt:       debt,
		oracle:     oracle,
	}
}

// Bonus returns base * LiquidationBonus / LiquidationPrecision, rounded down.
func (le *LiquidationEngine) Bonus(base *uint256.Int) (*uint256.Int, error) {
	return fpmath.MulDiv(
		base,
		uint256.NewInt(le.cfg.LiquidationBonus),
		uint256.NewInt(le.cfg.LiquidationPrecision),
		fpmath.RoundDown,
	)
}

// Liquidate stages the seizure of symbol collateral from debtor and the
// repayment of debtToCover by liquidator. Checks run against the staged
// balances; nothing external happens until the unit of work settles.
func (le *LiquidationEngine) Liquidate(
	ctx context.Context,
	uow *UnitOfWork,
	liquidator uuid.UUID,
	symbol string,
	debtor uuid.UUID,
	debtToCover *uint256.Int,
) (*LiquidationResult, error) {
	if err := requirePositive(debtToCover); err != nil {
		return nil, err
	}
	if _, err := le.collateral.Registry().Lookup(symbol); err != nil {
		return nil, err
	}

	starting, err := le.health.HealthFactor(ctx, debtor)
	if err != nil {
		return nil, err
	}
	if !starting.Lt(le.cfg.MinHealthFactor) {
		return nil, fmt.Errorf("%w: debtor %s ratio %s", ErrHealthFactorOK, debtor, starting.Dec())
	}

	base, err := le.oracle.AmountFor(ctx, symbol, debtToCover)
	if err != nil {
		return nil, fmt.Errorf("convert debt to %s: %w", symbol, err)
	}
	bonus, err := le.Bonus(base)
	if err != nil {
		return nil, fmt.Errorf("liquidation bonus: %w", err)
	}

	seized, err := le.collateral.Seize(uow, debtor, liquidator, symbol, base, bonus)
	if err != nil {
		return nil, err
	}
	if err := le.debt.Burn(uow, debtToCover, debtor, liquidator); err != nil {
		return nil, err
	}

	ending, err := le.health.HealthFactor(ctx, debtor)
	if err != nil {
		return nil, err
	}
	if ending.Lt(le.cfg.MinHealthFactor) {
		return nil, fmt.Errorf("%w: debtor %s ratio %s -> %s",
			ErrHealthFactorNotImproved, debtor, starting.Dec(), ending.Dec())
	}

	if err := le.health.AssertSolvent(ctx, liquidator); err != nil {
		return nil, err
	}

	result := &LiquidationResult{
		Liquidator:           liquidator,
		Debtor:               debtor,
		Token:                symbol,
		DebtCovered:          debtToCover.Clone(),
		Base:                 base,
		Bonus:                bonus,
		Seized:               seized,
		StartingHealthFactor: starting,
		EndingHealthFactor:   ending,
	}
	uow.Emit(&event.PositionLiquidated{
		Liquidator:           liquidator,
		Debtor:               debtor,
		Token:                symbol,
		DebtCovered:          result.DebtCovered,
		CollateralSeized:     seized,
		Bonus:                bonus,
		StartingHealthFactor: starting,
		EndingHealthFactor:   ending,
	})
	return result, nil
}
