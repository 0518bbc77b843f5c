package state_test

import (
	"DSCEngine/internal/ledger"
	fpmath "DSCEngine/internal/math"
	"DSCEngine/internal/oracle"
	"DSCEngine/internal/state"
	"DSCEngine/internal/token"
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Fixture
// ============================================================================

type fixture struct {
	t          *testing.T
	custody    uuid.UUID
	tracker    *ledger.BalanceTracker
	journals   *ledger.JournalGenerator
	feeds      *oracle.FeedBook
	round      int64
	health     *state.HealthCalculator
	collateral *state.CollateralLedger
	debt       *state.DebtLedger
	liq        *state.LiquidationEngine
	weth       *token.MemoryToken
	dsc        *token.MemoryToken
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := state.DefaultSystemConfig()
	require.NoError(t, state.ValidateSystemConfig(cfg))

	registry, err := ledger.NewRegistry([]ledger.CollateralType{
		{Symbol: "WETH", Decimals: 18, PriceFeed: "ETH/USD"},
	})
	require.NoError(t, err)

	f := &fixture{
		t:        t,
		custody:  uuid.New(),
		tracker:  ledger.NewBalanceTracker(),
		journals: ledger.NewJournalGenerator(0),
		feeds:    oracle.NewFeedBook(),
	}
	f.weth = token.NewMemoryToken("WETH", uuid.Nil)
	f.dsc = token.NewMemoryToken("DSC", f.custody)

	adapter := oracle.NewAdapter(f.feeds, []oracle.Binding{
		{Token: "WETH", Feed: "ETH/USD", TokenDecimals: 18},
	})
	f.health = state.NewHealthCalculator(cfg, registry, f.tracker, adapter)
	f.collateral, err = state.NewCollateralLedger(registry, f.tracker,
		map[string]token.Collateral{"WETH": f.weth}, f.custody)
	require.NoError(t, err)
	f.debt = state.NewDebtLedger(f.tracker, f.dsc.As(f.custody), f.custody)
	f.liq = state.NewLiquidationEngine(cfg, f.health, f.collateral, f.debt, adapter)

	f.setPrice(2000)
	return f
}

func (f *fixture) setPrice(usd int64) {
	f.round++
	_, err := f.feeds.Update(oracle.PriceUpdate{
		Feed:      "ETH/USD",
		Price:     new(big.Int).Mul(big.NewInt(usd), big.NewInt(100_000_000)),
		Decimals:  8,
		Round:     f.round,
		UpdatedAt: time.Now(),
	})
	require.NoError(f.t, err)
}

// run stages fn in a fresh unit of work and settles it, rolling back on error.
func (f *fixture) run(fn func(uow *state.UnitOfWork) error) error {
	uow := state.NewUnitOfWork(f.tracker, f.journals)
	if err := fn(uow); err != nil {
		uow.Rollback()
		return err
	}
	return uow.Settle(context.Background())
}

func (f *fixture) open(user uuid.UUID, wethAmount, mint *uint256.Int) {
	f.t.Helper()
	f.weth.Credit(user, wethAmount)
	err := f.run(func(uow *state.UnitOfWork) error {
		if err := f.collateral.Deposit(uow, user, "WETH", wethAmount); err != nil {
			return err
		}
		if mint.IsZero() {
			return nil
		}
		if err := f.debt.Mint(uow, user, mint); err != nil {
			return err
		}
		return f.health.AssertSolvent(context.Background(), user)
	})
	require.NoError(f.t, err)
}

func e18(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), fpmath.Precision())
}

// ============================================================================
// Config
// ============================================================================

func TestValidateSystemConfig_Rejects(t *testing.T) {
	cfg := state.DefaultSystemConfig()
	cfg.LiquidationThreshold = 0
	assert.Error(t, state.ValidateSystemConfig(cfg))

	cfg = state.DefaultSystemConfig()
	cfg.LiquidationBonus = 100
	assert.Error(t, state.ValidateSystemConfig(cfg))

	cfg = state.DefaultSystemConfig()
	cfg.MinHealthFactor = new(uint256.Int)
	assert.Error(t, state.ValidateSystemConfig(cfg))
}

// ============================================================================
// Collateral ledger
// ============================================================================

func TestCollateral_DepositThenRedeemRestores(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	f.open(user, e18(15), new(uint256.Int))

	assert.Equal(t, e18(15), f.collateral.Balance(user, "WETH"))
	assert.Equal(t, e18(15), f.weth.BalanceOf(f.custody))
	assert.True(t, f.weth.BalanceOf(user).IsZero())

	err := f.run(func(uow *state.UnitOfWork) error {
		return f.collateral.Redeem(uow, user, user, "WETH", e18(15))
	})
	require.NoError(t, err)
	assert.True(t, f.collateral.Balance(user, "WETH").IsZero())
	assert.Equal(t, e18(15), f.weth.BalanceOf(user))
	assert.True(t, f.debt.Debt(user).IsZero())
}

func TestCollateral_Rejections(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()

	err := f.run(func(uow *state.UnitOfWork) error {
		return f.collateral.Deposit(uow, user, "WETH", new(uint256.Int))
	})
	assert.ErrorIs(t, err, state.ErrInvalidAmount)

	err = f.run(func(uow *state.UnitOfWork) error {
		return f.collateral.Deposit(uow, user, "WBTC", e18(1))
	})
	assert.ErrorIs(t, err, state.ErrUnsupportedCollateral)

	err = f.run(func(uow *state.UnitOfWork) error {
		return f.collateral.Redeem(uow, user, user, "WETH", e18(1))
	})
	assert.ErrorIs(t, err, state.ErrInsufficientBalance)
}

func TestCollateral_TransferFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	f.weth.Credit(user, e18(5))
	f.weth.FailTransfers(true)

	err := f.run(func(uow *state.UnitOfWork) error {
		return f.collateral.Deposit(uow, user, "WETH", e18(5))
	})
	assert.ErrorIs(t, err, state.ErrTransferFailure)
	assert.True(t, f.collateral.Balance(user, "WETH").IsZero())
	assert.Equal(t, e18(5), f.weth.BalanceOf(user))
}

func TestCollateral_MissingTokenIsConfigMismatch(t *testing.T) {
	registry, err := ledger.NewRegistry([]ledger.CollateralType{
		{Symbol: "WETH", Decimals: 18, PriceFeed: "ETH/USD"},
		{Symbol: "WBTC", Decimals: 8, PriceFeed: "BTC/USD"},
	})
	require.NoError(t, err)

	_, err = state.NewCollateralLedger(registry, ledger.NewBalanceTracker(),
		map[string]token.Collateral{"WETH": token.NewMemoryToken("WETH", uuid.Nil)}, uuid.New())
	assert.ErrorIs(t, err, state.ErrConfigMismatch)
}

// ============================================================================
// Debt ledger and health factor
// ============================================================================

func TestHealth_MintAtBoundary(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	// 10 WETH at 2000 = 20000 value, 50% threshold allows 10000 debt
	f.open(user, e18(10), e18(10_000))

	hf, err := f.health.HealthFactor(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, fpmath.Precision(), hf)
	assert.Equal(t, e18(10_000), f.dsc.BalanceOf(user))

	err = f.run(func(uow *state.UnitOfWork) error {
		if err := f.debt.Mint(uow, user, uint256.NewInt(1)); err != nil {
			return err
		}
		return f.health.AssertSolvent(context.Background(), user)
	})
	require.ErrorIs(t, err, state.ErrHealthFactorBroken)

	var broken *state.HealthFactorBrokenError
	require.ErrorAs(t, err, &broken)
	assert.True(t, broken.Ratio.Lt(fpmath.Precision()))
	assert.Equal(t, e18(10_000), f.debt.Debt(user))
}

func TestHealth_ZeroDebtIsMax(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	f.open(user, e18(1), new(uint256.Int))

	hf, err := f.health.HealthFactor(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, fpmath.MaxUint256(), hf)
	assert.Equal(t, fpmath.MaxUint256(), f.health.CalculateHealthFactor(new(uint256.Int), e18(1)))
}

// maxOracle values any amount of any token at the largest 256-bit value.
type maxOracle struct{}

func (maxOracle) ValueOf(context.Context, string, *uint256.Int) (*uint256.Int, error) {
	return fpmath.MaxUint256(), nil
}

func (maxOracle) AmountFor(context.Context, string, *uint256.Int) (*uint256.Int, error) {
	return uint256.NewInt(1), nil
}

func TestHealth_CollateralValueOverflow(t *testing.T) {
	registry, err := ledger.NewRegistry([]ledger.CollateralType{
		{Symbol: "WETH", Decimals: 18, PriceFeed: "ETH/USD"},
		{Symbol: "WBTC", Decimals: 8, PriceFeed: "BTC/USD"},
	})
	require.NoError(t, err)
	tracker := ledger.NewBalanceTracker()
	hc := state.NewHealthCalculator(state.DefaultSystemConfig(), registry, tracker, maxOracle{})

	user := uuid.New()
	tracker.SetBalance(ledger.CollateralKey(user, "WETH"), uint256.NewInt(1))
	tracker.SetBalance(ledger.CollateralKey(user, "WBTC"), uint256.NewInt(1))
	tracker.SetBalance(ledger.DebtKey(user), e18(1))
	ctx := context.Background()

	_, err = hc.CollateralValue(ctx, user)
	assert.ErrorIs(t, err, fpmath.ErrOverflow)
	_, _, err = hc.AccountInformation(ctx, user)
	assert.ErrorIs(t, err, fpmath.ErrOverflow)

	hf, err := hc.HealthFactor(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, fpmath.MaxUint256(), hf)
	assert.NoError(t, hc.AssertSolvent(ctx, user))
}

func TestHealth_CalculateHealthFactor(t *testing.T) {
	f := newFixture(t)
	// (1000 * 50 / 100) * 1e18 / 100 = 5e18
	hf := f.health.CalculateHealthFactor(e18(100), e18(1000))
	assert.Equal(t, e18(5), hf)
}

func TestDebt_BurnRepays(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	f.open(user, e18(10), e18(5_000))

	err := f.run(func(uow *state.UnitOfWork) error {
		return f.debt.Burn(uow, e18(2_000), user, user)
	})
	require.NoError(t, err)
	assert.Equal(t, e18(3_000), f.debt.Debt(user))
	assert.Equal(t, e18(3_000), f.dsc.BalanceOf(user))
	assert.Equal(t, e18(3_000), f.dsc.TotalSupply())
	assert.True(t, f.dsc.BalanceOf(f.custody).IsZero())

	err = f.run(func(uow *state.UnitOfWork) error {
		return f.debt.Burn(uow, e18(3_001), user, user)
	})
	assert.ErrorIs(t, err, state.ErrInsufficientBalance)
}

func TestDebt_MintFailureCompensatesDeposit(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	f.weth.Credit(user, e18(10))
	f.dsc.FailMints(true)

	err := f.run(func(uow *state.UnitOfWork) error {
		if err := f.collateral.Deposit(uow, user, "WETH", e18(10)); err != nil {
			return err
		}
		return f.debt.Mint(uow, user, e18(100))
	})
	assert.ErrorIs(t, err, state.ErrMintFailure)
	assert.Equal(t, e18(10), f.weth.BalanceOf(user))
	assert.True(t, f.weth.BalanceOf(f.custody).IsZero())
	assert.True(t, f.collateral.Balance(user, "WETH").IsZero())
	assert.True(t, f.debt.Debt(user).IsZero())
}

// ============================================================================
// Liquidation
// ============================================================================

func TestLiquidation_SolventDebtorRejected(t *testing.T) {
	f := newFixture(t)
	debtor, liquidator := uuid.New(), uuid.New()
	f.open(debtor, e18(10), e18(5_000))

	err := f.run(func(uow *state.UnitOfWork) error {
		_, err := f.liq.Liquidate(context.Background(), uow, liquidator, "WETH", debtor, e18(100))
		return err
	})
	assert.ErrorIs(t, err, state.ErrHealthFactorOK)
}

func TestLiquidation_FullCoverSeizesWithBonus(t *testing.T) {
	f := newFixture(t)
	debtor, liquidator := uuid.New(), uuid.New()
	f.open(debtor, e18(20), e18(20_000))
	f.open(liquidator, e18(100), e18(20_000))

	// 20 WETH at 1600 = 32000, ratio 0.8
	f.setPrice(1600)

	var result *state.LiquidationResult
	err := f.run(func(uow *state.UnitOfWork) error {
		var err error
		result, err = f.liq.Liquidate(context.Background(), uow, liquidator, "WETH", debtor, e18(20_000))
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, uint256.MustFromDecimal("12500000000000000000"), result.Base)
	assert.Equal(t, uint256.MustFromDecimal("1250000000000000000"), result.Bonus)
	assert.Equal(t, uint256.MustFromDecimal("13750000000000000000"), result.Seized)
	assert.Equal(t, fpmath.MaxUint256(), result.EndingHealthFactor)

	assert.True(t, f.debt.Debt(debtor).IsZero())
	assert.Equal(t, uint256.MustFromDecimal("6250000000000000000"), f.collateral.Balance(debtor, "WETH"))
	assert.Equal(t, result.Seized, f.weth.BalanceOf(liquidator))
	assert.True(t, f.dsc.BalanceOf(liquidator).IsZero())
	assert.Equal(t, e18(20_000), f.dsc.TotalSupply())
}

func TestLiquidation_BonusIsTenPercent(t *testing.T) {
	f := newFixture(t)
	bonus, err := f.liq.Bonus(e18(1))
	require.NoError(t, err)
	assert.Equal(t, uint256.MustFromDecimal("100000000000000000"), bonus)
}

func TestLiquidation_PartialCoverNotImproved(t *testing.T) {
	f := newFixture(t)
	debtor, liquidator := uuid.New(), uuid.New()
	f.open(debtor, e18(20), e18(20_000))
	f.open(liquidator, e18(100), e18(20_000))
	f.setPrice(1600)

	err := f.run(func(uow *state.UnitOfWork) error {
		_, err := f.liq.Liquidate(context.Background(), uow, liquidator, "WETH", debtor, e18(1_600))
		return err
	})
	assert.ErrorIs(t, err, state.ErrHealthFactorNotImproved)
	assert.Equal(t, e18(20_000), f.debt.Debt(debtor))
	assert.Equal(t, e18(20), f.collateral.Balance(debtor, "WETH"))
	assert.Equal(t, e18(20_000), f.dsc.BalanceOf(liquidator))
}

func TestLiquidation_ZeroDebtToCover(t *testing.T) {
	f := newFixture(t)
	err := f.run(func(uow *state.UnitOfWork) error {
		_, err := f.liq.Liquidate(context.Background(), uow, uuid.New(), "WETH", uuid.New(), new(uint256.Int))
		return err
	})
	assert.ErrorIs(t, err, state.ErrInvalidAmount)
}

func TestLiquidation_LiquidatorWithoutDscFailsTransfer(t *testing.T) {
	f := newFixture(t)
	debtor, liquidator := uuid.New(), uuid.New()
	f.open(debtor, e18(20), e18(20_000))
	f.setPrice(1600)

	err := f.run(func(uow *state.UnitOfWork) error {
		_, err := f.liq.Liquidate(context.Background(), uow, liquidator, "WETH", debtor, e18(20_000))
		return err
	})
	assert.ErrorIs(t, err, state.ErrTransferFailure)
	// Collateral pushed to the liquidator before the failed pull is returned
	assert.True(t, f.weth.BalanceOf(liquidator).IsZero())
	assert.Equal(t, e18(20), f.collateral.Balance(debtor, "WETH"))
	assert.Equal(t, e18(20), f.weth.BalanceOf(f.custody))
}
