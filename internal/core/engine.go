package core

import (
	"DSCEngine/internal/event"
	"DSCEngine/internal/guard"
	"DSCEngine/internal/ledger"
	"DSCEngine/internal/observability"
	"DSCEngine/internal/oracle"
	"DSCEngine/internal/state"
	"DSCEngine/internal/token"
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CollateralToken is one entry of the ordered collateral list.
type CollateralToken struct {
	Symbol   string
	Decimals uint8
}

// Config is the construction-time configuration. CollateralTokens and
// PriceFeeds are parallel lists.
type Config struct {
	EngineID            uuid.UUID
	CollateralTokens    []CollateralToken
	PriceFeeds          []string
	System              state.SystemConfig
	MaxPriceAge         time.Duration
	IdempotencyCapacity int
}

// Deps are the collaborators and output channels. Nil channels are skipped.
type Deps struct {
	Prices         oracle.PriceSource
	Collateral     map[string]token.Collateral
	Dsc            token.Synthetic
	DBChecker      DBIdempotencyChecker
	Metrics        *observability.Metrics
	Logger         zerolog.Logger
	Clock          func() time.Time
	PersistChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput
	PublishChan    chan<- CoreOutput
}

// CoreOutput is everything the engine emits for one committed operation.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batches    []*ledger.Batch
	StateDelta []byte
}

// Receipt is returned to the caller of a committed operation.
type Receipt struct {
	Sequence    int64
	Operation   event.OperationType
	StateHash   [32]byte
	Events      []event.Event
	Liquidation *state.LiquidationResult
}

// Engine is the collateral engine. All mutating operations and views must
// be called from one goroutine at a time (see Processor).
type Engine struct {
	id       uuid.UUID
	cfg      state.SystemConfig
	registry *ledger.Registry
	oracle   *oracle.Adapter
	dsc      token.Synthetic

	tracker    *ledger.BalanceTracker
	journals   *ledger.JournalGenerator
	validator  *ledger.InvariantValidator
	collateral *state.CollateralLedger
	debt       *state.DebtLedger
	health     *state.HealthCalculator
	liq        *state.LiquidationEngine

	guard       guard.ReentrancyGuard
	sequence    int64
	hasher      *StateHasher
	idempotency *IdempotencyChecker

	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
	publishChan    chan<- CoreOutput
}

// New builds an engine. Unequal token and feed lists fail with
// ErrConfigMismatch before any state is created.
func New(cfg Config, deps Deps) (*Engine, error) {
	if len(cfg.CollateralTokens) != len(cfg.PriceFeeds) {
		return nil, fmt.Errorf("%w: %d tokens, %d price feeds",
			ErrConfigMismatch, len(cfg.CollateralTokens), len(cfg.PriceFeeds))
	}
	if err := state.ValidateSystemConfig(cfg.System); err != nil {
		return nil, fmt.Errorf("system config: %w", err)
	}
	if deps.Prices == nil {
		return nil, fmt.Errorf("price source is required")
	}
	if deps.Dsc == nil {
		return nil, fmt.Errorf("synthetic token is required")
	}

	types := make([]ledger.CollateralType, len(cfg.CollateralTokens))
	bindings := make([]oracle.Binding, len(cfg.CollateralTokens))
	for i, t := range cfg.CollateralTokens {
		types[i] = ledger.CollateralType{Symbol: t.Symbol, Decimals: t.Decimals, PriceFeed: cfg.PriceFeeds[i]}
		bindings[i] = oracle.Binding{Token: t.Symbol, Feed: cfg.PriceFeeds[i], TokenDecimals: t.Decimals}
	}
	registry, err := ledger.NewRegistry(types)
	if err != nil {
		return nil, err
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	adapter := oracle.NewAdapter(deps.Prices, bindings,
		oracle.WithMaxAge(cfg.MaxPriceAge), oracle.WithClock(clock))

	engineID := cfg.EngineID
	if engineID == uuid.Nil {
		engineID = uuid.New()
	}

	tracker := ledger.NewBalanceTracker()
	collateral, err := state.NewCollateralLedger(registry, tracker, deps.Collateral, engineID)
	if err != nil {
		return nil, err
	}
	debt := state.NewDebtLedger(tracker, deps.Dsc, engineID)
	health := state.NewHealthCalculator(cfg.System, registry, tracker, adapter)

	capacity := cfg.IdempotencyCapacity
	if capacity <= 0 {
		capacity = 100_000
	}
	idempotency, err := NewIdempotencyChecker(capacity, deps.DBChecker, deps.Metrics, deps.Logger)
	if err != nil {
		return nil, err
	}

	return &Engine{
		id:             engineID,
		cfg:            cfg.System,
		registry:       registry,
		oracle:         adapter,
		dsc:            deps.Dsc,
		tracker:        tracker,
		journals:       ledger.NewJournalGenerator(0),
		validator:      ledger.NewInvariantValidator(tracker),
		collateral:     collateral,
		debt:           debt,
		health:         health,
		liq:            state.NewLiquidationEngine(cfg.System, health, collateral, debt, adapter),
		hasher:         NewStateHasher(),
		idempotency:    idempotency,
		metrics:        deps.Metrics,
		logger:         deps.Logger,
		now:            clock,
		persistChan:    deps.PersistChan,
		projectionChan: deps.ProjectionChan,
		publishChan:    deps.PublishChan,
	}, nil
}

// ============================================================================
// Public operations
// ============================================================================

func (e *Engine) DepositCollateral(ctx context.Context, user uuid.UUID, symbol string, amount *big.Int) (*Receipt, error) {
	return e.Execute(ctx, &DepositCollateral{Meta: Meta{Caller: user}, Token: symbol, Amount: amount})
}

func (e *Engine) DepositCollateralAndMintDsc(ctx context.Context, user uuid.UUID, symbol string, collateralAmount, mintAmount *big.Int) (*Receipt, error) {
	return e.Execute(ctx, &DepositCollateralAndMintDsc{
		Meta:             Meta{Caller: user},
		Token:            symbol,
		CollateralAmount: collateralAmount,
		MintAmount:       mintAmount,
	})
}

func (e *Engine) RedeemCollateral(ctx context.Context, user uuid.UUID, symbol string, amount *big.Int) (*Receipt, error) {
	return e.Execute(ctx, &RedeemCollateral{Meta: Meta{Caller: user}, Token: symbol, Amount: amount})
}

func (e *Engine) RedeemCollateralForDsc(ctx context.Context, user uuid.UUID, symbol string, collateralAmount, burnAmount *big.Int) (*Receipt, error) {
	return e.Execute(ctx, &RedeemCollateralForDsc{
		Meta:             Meta{Caller: user},
		Token:            symbol,
		CollateralAmount: collateralAmount,
		BurnAmount:       burnAmount,
	})
}

func (e *Engine) MintDsc(ctx context.Context, user uuid.UUID, amount *big.Int) (*Receipt, error) {
	return e.Execute(ctx, &MintDsc{Meta: Meta{Caller: user}, Amount: amount})
}

func (e *Engine) BurnDsc(ctx context.Context, user uuid.UUID, amount *big.Int) (*Receipt, error) {
	return e.Execute(ctx, &BurnDsc{Meta: Meta{Caller: user}, Amount: amount})
}

func (e *Engine) Liquidate(ctx context.Context, liquidator uuid.UUID, symbol string, debtor uuid.UUID, debtToCover *big.Int) (*Receipt, error) {
	return e.Execute(ctx, &Liquidate{
		Meta:        Meta{Caller: liquidator},
		Token:       symbol,
		Debtor:      debtor,
		DebtToCover: debtToCover,
	})
}

// ============================================================================
// Pipeline
// ============================================================================

// Execute runs one command to completion: guard, idempotency, staged ledger
// mutations and checks, external effects, then commit. Any failure leaves
// ledgers and collaborators as they were.
func (e *Engine) Execute(ctx context.Context, cmd Command) (*Receipt, error) {
	start := time.Now()
	op := cmd.Operation()
	meta := cmd.Metadata()

	var (
		receipt *Receipt
		entered bool
	)
	err := e.guard.Run(func() error {
		entered = true
		var err error
		receipt, err = e.execute(ctx, cmd, start)
		return err
	})
	if !entered {
		if e.metrics != nil {
			e.metrics.GuardRejections.Inc()
		}
		return nil, e.reject(op, meta, err)
	}
	return receipt, err
}

// execute runs cmd while the reentrancy guard is held.
func (e *Engine) execute(ctx context.Context, cmd Command, start time.Time) (*Receipt, error) {
	op := cmd.Operation()
	meta := cmd.Metadata()

	if meta.IdempotencyKey != "" && e.idempotency.IsDuplicate(ctx, op.String(), meta.IdempotencyKey) {
		return nil, e.reject(op, meta, fmt.Errorf("%w: %s", ErrDuplicateOperation, meta.IdempotencyKey))
	}

	ts := e.now()
	seq := e.sequence
	ref := meta.IdempotencyKey
	if ref == "" {
		ref = fmt.Sprintf("%s:%d", op, seq)
	}
	e.journals.Begin(seq, ref, ts.UnixMicro())

	uow := state.NewUnitOfWork(e.tracker, e.journals)
	liq, err := e.dispatch(ctx, uow, cmd)
	if err != nil {
		uow.Rollback()
		return nil, e.reject(op, meta, err)
	}
	if err := uow.Settle(ctx); err != nil {
		if e.metrics != nil {
			e.metrics.Compensations.WithLabelValues(op.String()).Inc()
		}
		return nil, e.reject(op, meta, err)
	}

	receipt := e.commit(op, meta, uow, ts)
	receipt.Liquidation = liq

	if e.metrics != nil {
		e.metrics.OperationsApplied.WithLabelValues(op.String()).Inc()
		e.metrics.OperationDuration.WithLabelValues(op.String()).Observe(time.Since(start).Seconds())
		e.metrics.Sequence.Set(float64(e.sequence))
	}
	return receipt, nil
}

func (e *Engine) dispatch(ctx context.Context, uow *state.UnitOfWork, cmd Command) (*state.LiquidationResult, error) {
	caller := cmd.Metadata().Caller

	switch c := cmd.(type) {
	case *DepositCollateral:
		amount, err := toAmount(c.Amount)
		if err != nil {
			return nil, err
		}
		return nil, e.collateral.Deposit(uow, caller, c.Token, amount)

	case *DepositCollateralAndMintDsc:
		collateralAmount, err := toAmount(c.CollateralAmount)
		if err != nil {
			return nil, err
		}
		mintAmount, err := toAmount(c.MintAmount)
		if err != nil {
			return nil, err
		}
		if err := e.collateral.Deposit(uow, caller, c.Token, collateralAmount); err != nil {
			return nil, err
		}
		if err := e.debt.Mint(uow, caller, mintAmount); err != nil {
			return nil, err
		}
		return nil, e.assertSolvent(ctx, caller)

	case *RedeemCollateral:
		amount, err := toAmount(c.Amount)
		if err != nil {
			return nil, err
		}
		if err := e.collateral.Redeem(uow, caller, caller, c.Token, amount); err != nil {
			return nil, err
		}
		return nil, e.assertSolvent(ctx, caller)

	case *RedeemCollateralForDsc:
		collateralAmount, err := toAmount(c.CollateralAmount)
		if err != nil {
			return nil, err
		}
		burnAmount, err := toAmount(c.BurnAmount)
		if err != nil {
			return nil, err
		}
		if err := e.debt.Burn(uow, burnAmount, caller, caller); err != nil {
			return nil, err
		}
		if err := e.collateral.Redeem(uow, caller, caller, c.Token, collateralAmount); err != nil {
			return nil, err
		}
		return nil, e.assertSolvent(ctx, caller)

	case *MintDsc:
		amount, err := toAmount(c.Amount)
		if err != nil {
			return nil, err
		}
		if err := e.debt.Mint(uow, caller, amount); err != nil {
			return nil, err
		}
		return nil, e.assertSolvent(ctx, caller)

	case *BurnDsc:
		amount, err := toAmount(c.Amount)
		if err != nil {
			return nil, err
		}
		if err := e.debt.Burn(uow, amount, caller, caller); err != nil {
			return nil, err
		}
		return nil, e.assertSolvent(ctx, caller)

	case *Liquidate:
		debtToCover, err := toAmount(c.DebtToCover)
		if err != nil {
			return nil, err
		}
		return e.liq.Liquidate(ctx, uow, caller, c.Token, c.Debtor, debtToCover)

	default:
		return nil, fmt.Errorf("unhandled command type %T", cmd)
	}
}

func (e *Engine) assertSolvent(ctx context.Context, user uuid.UUID) error {
	err := e.health.AssertSolvent(ctx, user)
	if e.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = KindOf(err).String()
		}
		e.metrics.HealthChecks.WithLabelValues(outcome).Inc()
	}
	return err
}

// commit stamps the settled unit of work with a sequence and state hash and
// hands it to the output channels.
func (e *Engine) commit(op event.OperationType, meta Meta, uow *state.UnitOfWork, ts time.Time) *Receipt {
	batches := uow.Batches()
	for _, b := range batches {
		if err := e.validator.ValidateBatchBalance(b); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
	}

	hashStart := time.Now()
	digest := StateDigest(batches, e.balanceBytes)
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, digest)
	if e.metrics != nil {
		e.metrics.StateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	envelope := &event.EventEnvelope{
		Sequence:       e.sequence,
		IdempotencyKey: meta.IdempotencyKey,
		Operation:      op,
		Caller:         meta.Caller,
		Timestamp:      ts,
		Events:         uow.Events(),
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	output := CoreOutput{Envelope: envelope, Batches: batches, StateDelta: digest}

	// Persistence blocks so nothing committed is lost; projections and the
	// outbound publisher drop when full and recover from the log.
	if e.persistChan != nil {
		e.persistChan <- output
	}
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.Inc()
			}
		}
	}
	if e.publishChan != nil {
		select {
		case e.publishChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}

	if meta.IdempotencyKey != "" {
		e.idempotency.MarkProcessed(op.String(), meta.IdempotencyKey)
	}
	e.sequence++

	e.observeCommit(envelope, batches)

	return &Receipt{
		Sequence:  envelope.Sequence,
		Operation: op,
		StateHash: stateHash,
		Events:    envelope.Events,
	}
}

func (e *Engine) observeCommit(env *event.EventEnvelope, batches []*ledger.Batch) {
	for _, ev := range env.Events {
		if liq, ok := ev.(*event.PositionLiquidated); ok {
			e.logger.Info().
				Int64("sequence", env.Sequence).
				Str("liquidator", liq.Liquidator.String()).
				Str("debtor", liq.Debtor.String()).
				Str("token", liq.Token).
				Str("debt_covered", liq.DebtCovered.Dec()).
				Str("collateral_seized", liq.CollateralSeized.Dec()).
				Msg("position liquidated")
		}
	}

	if e.metrics == nil {
		return
	}
	for _, b := range batches {
		for _, j := range b.Journals {
			e.metrics.Journals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
	for _, ev := range env.Events {
		if liq, ok := ev.(*event.PositionLiquidated); ok {
			ct, _ := e.registry.Lookup(liq.Token)
			e.metrics.LiquidationsTotal.WithLabelValues(liq.Token).Inc()
			e.metrics.CollateralSeized.WithLabelValues(liq.Token).Add(units(liq.CollateralSeized, ct.Decimals))
		}
	}
	e.metrics.DebtOutstanding.Set(units(e.tracker.SumUsers(ledger.SubTypeDebt, ledger.DebtAsset), 18))
	for _, ct := range e.registry.Types() {
		e.metrics.CollateralCustody.WithLabelValues(ct.Symbol).
			Set(units(e.tracker.SumUsers(ledger.SubTypeCollateral, ct.Symbol), ct.Decimals))
	}
}

func (e *Engine) reject(op event.OperationType, meta Meta, err error) error {
	kind := KindOf(err)
	e.logger.Debug().
		Err(err).
		Str("operation", op.String()).
		Str("caller", meta.Caller.String()).
		Str("kind", kind.String()).
		Msg("operation rejected")

	if e.metrics != nil {
		e.metrics.OperationsRejected.WithLabelValues(op.String(), kind.String()).Inc()
		if kind == KindOracleFailure {
			e.metrics.OracleRejections.WithLabelValues(oracleReason(err)).Inc()
		}
	}
	return err
}

func oracleReason(err error) string {
	switch {
	case errors.Is(err, oracle.ErrStalePrice):
		return "stale"
	case errors.Is(err, oracle.ErrInvalidPrice):
		return "invalid"
	default:
		return "missing"
	}
}

func (e *Engine) balanceBytes(key ledger.AccountKey) [32]byte {
	return e.tracker.GetBalance(key).Bytes32()
}

func units(v *uint256.Int, decimals uint8) float64 {
	return decimal.NewFromBigInt(v.ToBig(), -int32(decimals)).InexactFloat64()
}
