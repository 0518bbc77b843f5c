package projection

import (
	"DSCEngine/internal/core"
	"DSCEngine/internal/observability"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// WorkerName is the watermark row owned by the projection worker.
const WorkerName = "main"

// ProjectionWorker updates projection tables from committed operations.
// The engine drops outputs when this worker's channel is full; projections
// are eventually consistent and can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		lastSeq:   -1,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run loads the watermark and applies outputs until ctx is cancelled or the
// input closes.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	seq, err := LoadWatermark(ctx, pw.db)
	if err != nil {
		return fmt.Errorf("load projection watermark: %w", err)
	}
	pw.lastSeq = seq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			seq := output.Envelope.Sequence
			if seq <= pw.lastSeq {
				continue
			}
			if err := pw.processOutput(ctx, output); err != nil {
				pw.logger.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
				continue
			}
			if seq > pw.lastSeq+1 {
				pw.logger.Warn().Int64("from", pw.lastSeq+1).Int64("to", seq-1).
					Msg("projection gap, rebuild to recover dropped operations")
			}
			pw.lastSeq = seq
		}
	}
}

// LastSequence returns the last applied sequence, -1 if none.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	env := output.Envelope

	start := time.Now()
	for _, d := range BalanceDeltas(output) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (account_path, asset, balance, last_sequence, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (account_path) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = EXCLUDED.last_sequence,
			    updated_at = NOW()
		`, d.AccountPath, d.Asset, d.Delta.String(), env.Sequence); err != nil {
			return fmt.Errorf("balance projection %s: %w", d.AccountPath, err)
		}
	}
	pw.observe("balances", start)

	start = time.Now()
	for _, e := range LiquidationEntries(env) {
		if err := insertLiquidation(ctx, tx, e); err != nil {
			return fmt.Errorf("liquidation projection: %w", err)
		}
	}
	pw.observe("liquidations", start)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermarks (projection_name, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection_name) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, WorkerName, env.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) observe(projection string, start time.Time) {
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(projection).Observe(time.Since(start).Seconds())
	}
}

// BalanceDelta is the net signed change of one account within an operation.
type BalanceDelta struct {
	AccountPath string
	Asset       string
	Delta       *big.Int
}

// BalanceDeltas nets an operation's journals per account, mirroring the
// ledger: debits add, user credits subtract and external credits accumulate.
// Accounts with a zero net change are omitted. The result is sorted by path.
func BalanceDeltas(output core.CoreOutput) []BalanceDelta {
	byPath := make(map[string]*BalanceDelta)
	add := func(path, asset string, v *big.Int) {
		d, ok := byPath[path]
		if !ok {
			d = &BalanceDelta{AccountPath: path, Asset: asset, Delta: new(big.Int)}
			byPath[path] = d
		}
		d.Delta.Add(d.Delta, v)
	}

	for _, b := range output.Batches {
		for _, j := range b.Journals {
			amount := j.Amount.ToBig()
			add(j.DebitAccount.AccountPath(), j.Asset, amount)
			if j.CreditAccount.IsExternal() {
				add(j.CreditAccount.AccountPath(), j.Asset, amount)
			} else {
				add(j.CreditAccount.AccountPath(), j.Asset, new(big.Int).Neg(amount))
			}
		}
	}

	deltas := make([]BalanceDelta, 0, len(byPath))
	for _, d := range byPath {
		if d.Delta.Sign() != 0 {
			deltas = append(deltas, *d)
		}
	}
	sort.Slice(deltas, func(i, k int) bool { return deltas[i].AccountPath < deltas[k].AccountPath })
	return deltas
}

// LoadWatermark returns the last projected sequence, -1 when nothing has
// been projected.
func LoadWatermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermarks WHERE projection_name = $1
	`, WorkerName).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

// RebuildProjections rebuilds every projection table from the event log.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.liquidations`,
		`DELETE FROM projections.watermarks WHERE projection_name = 'main'`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		SELECT account_path, asset, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, asset, amount AS delta, sequence
			FROM event_log.journal
			UNION ALL
			SELECT credit_account, asset,
			       CASE WHEN credit_account LIKE 'external:%' THEN amount ELSE -amount END,
			       sequence
			FROM event_log.journal
		) d
		GROUP BY account_path, asset
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.liquidations
			(sequence, liquidator, debtor, token, debt_covered, collateral_seized, bonus,
			 starting_health_factor, ending_health_factor, timestamp)
		SELECT o.sequence,
		       (e->'data'->>'liquidator')::uuid,
		       (e->'data'->>'debtor')::uuid,
		       e->'data'->>'token',
		       (e->'data'->>'debt_covered')::numeric,
		       (e->'data'->>'collateral_seized')::numeric,
		       (e->'data'->>'bonus')::numeric,
		       (e->'data'->>'starting_health_factor')::numeric,
		       (e->'data'->>'ending_health_factor')::numeric,
		       o.timestamp
		FROM event_log.operations o, jsonb_array_elements(o.payload) e
		WHERE e->>'type' = 'PositionLiquidated'
	`); err != nil {
		return fmt.Errorf("rebuild liquidations: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermarks (projection_name, last_sequence, updated_at)
		SELECT 'main', MAX(sequence), NOW() FROM event_log.operations HAVING MAX(sequence) IS NOT NULL
	`); err != nil {
		return fmt.Errorf("rebuild watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info().Msg("projection rebuild complete")
	return nil
}
