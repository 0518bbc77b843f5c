package query

import (
	"DSCEngine/internal/core"
	"DSCEngine/internal/ledger"
	fpmath "DSCEngine/internal/math"
	"DSCEngine/internal/persistence"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// QueryService provides read-only access to projection tables and the
// event log. Responses carry as_of_sequence, the projection watermark.
type QueryService struct {
	db       *sql.DB
	decimals map[string]uint8 // collateral symbol -> token decimals
}

// NewQueryService takes the collateral decimals used to format amounts.
func NewQueryService(db *sql.DB, decimals map[string]uint8) *QueryService {
	return &QueryService{db: db, decimals: decimals}
}

// GetPosition returns a user's projected collateral balances and debt.
func (qs *QueryService) GetPosition(ctx context.Context, userID uuid.UUID) (*PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, asset, balance::text
		FROM projections.balances
		WHERE account_path LIKE $1
		ORDER BY account_path
	`, fmt.Sprintf("user:%s:%%", userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &PositionResponse{
		UserID:        userID,
		Collateral:    []CollateralBalance{},
		Debt:          "0",
		DebtFormatted: "0",
		AsOfSequence:  asOfSeq,
	}
	for rows.Next() {
		var path, asset, balance string
		if err := rows.Scan(&path, &asset, &balance); err != nil {
			return nil, err
		}
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, err
		}
		amount, err := uint256.FromDecimal(balance)
		if err != nil {
			return nil, fmt.Errorf("projected balance of %s: %w", path, err)
		}

		switch key.SubType {
		case ledger.SubTypeDebt:
			resp.Debt = amount.Dec()
			resp.DebtFormatted = fpmath.FormatUnits(amount, fpmath.PrecisionDecimals)
		case ledger.SubTypeCollateral:
			if amount.IsZero() {
				continue
			}
			resp.Collateral = append(resp.Collateral, CollateralBalance{
				Token:     asset,
				Amount:    amount.Dec(),
				Formatted: fpmath.FormatUnits(amount, qs.decimals[asset]),
			})
		}
	}
	return resp, rows.Err()
}

// GetLiquidationHistory returns liquidations where the user was debtor or
// liquidator, newest first. beforeSequence pages backwards.
func (qs *QueryService) GetLiquidationHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]LiquidationResponse, error) {
	query := `
		SELECT sequence, liquidator, debtor, token, debt_covered::text, collateral_seized::text,
		       bonus::text, starting_health_factor::text, ending_health_factor::text, timestamp
		FROM projections.liquidations
		WHERE (debtor = $1 OR liquidator = $1)
	`
	args := []interface{}{userID}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []LiquidationResponse{}
	for rows.Next() {
		var r LiquidationResponse
		if err := rows.Scan(
			&r.Sequence, &r.Liquidator, &r.Debtor, &r.Token, &r.DebtCovered, &r.CollateralSeized,
			&r.Bonus, &r.StartingHealthFactor, &r.EndingHealthFactor, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetJournalHistory returns journal entries touching any of the user's
// accounts, newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", userID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset, amount::text, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, batch_index DESC, entry_index DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []JournalHistoryEntry{}
	for rows.Next() {
		var (
			e  JournalHistoryEntry
			jt int32
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Asset, &e.Amount,
			&jt, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.JournalType = ledger.JournalType(jt).String()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity replays the whole operation log into a scratch ledger. It
// recomputes every chained state hash, checks custody conservation on the
// result and compares the balance projection against it.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	const pageSize = 1000

	report := &IntegrityReport{}
	tracker := ledger.NewBalanceTracker()
	balance := func(k ledger.AccountKey) [32]byte { return tracker.GetBalance(k).Bytes32() }
	loader := persistence.NewSnapshotManager(qs.db)
	assets := make(map[string]bool)

	prev := core.GenesisHash()
	next := int64(0)
	for {
		records, err := loader.LoadOperationsFrom(ctx, next, pageSize)
		if err != nil {
			return nil, fmt.Errorf("load operations from %d: %w", next, err)
		}
		if len(records) == 0 {
			break
		}

		for _, rec := range records {
			if rec.Sequence != next {
				report.SequenceGaps = append(report.SequenceGaps, next)
			}
			for _, b := range rec.Batches {
				if err := tracker.ApplyBatch(b); err != nil {
					return nil, fmt.Errorf("apply sequence %d: %w", rec.Sequence, err)
				}
				for _, j := range b.Journals {
					if j.Asset != ledger.DebtAsset {
						assets[j.Asset] = true
					}
				}
			}

			computed := core.ChainHash(prev, rec.Sequence, core.StateDigest(rec.Batches, balance))
			if computed != rec.StateHash {
				report.HashChainBreaks = append(report.HashChainBreaks, rec.Sequence)
			}
			// Continue from the stored hash so a break does not cascade
			prev = rec.StateHash
			next = rec.Sequence + 1
			report.OperationsChecked++
		}
	}

	symbols := make([]string, 0, len(assets))
	for a := range assets {
		symbols = append(symbols, a)
	}
	sort.Strings(symbols)
	if err := ledger.NewInvariantValidator(tracker).ValidateGlobal(symbols); err != nil {
		report.ConservationError = err.Error()
	}

	drift, err := qs.projectionDrift(ctx, tracker)
	if err != nil {
		return nil, err
	}
	report.ProjectionDrift = drift

	report.IsHealthy = len(report.SequenceGaps) == 0 &&
		len(report.HashChainBreaks) == 0 &&
		report.ConservationError == "" &&
		len(report.ProjectionDrift) == 0
	return report, nil
}

// projectionDrift lists projected accounts whose balance differs from the
// replayed ledger. Accounts missing from the projection are not reported.
func (qs *QueryService) projectionDrift(ctx context.Context, tracker *ledger.BalanceTracker) ([]string, error) {
	rows, err := qs.db.QueryContext(ctx, `SELECT account_path, balance::text FROM projections.balances`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drift []string
	for rows.Next() {
		var path, balance string
		if err := rows.Scan(&path, &balance); err != nil {
			return nil, err
		}
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			drift = append(drift, path)
			continue
		}
		if strings.HasPrefix(balance, "-") {
			drift = append(drift, path)
			continue
		}
		projected, err := uint256.FromDecimal(balance)
		if err != nil || !projected.Eq(tracker.GetBalance(key)) {
			drift = append(drift, path)
		}
	}
	return drift, rows.Err()
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermarks WHERE projection_name = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	}
	return limit
}
