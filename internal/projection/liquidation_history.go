package projection

import (
	"DSCEngine/internal/event"
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// LiquidationEntry is one row of projections.liquidations.
type LiquidationEntry struct {
	Sequence             int64
	Liquidator           uuid.UUID
	Debtor               uuid.UUID
	Token                string
	DebtCovered          string
	CollateralSeized     string
	Bonus                string
	StartingHealthFactor string
	EndingHealthFactor   string
	Timestamp            time.Time
}

// LiquidationEntries extracts the liquidation records of one operation.
func LiquidationEntries(env *event.EventEnvelope) []LiquidationEntry {
	var entries []LiquidationEntry
	for _, ev := range env.Events {
		liq, ok := ev.(*event.PositionLiquidated)
		if !ok {
			continue
		}
		entries = append(entries, LiquidationEntry{
			Sequence:             env.Sequence,
			Liquidator:           liq.Liquidator,
			Debtor:               liq.Debtor,
			Token:                liq.Token,
			DebtCovered:          liq.DebtCovered.Dec(),
			CollateralSeized:     liq.CollateralSeized.Dec(),
			Bonus:                liq.Bonus.Dec(),
			StartingHealthFactor: liq.StartingHealthFactor.Dec(),
			EndingHealthFactor:   liq.EndingHealthFactor.Dec(),
			Timestamp:            env.Timestamp,
		})
	}
	return entries
}

func insertLiquidation(ctx context.Context, tx *sql.Tx, e LiquidationEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.liquidations
			(sequence, liquidator, debtor, token, debt_covered, collateral_seized, bonus,
			 starting_health_factor, ending_health_factor, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (sequence) DO NOTHING
	`, e.Sequence, e.Liquidator, e.Debtor, e.Token, e.DebtCovered, e.CollateralSeized, e.Bonus,
		e.StartingHealthFactor, e.EndingHealthFactor, e.Timestamp)
	return err
}
