package event

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// PositionLiquidated summarizes a completed liquidation.
type PositionLiquidated struct {
	Liquidator           uuid.UUID    `json:"liquidator"`
	Debtor               uuid.UUID    `json:"debtor"`
	Token                string       `json:"token"`
	DebtCovered          *uint256.Int `json:"debt_covered"`
	CollateralSeized     *uint256.Int `json:"collateral_seized"`
	Bonus                *uint256.Int `json:"bonus"`
	StartingHealthFactor *uint256.Int `json:"starting_health_factor"`
	EndingHealthFactor   *uint256.Int `json:"ending_health_factor"`
}

func (e *PositionLiquidated) EventType() EventType {
	return EventTypePositionLiquidated
}

func (e *PositionLiquidated) Account() uuid.UUID {
	return e.Debtor
}
