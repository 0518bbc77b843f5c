package query

import (
	"time"

	"github.com/google/uuid"
)

// Amounts are returned twice: raw base units as a decimal string, and a
// human-readable value scaled by the token's decimals.

// CollateralBalance is one collateral line of a position.
type CollateralBalance struct {
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Formatted string `json:"formatted"`
}

// PositionResponse is a user's projected collateral and debt.
type PositionResponse struct {
	UserID        uuid.UUID           `json:"user_id"`
	Collateral    []CollateralBalance `json:"collateral"`
	Debt          string              `json:"debt"`
	DebtFormatted string              `json:"debt_formatted"`
	AsOfSequence  int64               `json:"as_of_sequence"`
}

// LiquidationResponse is one projected liquidation.
type LiquidationResponse struct {
	Sequence             int64     `json:"sequence"`
	Liquidator           uuid.UUID `json:"liquidator"`
	Debtor               uuid.UUID `json:"debtor"`
	Token                string    `json:"token"`
	DebtCovered          string    `json:"debt_covered"`
	CollateralSeized     string    `json:"collateral_seized"`
	Bonus                string    `json:"bonus"`
	StartingHealthFactor string    `json:"starting_health_factor"`
	EndingHealthFactor   string    `json:"ending_health_factor"`
	Timestamp            time.Time `json:"timestamp"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy         bool     `json:"is_healthy"`
	OperationsChecked int64    `json:"operations_checked"`
	SequenceGaps      []int64  `json:"sequence_gaps,omitempty"`
	HashChainBreaks   []int64  `json:"hash_chain_breaks,omitempty"`
	ConservationError string   `json:"conservation_error,omitempty"`
	ProjectionDrift   []string `json:"projection_drift,omitempty"`
}
