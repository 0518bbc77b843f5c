package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeRedeem
	JournalTypeLiquidationSeize
	JournalTypeLiquidationBonus
	JournalTypeMint
	JournalTypeBurn
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeRedeem:
		return "redeem"
	case JournalTypeLiquidationSeize:
		return "liquidation_seize"
	case JournalTypeLiquidationBonus:
		return "liquidation_bonus"
	case JournalTypeMint:
		return "mint"
	case JournalTypeBurn:
		return "burn"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string
	Sequence      int64
	DebitAccount  AccountKey   // balance increases
	CreditAccount AccountKey   // balance decreases (external accounts accumulate instead)
	Asset         string
	Amount        *uint256.Int // always positive
	JournalType   JournalType
	Timestamp     int64 // epoch microseconds
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each journal moves one positive
// amount between two accounts of the same asset, so every batch is balanced
// by construction.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount == nil || j.Amount.IsZero() {
			return fmt.Errorf("journal %s has non-positive amount", j.JournalID)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.Asset != j.Asset || j.CreditAccount.Asset != j.Asset {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}

// Renumber stamps the batch and its journals with the committed sequence.
func (b *Batch) Renumber(sequence int64) {
	b.Sequence = sequence
	for i := range b.Journals {
		b.Journals[i].Sequence = sequence
	}
}
