package ledger

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalGenerator creates balanced journal batches for engine operations.
// Every batch produced while an operation runs carries that operation's
// sequence and event reference.
type JournalGenerator struct {
	sequence  int64
	eventRef  string
	timestamp int64
}

func NewJournalGenerator(startSequence int64) *JournalGenerator {
	return &JournalGenerator{sequence: startSequence}
}

// Begin sets the context stamped on the next batches.
func (jg *JournalGenerator) Begin(sequence int64, eventRef string, timestamp int64) {
	jg.sequence = sequence
	jg.eventRef = eventRef
	jg.timestamp = timestamp
}

func (jg *JournalGenerator) SetSequence(sequence int64) {
	jg.sequence = sequence
}

// GenerateDeposit moves funds external:deposits -> user:collateral.
func (jg *JournalGenerator) GenerateDeposit(userID uuid.UUID, asset string, amount *uint256.Int) *Batch {
	return jg.single(
		CollateralKey(userID, asset),
		NewExternalAccountKey(SubTypeExternalDeposits, asset),
		asset, amount, JournalTypeDeposit,
	)
}

// GenerateRedeem moves funds user:collateral -> external:withdrawals.
func (jg *JournalGenerator) GenerateRedeem(userID uuid.UUID, asset string, amount *uint256.Int) *Batch {
	return jg.single(
		NewExternalAccountKey(SubTypeExternalWithdrawals, asset),
		CollateralKey(userID, asset),
		asset, amount, JournalTypeRedeem,
	)
}

// GenerateSeize moves the debtor's seized collateral out of the ledger,
// split into the base amount and the liquidation bonus.
func (jg *JournalGenerator) GenerateSeize(debtor uuid.UUID, asset string, base, bonus *uint256.Int) *Batch {
	batch := jg.newBatch(2)
	withdrawals := NewExternalAccountKey(SubTypeExternalWithdrawals, asset)

	if !base.IsZero() {
		batch.Journals = append(batch.Journals,
			jg.journal(batch.BatchID, withdrawals, CollateralKey(debtor, asset), asset, base, JournalTypeLiquidationSeize))
	}
	if !bonus.IsZero() {
		batch.Journals = append(batch.Journals,
			jg.journal(batch.BatchID, withdrawals, CollateralKey(debtor, asset), asset, bonus, JournalTypeLiquidationBonus))
	}
	return batch
}

// GenerateMint moves debt external:issued -> user:debt.
func (jg *JournalGenerator) GenerateMint(userID uuid.UUID, amount *uint256.Int) *Batch {
	return jg.single(
		DebtKey(userID),
		NewExternalAccountKey(SubTypeExternalIssued, DebtAsset),
		DebtAsset, amount, JournalTypeMint,
	)
}

// GenerateBurn moves debt user:debt -> external:burned.
func (jg *JournalGenerator) GenerateBurn(onBehalfOf uuid.UUID, amount *uint256.Int) *Batch {
	return jg.single(
		NewExternalAccountKey(SubTypeExternalBurned, DebtAsset),
		DebtKey(onBehalfOf),
		DebtAsset, amount, JournalTypeBurn,
	)
}

func (jg *JournalGenerator) single(debit, credit AccountKey, asset string, amount *uint256.Int, jt JournalType) *Batch {
	batch := jg.newBatch(1)
	batch.Journals = append(batch.Journals, jg.journal(batch.BatchID, debit, credit, asset, amount, jt))
	return batch
}

func (jg *JournalGenerator) newBatch(capacity int) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  jg.eventRef,
		Sequence:  jg.sequence,
		Timestamp: jg.timestamp,
		Journals:  make([]Journal, 0, capacity),
	}
}

func (jg *JournalGenerator) journal(batchID uuid.UUID, debit, credit AccountKey, asset string, amount *uint256.Int, jt JournalType) Journal {
	return Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      jg.eventRef,
		Sequence:      jg.sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Asset:         asset,
		Amount:        amount.Clone(),
		JournalType:   jt,
		Timestamp:     jg.timestamp,
	}
}
