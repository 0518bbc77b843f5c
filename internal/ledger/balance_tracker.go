package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBalanceOverflow     = errors.New("balance overflow")
)

// BalanceTracker maintains in-memory account balances.
// Not thread-safe: owned by the engine goroutine.
type BalanceTracker struct {
	balances map[AccountKey]*uint256.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*uint256.Int),
	}
}

// ApplyBatch applies all journals in a batch or none of them. A user account
// that would go negative fails the whole batch with ErrInsufficientBalance.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	staged := make(map[AccountKey]*uint256.Int)
	current := func(k AccountKey) *uint256.Int {
		if v, ok := staged[k]; ok {
			return v
		}
		return bt.GetBalance(k)
	}

	for _, j := range batch.Journals {
		debit, overflow := new(uint256.Int).AddOverflow(current(j.DebitAccount), j.Amount)
		if overflow {
			return fmt.Errorf("%w: %s", ErrBalanceOverflow, j.DebitAccount.AccountPath())
		}
		staged[j.DebitAccount] = debit

		credit := current(j.CreditAccount)
		if j.CreditAccount.IsExternal() {
			next, overflow := new(uint256.Int).AddOverflow(credit, j.Amount)
			if overflow {
				return fmt.Errorf("%w: %s", ErrBalanceOverflow, j.CreditAccount.AccountPath())
			}
			staged[j.CreditAccount] = next
			continue
		}
		if credit.Lt(j.Amount) {
			return fmt.Errorf("%w: %s has %s, needs %s",
				ErrInsufficientBalance, j.CreditAccount.AccountPath(), credit.Dec(), j.Amount.Dec())
		}
		staged[j.CreditAccount] = new(uint256.Int).Sub(credit, j.Amount)
	}

	for k, v := range staged {
		bt.balances[k] = v
	}
	return nil
}

// RevertBatch undoes a batch previously applied with ApplyBatch.
func (bt *BalanceTracker) RevertBatch(batch *Batch) {
	for i := len(batch.Journals) - 1; i >= 0; i-- {
		j := batch.Journals[i]
		bt.balances[j.DebitAccount] = new(uint256.Int).Sub(bt.GetBalance(j.DebitAccount), j.Amount)
		if j.CreditAccount.IsExternal() {
			bt.balances[j.CreditAccount] = new(uint256.Int).Sub(bt.GetBalance(j.CreditAccount), j.Amount)
		} else {
			bt.balances[j.CreditAccount] = new(uint256.Int).Add(bt.GetBalance(j.CreditAccount), j.Amount)
		}
	}
}

// GetBalance returns a copy of the current balance of an account.
func (bt *BalanceTracker) GetBalance(key AccountKey) *uint256.Int {
	if v, ok := bt.balances[key]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// SetBalance overwrites a balance. Used for snapshot restore only.
func (bt *BalanceTracker) SetBalance(key AccountKey, v *uint256.Int) {
	bt.balances[key] = v.Clone()
}

func (bt *BalanceTracker) GetUserCollateral(userID uuid.UUID, asset string) *uint256.Int {
	return bt.GetBalance(CollateralKey(userID, asset))
}

func (bt *BalanceTracker) GetUserDebt(userID uuid.UUID) *uint256.Int {
	return bt.GetBalance(DebtKey(userID))
}

// SumUsers totals the balances of every user account with the given sub-type
// and asset.
func (bt *BalanceTracker) SumUsers(subType AccountSubType, asset string) *uint256.Int {
	total := new(uint256.Int)
	for k, v := range bt.balances {
		if k.Scope == AccountScopeUser && k.SubType == subType && k.Asset == asset {
			total.Add(total, v)
		}
	}
	return total
}

// Snapshot returns a copy of all balances.
func (bt *BalanceTracker) Snapshot() map[AccountKey]*uint256.Int {
	snapshot := make(map[AccountKey]*uint256.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v.Clone()
	}
	return snapshot
}
