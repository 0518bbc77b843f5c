package ledger

import (
	"fmt"

	"github.com/holiman/uint256"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed and balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateCollateralConservation verifies that the collateral held for users
// equals everything deposited minus everything withdrawn or seized.
func (v *InvariantValidator) ValidateCollateralConservation(asset string) error {
	held := v.tracker.SumUsers(SubTypeCollateral, asset)
	in := v.tracker.GetBalance(NewExternalAccountKey(SubTypeExternalDeposits, asset))
	out := v.tracker.GetBalance(NewExternalAccountKey(SubTypeExternalWithdrawals, asset))

	expected, underflow := new(uint256.Int).SubOverflow(in, out)
	if underflow {
		return fmt.Errorf("collateral %s: withdrawn %s exceeds deposited %s", asset, out.Dec(), in.Dec())
	}
	if !held.Eq(expected) {
		return fmt.Errorf("collateral %s: users hold %s, flows imply %s", asset, held.Dec(), expected.Dec())
	}
	return nil
}

// ValidateDebtConservation verifies that outstanding user debt equals
// issued minus burned.
func (v *InvariantValidator) ValidateDebtConservation() error {
	owed := v.tracker.SumUsers(SubTypeDebt, DebtAsset)
	issued := v.tracker.GetBalance(NewExternalAccountKey(SubTypeExternalIssued, DebtAsset))
	burned := v.tracker.GetBalance(NewExternalAccountKey(SubTypeExternalBurned, DebtAsset))

	expected, underflow := new(uint256.Int).SubOverflow(issued, burned)
	if underflow {
		return fmt.Errorf("debt: burned %s exceeds issued %s", burned.Dec(), issued.Dec())
	}
	if !owed.Eq(expected) {
		return fmt.Errorf("debt: users owe %s, flows imply %s", owed.Dec(), expected.Dec())
	}
	return nil
}

// ValidateGlobal runs every conservation check for the given collateral set.
func (v *InvariantValidator) ValidateGlobal(assets []string) error {
	for _, asset := range assets {
		if err := v.ValidateCollateralConservation(asset); err != nil {
			return err
		}
	}
	return v.ValidateDebtConservation()
}
