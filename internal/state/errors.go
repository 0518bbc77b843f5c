package state

import (
	"DSCEngine/internal/ledger"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	ErrInvalidAmount           = errors.New("amount must be greater than zero")
	ErrUnsupportedCollateral   = ledger.ErrUnsupportedCollateral
	ErrConfigMismatch          = errors.New("collateral tokens and price feeds must have the same length")
	ErrTransferFailure         = errors.New("transfer failed")
	ErrMintFailure             = errors.New("mint failed")
	ErrHealthFactorBroken      = errors.New("health factor broken")
	ErrHealthFactorOK          = errors.New("health factor ok")
	ErrHealthFactorNotImproved = errors.New("health factor not improved")
	ErrInsufficientBalance     = ledger.ErrInsufficientBalance
)

// HealthFactorBrokenError reports the ratio that failed the solvency check.
// It matches ErrHealthFactorBroken with errors.Is.
type HealthFactorBrokenError struct {
	User  uuid.UUID
	Ratio *uint256.Int
}

func (e *HealthFactorBrokenError) Error() string {
	return fmt.Sprintf("health factor broken: user %s ratio %s", e.User, e.Ratio.Dec())
}

func (e *HealthFactorBrokenError) Unwrap() error {
	return ErrHealthFactorBroken
}

func transferResult(ok bool, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailure, err)
	}
	if !ok {
		return ErrTransferFailure
	}
	return nil
}

func mintResult(ok bool, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMintFailure, err)
	}
	if !ok {
		return ErrMintFailure
	}
	return nil
}

func requirePositive(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	return nil
}
