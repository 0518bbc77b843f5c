// Package token defines the asset collaborators the engine moves value
// through, plus an in-memory implementation.
package token

import (
	"context"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Collateral is an approved collateral asset. A false return without error
// means the transfer did not confirm.
type Collateral interface {
	TransferFrom(ctx context.Context, from, to uuid.UUID, amount *uint256.Int) (bool, error)
	Transfer(ctx context.Context, from, to uuid.UUID, amount *uint256.Int) (bool, error)
}

// Synthetic is the pegged unit the engine issues. Mint and Burn are only
// honoured for the current owner.
type Synthetic interface {
	Collateral
	Mint(ctx context.Context, to uuid.UUID, amount *uint256.Int) (bool, error)
	Burn(ctx context.Context, from uuid.UUID, amount *uint256.Int) error
}

// Ledger exposes holder balances for views and tests.
type Ledger interface {
	BalanceOf(holder uuid.UUID) *uint256.Int
	TotalSupply() *uint256.Int
}
