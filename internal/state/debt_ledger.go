package state

import (
	"DSCEngine/internal/event"
	"DSCEngine/internal/ledger"
	tok "DSCEngine/internal/token"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// DebtLedger owns per-user minted debt and drives the synthetic token.
type DebtLedger struct {
	tracker *ledger.BalanceTracker
	dsc     tok.Synthetic
	custody uuid.UUID
}

func NewDebtLedger(tracker *ledger.BalanceTracker, dsc tok.Synthetic, custody uuid.UUID) *DebtLedger {
	return &DebtLedger{tracker: tracker, dsc: dsc, custody: custody}
}

func (dl *DebtLedger) Debt(user uuid.UUID) *uint256.Int {
	return dl.tracker.GetUserDebt(user)
}

// Mint records new debt for user and issues the units at settlement.
// Minting is provisional until the caller's solvency check passes.
func (dl *DebtLedger) Mint(uow *UnitOfWork, user uuid.UUID, amount *uint256.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}

	amount = amount.Clone()
	if err := uow.Stage(uow.Journals().GenerateMint(user, amount)); err != nil {
		return fmt.Errorf("mint: %w", err)
	}
	uow.Emit(&event.DscMinted{User: user, Amount: amount})

	uow.AddEffect(Effect{
		Name: "mint " + ledger.DebtAsset,
		Do: func(ctx context.Context) error {
			return mintResult(dl.dsc.Mint(ctx, user, amount))
		},
		Undo: func(ctx context.Context) error {
			return dl.dsc.Burn(ctx, user, amount)
		},
	})
	return nil
}

// Burn repays amount of onBehalfOf's debt with units taken from payer. The
// units are pulled into custody and destroyed there.
func (dl *DebtLedger) Burn(uow *UnitOfWork, amount *uint256.Int, onBehalfOf, payer uuid.UUID) error {
	if err := requirePositive(amount); err != nil {
		return err
	}

	amount = amount.Clone()
	if err := uow.Stage(uow.Journals().GenerateBurn(onBehalfOf, amount)); err != nil {
		return fmt.Errorf("burn: %w", err)
	}
	uow.Emit(&event.DscBurned{OnBehalfOf: onBehalfOf, Payer: payer, Amount: amount})

	uow.AddEffect(Effect{
		Name: "pull " + ledger.DebtAsset,
		Do: func(ctx context.Context) error {
			return transferResult(dl.dsc.TransferFrom(ctx, payer, dl.custody, amount))
		},
		Undo: func(ctx context.Context) error {
			return transferResult(dl.dsc.Transfer(ctx, dl.custody, payer, amount))
		},
	})
	uow.AddEffect(Effect{
		Name: "burn " + ledger.DebtAsset,
		Do: func(ctx context.Context) error {
			if err := dl.dsc.Burn(ctx, dl.custody, amount); err != nil {
				return fmt.Errorf("%w: %v", ErrTransferFailure, err)
			}
			return nil
		},
		Undo: func(ctx context.Context) error {
			return mintResult(dl.dsc.Mint(ctx, dl.custody, amount))
		},
	})
	return nil
}
