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

// CollateralLedger owns per-user collateral balances. Collateral sits in the
// custody account while it is deposited.
type CollateralLedger struct {
	registry *ledger.Registry
	tracker  *ledger.BalanceTracker
	tokens   map[string]tok.Collateral
	custody  uuid.UUID
}

// NewCollateralLedger requires a token collaborator for every registered
// collateral type.
func NewCollateralLedger(
	registry *ledger.Registry,
	tracker *ledger.BalanceTracker,
	tokens map[string]tok.Collateral,
	custody uuid.UUID,
) (*CollateralLedger, error) {
	bound := make(map[string]tok.Collateral, len(tokens))
	for _, symbol := range registry.Symbols() {
		t, ok := tokens[symbol]
		if !ok {
			return nil, fmt.Errorf("%w: no token for collateral %s", ErrConfigMismatch, symbol)
		}
		bound[symbol] = t
	}
	return &CollateralLedger{
		registry: registry,
		tracker:  tracker,
		tokens:   bound,
		custody:  custody,
	}, nil
}

func (cl *CollateralLedger) Registry() *ledger.Registry {
	return cl.registry
}

func (cl *CollateralLedger) Balance(user uuid.UUID, symbol string) *uint256.Int {
	return cl.tracker.GetUserCollateral(user, symbol)
}

// Deposit credits amount to user and pulls it into custody at settlement.
func (cl *CollateralLedger) Deposit(uow *UnitOfWork, user uuid.UUID, symbol string, amount *uint256.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	if _, err := cl.registry.Lookup(symbol); err != nil {
		return err
	}

	amount = amount.Clone()
	if err := uow.Stage(uow.Journals().GenerateDeposit(user, symbol, amount)); err != nil {
		return fmt.Errorf("deposit %s: %w", symbol, err)
	}
	uow.Emit(&event.CollateralDeposited{User: user, Token: symbol, Amount: amount})

	t := cl.tokens[symbol]
	uow.AddEffect(Effect{
		Name: "pull " + symbol,
		Do: func(ctx context.Context) error {
			return transferResult(t.TransferFrom(ctx, user, cl.custody, amount))
		},
		Undo: func(ctx context.Context) error {
			return transferResult(t.Transfer(ctx, cl.custody, user, amount))
		},
	})
	return nil
}

// Redeem debits from and pushes the collateral to to at settlement. The
// caller is responsible for the solvency check.
func (cl *CollateralLedger) Redeem(uow *UnitOfWork, from, to uuid.UUID, symbol string, amount *uint256.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	if _, err := cl.registry.Lookup(symbol); err != nil {
		return err
	}

	amount = amount.Clone()
	if err := uow.Stage(uow.Journals().GenerateRedeem(from, symbol, amount)); err != nil {
		return fmt.Errorf("redeem %s: %w", symbol, err)
	}
	uow.Emit(&event.CollateralRedeemed{From: from, To: to, Token: symbol, Amount: amount})
	cl.push(uow, to, symbol, amount)
	return nil
}

// Seize takes base plus bonus from debtor and sends it to liquidator. The two
// parts are journaled separately so the bonus stays visible.
func (cl *CollateralLedger) Seize(uow *UnitOfWork, debtor, liquidator uuid.UUID, symbol string, base, bonus *uint256.Int) (*uint256.Int, error) {
	total, overflow := new(uint256.Int).AddOverflow(base, bonus)
	if overflow {
		return nil, fmt.Errorf("seize %s: %w", symbol, ledger.ErrBalanceOverflow)
	}
	if err := requirePositive(total); err != nil {
		return nil, err
	}

	if err := uow.Stage(uow.Journals().GenerateSeize(debtor, symbol, base, bonus)); err != nil {
		return nil, fmt.Errorf("seize %s: %w", symbol, err)
	}
	uow.Emit(&event.CollateralRedeemed{From: debtor, To: liquidator, Token: symbol, Amount: total})
	cl.push(uow, liquidator, symbol, total)
	return total, nil
}

func (cl *CollateralLedger) push(uow *UnitOfWork, to uuid.UUID, symbol string, amount *uint256.Int) {
	t := cl.tokens[symbol]
	uow.AddEffect(Effect{
		Name: "push " + symbol,
		Do: func(ctx context.Context) error {
			return transferResult(t.Transfer(ctx, cl.custody, to, amount))
		},
		Undo: func(ctx context.Context) error {
			return transferResult(t.TransferFrom(ctx, to, cl.custody, amount))
		},
	})
}
