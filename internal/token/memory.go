package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrNotOwner            = errors.New("token: caller is not the owner")
)

// Op names a token operation passed to hooks.
type Op string

const (
	OpTransfer     Op = "transfer"
	OpTransferFrom Op = "transferFrom"
	OpMint         Op = "mint"
	OpBurn         Op = "burn"
)

// Hook runs before a token operation moves balances. It receives the same
// context as the operation, so it can call back into whoever invoked the
// token.
type Hook func(ctx context.Context, op Op, from, to uuid.UUID, amount *uint256.Int)

// MemoryToken is an in-memory fungible token. The standalone server uses it as
// the default collaborator; tests use its hook and failure switches.
type MemoryToken struct {
	symbol string

	mu           sync.Mutex
	owner        uuid.UUID
	balances     map[uuid.UUID]*uint256.Int
	supply       *uint256.Int
	hook         Hook
	failTransfer bool
	failMint     bool
}

func NewMemoryToken(symbol string, owner uuid.UUID) *MemoryToken {
	return &MemoryToken{
		symbol:   symbol,
		owner:    owner,
		balances: make(map[uuid.UUID]*uint256.Int),
		supply:   new(uint256.Int),
	}
}

func (t *MemoryToken) Symbol() string { return t.symbol }

func (t *MemoryToken) Owner() uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.owner
}

// TransferOwnership hands minting rights to newOwner.
func (t *MemoryToken) TransferOwnership(caller, newOwner uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if caller != t.owner {
		return ErrNotOwner
	}
	t.owner = newOwner
	return nil
}

func (t *MemoryToken) SetHook(h Hook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hook = h
}

// FailTransfers makes every transfer report non-confirmation.
func (t *MemoryToken) FailTransfers(fail bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failTransfer = fail
}

// FailMints makes every mint report non-confirmation.
func (t *MemoryToken) FailMints(fail bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failMint = fail
}

// Credit creates balance out of thin air. Faucet for tests and local runs.
func (t *MemoryToken) Credit(holder uuid.UUID, amount *uint256.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.add(holder, amount)
	t.supply.Add(t.supply, amount)
}

func (t *MemoryToken) BalanceOf(holder uuid.UUID) *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.balances[holder]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

func (t *MemoryToken) TotalSupply() *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.supply.Clone()
}

func (t *MemoryToken) TransferFrom(ctx context.Context, from, to uuid.UUID, amount *uint256.Int) (bool, error) {
	return t.move(ctx, OpTransferFrom, from, to, amount)
}

func (t *MemoryToken) Transfer(ctx context.Context, from, to uuid.UUID, amount *uint256.Int) (bool, error) {
	return t.move(ctx, OpTransfer, from, to, amount)
}

// MintAs mints on behalf of caller.
func (t *MemoryToken) MintAs(ctx context.Context, caller, to uuid.UUID, amount *uint256.Int) (bool, error) {
	t.runHook(ctx, OpMint, uuid.Nil, to, amount)

	t.mu.Lock()
	defer t.mu.Unlock()
	if caller != t.owner {
		return false, ErrNotOwner
	}
	if t.failMint {
		return false, nil
	}
	t.add(to, amount)
	t.supply.Add(t.supply, amount)
	return true, nil
}

// BurnAs destroys amount held by from on behalf of caller.
func (t *MemoryToken) BurnAs(ctx context.Context, caller, from uuid.UUID, amount *uint256.Int) error {
	t.runHook(ctx, OpBurn, from, uuid.Nil, amount)

	t.mu.Lock()
	defer t.mu.Unlock()
	if caller != t.owner {
		return ErrNotOwner
	}
	if err := t.sub(from, amount); err != nil {
		return err
	}
	t.supply.Sub(t.supply, amount)
	return nil
}

// As binds the token to a caller identity so it satisfies Synthetic.
func (t *MemoryToken) As(caller uuid.UUID) Synthetic {
	return &boundToken{MemoryToken: t, caller: caller}
}

type boundToken struct {
	*MemoryToken
	caller uuid.UUID
}

func (b *boundToken) Mint(ctx context.Context, to uuid.UUID, amount *uint256.Int) (bool, error) {
	return b.MintAs(ctx, b.caller, to, amount)
}

func (b *boundToken) Burn(ctx context.Context, from uuid.UUID, amount *uint256.Int) error {
	return b.BurnAs(ctx, b.caller, from, amount)
}

func (t *MemoryToken) move(ctx context.Context, op Op, from, to uuid.UUID, amount *uint256.Int) (bool, error) {
	t.runHook(ctx, op, from, to, amount)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failTransfer {
		return false, nil
	}
	if err := t.sub(from, amount); err != nil {
		return false, err
	}
	t.add(to, amount)
	return true, nil
}

func (t *MemoryToken) runHook(ctx context.Context, op Op, from, to uuid.UUID, amount *uint256.Int) {
	t.mu.Lock()
	h := t.hook
	t.mu.Unlock()
	if h != nil {
		h(ctx, op, from, to, amount)
	}
}

func (t *MemoryToken) add(holder uuid.UUID, amount *uint256.Int) {
	b, ok := t.balances[holder]
	if !ok {
		b = new(uint256.Int)
		t.balances[holder] = b
	}
	b.Add(b, amount)
}

func (t *MemoryToken) sub(holder uuid.UUID, amount *uint256.Int) error {
	b, ok := t.balances[holder]
	if !ok || b.Lt(amount) {
		have := "0"
		if ok {
			have = b.Dec()
		}
		return fmt.Errorf("%w: %s %s has %s, needs %s", ErrInsufficientBalance, t.symbol, holder, have, amount.Dec())
	}
	b.Sub(b, amount)
	return nil
}
