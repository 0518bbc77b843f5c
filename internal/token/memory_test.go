package token_test

import (
	"DSCEngine/internal/token"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryToken_Transfer(t *testing.T) {
	ctx := context.Background()
	tok := token.NewMemoryToken("WETH", uuid.Nil)
	alice, bob := uuid.New(), uuid.New()
	tok.Credit(alice, uint256.NewInt(100))

	ok, err := tok.TransferFrom(ctx, alice, bob, uint256.NewInt(60))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(40), tok.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(60), tok.BalanceOf(bob).Uint64())

	_, err = tok.Transfer(ctx, alice, bob, uint256.NewInt(41))
	assert.ErrorIs(t, err, token.ErrInsufficientBalance)
	assert.Equal(t, uint64(100), tok.TotalSupply().Uint64())
}

func TestMemoryToken_OwnerOnlyMint(t *testing.T) {
	ctx := context.Background()
	deployer, engine, user := uuid.New(), uuid.New(), uuid.New()
	dsc := token.NewMemoryToken("DSC", deployer)

	_, err := dsc.As(engine).Mint(ctx, user, uint256.NewInt(5))
	assert.ErrorIs(t, err, token.ErrNotOwner)

	require.NoError(t, dsc.TransferOwnership(deployer, engine))
	assert.ErrorIs(t, dsc.TransferOwnership(deployer, deployer), token.ErrNotOwner)

	ok, err := dsc.As(engine).Mint(ctx, user, uint256.NewInt(5))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, dsc.As(engine).Burn(ctx, user, uint256.NewInt(2)))
	assert.Equal(t, uint64(3), dsc.BalanceOf(user).Uint64())
	assert.Equal(t, uint64(3), dsc.TotalSupply().Uint64())
}

func TestMemoryToken_FailureSwitches(t *testing.T) {
	ctx := context.Background()
	owner, user := uuid.New(), uuid.New()
	tok := token.NewMemoryToken("DSC", owner)
	tok.Credit(user, uint256.NewInt(10))

	tok.FailTransfers(true)
	ok, err := tok.Transfer(ctx, user, owner, uint256.NewInt(1))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint64(10), tok.BalanceOf(user).Uint64())

	tok.FailMints(true)
	ok, err = tok.As(owner).Mint(ctx, user, uint256.NewInt(1))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryToken_HookSeesOperation(t *testing.T) {
	ctx := context.Background()
	tok := token.NewMemoryToken("WETH", uuid.Nil)
	alice, bob := uuid.New(), uuid.New()
	tok.Credit(alice, uint256.NewInt(3))

	var seen []token.Op
	tok.SetHook(func(_ context.Context, op token.Op, from, to uuid.UUID, _ *uint256.Int) {
		seen = append(seen, op)
		// Reading balances from inside the hook must not deadlock
		_ = tok.BalanceOf(from)
	})

	_, err := tok.Transfer(ctx, alice, bob, uint256.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, []token.Op{token.OpTransfer}, seen)
}
