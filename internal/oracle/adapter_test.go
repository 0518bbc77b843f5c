package oracle_test

import (
	fpmath "DSCEngine/internal/math"
	"DSCEngine/internal/oracle"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newAdapter(t *testing.T, price int64, updatedAt time.Time, opts ...oracle.Option) (*oracle.Adapter, *oracle.FeedBook) {
	t.Helper()
	book := oracle.NewFeedBook()
	_, err := book.Update(oracle.PriceUpdate{
		Feed:      "ETH/USD",
		Price:     big.NewInt(price),
		Decimals:  8,
		Round:     1,
		UpdatedAt: updatedAt,
	})
	require.NoError(t, err)

	opts = append([]oracle.Option{oracle.WithClock(func() time.Time { return now })}, opts...)
	a := oracle.NewAdapter(book, []oracle.Binding{
		{Token: "WETH", Feed: "ETH/USD", TokenDecimals: 18},
	}, opts...)
	return a, book
}

func TestAdapter_ValueOf(t *testing.T) {
	a, _ := newAdapter(t, 2000_00000000, now)

	got, err := a.ValueOf(context.Background(), "WETH", uint256.MustFromDecimal("15000000000000000000"))
	require.NoError(t, err)
	assert.Equal(t, "30000000000000000000000", got.Dec())
}

func TestAdapter_AmountFor(t *testing.T) {
	a, _ := newAdapter(t, 2000_00000000, now)

	got, err := a.AmountFor(context.Background(), "WETH", uint256.MustFromDecimal("100000000000000000000"))
	require.NoError(t, err)
	assert.Equal(t, "50000000000000000", got.Dec())
}

func TestAdapter_RoundTrip(t *testing.T) {
	a, _ := newAdapter(t, 1234_56789012, now)
	ctx := context.Background()

	amount := uint256.MustFromDecimal("7777777777777777777")
	value, err := a.ValueOf(ctx, "WETH", amount)
	require.NoError(t, err)
	back, err := a.AmountFor(ctx, "WETH", value)
	require.NoError(t, err)

	// Both directions round down, so the round trip may lose at most one unit.
	diff := new(uint256.Int).Sub(amount, back)
	assert.True(t, back.Cmp(amount) <= 0, "round trip must not over-credit")
	assert.True(t, diff.Cmp(uint256.NewInt(1)) <= 0, "round trip lost %s units", diff.Dec())
}

func TestAdapter_TokenDecimals(t *testing.T) {
	book := oracle.NewFeedBook()
	_, err := book.Update(oracle.PriceUpdate{Feed: "BTC/USD", Price: big.NewInt(60000_00000000), Decimals: 8, Round: 1, UpdatedAt: now})
	require.NoError(t, err)
	a := oracle.NewAdapter(book, []oracle.Binding{{Token: "WBTC", Feed: "BTC/USD", TokenDecimals: 8}},
		oracle.WithClock(func() time.Time { return now }))

	// 0.5 WBTC at 8 decimals
	got, err := a.ValueOf(context.Background(), "WBTC", uint256.NewInt(50_000_000))
	require.NoError(t, err)
	assert.Equal(t, "30000000000000000000000", got.Dec())
}

func TestAdapter_RejectsNonPositivePrice(t *testing.T) {
	for _, price := range []int64{0, -1} {
		a, _ := newAdapter(t, price, now)
		_, err := a.ValueOf(context.Background(), "WETH", uint256.NewInt(1))
		assert.True(t, errors.Is(err, oracle.ErrInvalidPrice), "price %d: got %v", price, err)
	}
}

// fixedQuote answers every feed with the same quote.
type fixedQuote oracle.Quote

func (q fixedQuote) LatestPrice(context.Context, string) (oracle.Quote, error) {
	return oracle.Quote(q), nil
}

func TestAdapter_RejectsWideFeedDecimals(t *testing.T) {
	src := fixedQuote{Price: big.NewInt(2000_00000000), Decimals: 200, Round: 1, UpdatedAt: now}
	a := oracle.NewAdapter(src, []oracle.Binding{{Token: "WETH", Feed: "ETH/USD", TokenDecimals: 18}},
		oracle.WithClock(func() time.Time { return now }))

	_, err := a.ValueOf(context.Background(), "WETH", uint256.NewInt(1))
	assert.ErrorIs(t, err, oracle.ErrInvalidPrice)
	_, err = a.AmountFor(context.Background(), "WETH", uint256.NewInt(1))
	assert.ErrorIs(t, err, oracle.ErrInvalidPrice)
}

func TestAdapter_WideTokenDecimalsFail(t *testing.T) {
	src := fixedQuote{Price: big.NewInt(2000_00000000), Decimals: 8, Round: 1, UpdatedAt: now}
	a := oracle.NewAdapter(src, []oracle.Binding{{Token: "WIDE", Feed: "WIDE/USD", TokenDecimals: 80}},
		oracle.WithClock(func() time.Time { return now }))

	_, err := a.ValueOf(context.Background(), "WIDE", uint256.NewInt(1))
	assert.ErrorIs(t, err, fpmath.ErrOverflow)
	_, err = a.AmountFor(context.Background(), "WIDE", uint256.NewInt(1))
	assert.ErrorIs(t, err, fpmath.ErrOverflow)
}

func TestAdapter_RejectsStalePrice(t *testing.T) {
	a, _ := newAdapter(t, 2000_00000000, now.Add(-3*time.Hour-time.Second))
	_, err := a.AmountFor(context.Background(), "WETH", uint256.NewInt(1))
	assert.ErrorIs(t, err, oracle.ErrStalePrice)

	// Exactly at the timeout is still fresh
	a, _ = newAdapter(t, 2000_00000000, now.Add(-3*time.Hour))
	_, err = a.AmountFor(context.Background(), "WETH", uint256.NewInt(1))
	assert.NoError(t, err)
}

func TestAdapter_MaxAgeZeroDisablesStaleness(t *testing.T) {
	a, _ := newAdapter(t, 2000_00000000, now.Add(-30*24*time.Hour), oracle.WithMaxAge(0))
	_, err := a.ValueOf(context.Background(), "WETH", uint256.NewInt(1))
	assert.NoError(t, err)
}

func TestAdapter_UnknownToken(t *testing.T) {
	a, _ := newAdapter(t, 2000_00000000, now)
	_, err := a.ValueOf(context.Background(), "DOGE", uint256.NewInt(1))
	assert.ErrorIs(t, err, oracle.ErrUnknownToken)
}

func TestFeedBook_IgnoresOlderRounds(t *testing.T) {
	a, book := newAdapter(t, 2000_00000000, now)

	res, err := book.Update(oracle.PriceUpdate{Feed: "ETH/USD", Price: big.NewInt(1000_00000000), Decimals: 8, Round: 1, UpdatedAt: now})
	require.NoError(t, err)
	assert.Equal(t, oracle.UpdateStale, res)

	res, err = book.Update(oracle.PriceUpdate{Feed: "ETH/USD", Price: big.NewInt(1000_00000000), Decimals: 8, Round: 5, UpdatedAt: now})
	require.NoError(t, err)
	assert.Equal(t, oracle.UpdateGap, res)

	price, err := a.Price(context.Background(), "WETH")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000000", price.Dec())
	assert.Equal(t, int64(5), book.Rounds()["ETH/USD"])
}

func TestFeedBook_RejectsWideDecimals(t *testing.T) {
	book := oracle.NewFeedBook()
	_, err := book.Update(oracle.PriceUpdate{Feed: "ETH/USD", Price: big.NewInt(2000_00000000), Decimals: 200, Round: 1, UpdatedAt: now})
	require.Error(t, err)

	_, err = book.LatestPrice(context.Background(), "ETH/USD")
	assert.ErrorIs(t, err, oracle.ErrNoPrice)
}

func TestFeedBook_MissingFeed(t *testing.T) {
	book := oracle.NewFeedBook()
	_, err := book.LatestPrice(context.Background(), "nope")
	assert.ErrorIs(t, err, oracle.ErrNoPrice)
}
