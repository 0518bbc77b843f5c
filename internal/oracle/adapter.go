package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	fpmath "DSCEngine/internal/math"

	"github.com/holiman/uint256"
)

// DefaultMaxPriceAge is the staleness timeout applied to every feed.
const DefaultMaxPriceAge = 3 * time.Hour

var (
	ErrInvalidPrice = errors.New("oracle: invalid price")
	ErrStalePrice   = errors.New("oracle: stale price")
	ErrUnknownToken = errors.New("oracle: token has no price feed")
	ErrNoPrice      = errors.New("oracle: feed has no price")
)

// Quote is the latest answer of a price feed.
type Quote struct {
	Price     *big.Int
	Decimals  uint8
	Round     int64
	UpdatedAt time.Time
}

// PriceSource returns the latest quote for a feed.
type PriceSource interface {
	LatestPrice(ctx context.Context, feed string) (Quote, error)
}

// Binding ties a collateral token to its price feed.
type Binding struct {
	Token         string
	Feed          string
	TokenDecimals uint8
}

// Adapter converts between collateral amounts and peg value. Every call reads
// the latest quote; nothing is cached across calls.
type Adapter struct {
	source   PriceSource
	bindings map[string]Binding
	maxAge   time.Duration
	now      func() time.Time
}

type Option func(*Adapter)

// WithMaxAge overrides the staleness timeout. Zero disables the check.
func WithMaxAge(d time.Duration) Option {
	return func(a *Adapter) { a.maxAge = d }
}

// WithClock injects the time source used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

func NewAdapter(source PriceSource, bindings []Binding, opts ...Option) *Adapter {
	a := &Adapter{
		source:   source,
		bindings: make(map[string]Binding, len(bindings)),
		maxAge:   DefaultMaxPriceAge,
		now:      time.Now,
	}
	for _, b := range bindings {
		a.bindings[b.Token] = b
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Price returns the validated price of token scaled to 18 decimals.
func (a *Adapter) Price(ctx context.Context, token string) (*uint256.Int, error) {
	b, ok := a.bindings[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	return a.scaledPrice(ctx, b)
}

// ValueOf returns the peg value (18 decimals) of amount units of token,
// rounded down.
func (a *Adapter) ValueOf(ctx context.Context, token string, amount *uint256.Int) (*uint256.Int, error) {
	b, ok := a.bindings[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	price, err := a.scaledPrice(ctx, b)
	if err != nil {
		return nil, err
	}
	unit, err := fpmath.Pow10(b.TokenDecimals)
	if err != nil {
		return nil, fmt.Errorf("token %s: %w", token, err)
	}
	return fpmath.MulDiv(amount, price, unit, fpmath.RoundDown)
}

// AmountFor returns how many units of token are worth value, rounded down so
// the converting party is never over-credited.
func (a *Adapter) AmountFor(ctx context.Context, token string, value *uint256.Int) (*uint256.Int, error) {
	b, ok := a.bindings[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	price, err := a.scaledPrice(ctx, b)
	if err != nil {
		return nil, err
	}
	unit, err := fpmath.Pow10(b.TokenDecimals)
	if err != nil {
		return nil, fmt.Errorf("token %s: %w", token, err)
	}
	return fpmath.MulDiv(value, unit, price, fpmath.RoundDown)
}

func (a *Adapter) scaledPrice(ctx context.Context, b Binding) (*uint256.Int, error) {
	q, err := a.source.LatestPrice(ctx, b.Feed)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", b.Feed, err)
	}

	if q.Price == nil || q.Price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: feed %s answered %v", ErrInvalidPrice, b.Feed, q.Price)
	}

	if a.maxAge > 0 {
		if age := a.now().Sub(q.UpdatedAt); age > a.maxAge {
			return nil, fmt.Errorf("%w: feed %s is %s old (max %s)", ErrStalePrice, b.Feed, age, a.maxAge)
		}
	}

	if q.Decimals > fpmath.MaxDecimals {
		return nil, fmt.Errorf("%w: feed %s reports %d decimals", ErrInvalidPrice, b.Feed, q.Decimals)
	}

	raw, overflow := uint256.FromBig(q.Price)
	if overflow {
		return nil, fmt.Errorf("feed %s: %w", b.Feed, fpmath.ErrOverflow)
	}

	price, err := fpmath.ScaleDecimals(raw, q.Decimals, fpmath.PrecisionDecimals)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", b.Feed, err)
	}
	if price.IsZero() {
		return nil, fmt.Errorf("%w: feed %s rounds to zero", ErrInvalidPrice, b.Feed)
	}
	return price, nil
}
