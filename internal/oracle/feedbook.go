package oracle

import (
	fpmath "DSCEngine/internal/math"
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// PriceUpdate is one round reported by an upstream price feed.
type PriceUpdate struct {
	Feed      string
	Price     *big.Int
	Decimals  uint8
	Round     int64
	UpdatedAt time.Time
}

// UpdateResult tells the caller what happened to an update.
type UpdateResult int

const (
	UpdateApplied UpdateResult = iota
	UpdateStale                // round not newer than the stored one, ignored
	UpdateGap                  // applied, but one or more rounds were skipped
)

// FeedBook is an in-memory PriceSource fed by the price ingestion subscriber.
// Rounds must increase per feed; older rounds are ignored and gaps are
// tolerated. Safe for concurrent use.
type FeedBook struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewFeedBook() *FeedBook {
	return &FeedBook{quotes: make(map[string]Quote)}
}

// Update stores a new round. Validation of the price itself happens at read
// time in the Adapter so a bad answer is never silently dropped.
func (fb *FeedBook) Update(u PriceUpdate) (UpdateResult, error) {
	if u.Feed == "" {
		return UpdateStale, fmt.Errorf("price update without feed")
	}
	if u.Price == nil {
		return UpdateStale, fmt.Errorf("price update for %s without price", u.Feed)
	}
	if u.Decimals > fpmath.MaxDecimals {
		return UpdateStale, fmt.Errorf("price update for %s: %d decimals exceeds %d", u.Feed, u.Decimals, fpmath.MaxDecimals)
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()

	result := UpdateApplied
	if prev, ok := fb.quotes[u.Feed]; ok {
		if u.Round <= prev.Round {
			return UpdateStale, nil
		}
		if u.Round > prev.Round+1 {
			result = UpdateGap
		}
	}

	fb.quotes[u.Feed] = Quote{
		Price:     new(big.Int).Set(u.Price),
		Decimals:  u.Decimals,
		Round:     u.Round,
		UpdatedAt: u.UpdatedAt,
	}
	return result, nil
}

// LatestPrice implements PriceSource.
func (fb *FeedBook) LatestPrice(_ context.Context, feed string) (Quote, error) {
	fb.mu.RLock()
	defer fb.mu.RUnlock()

	q, ok := fb.quotes[feed]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrNoPrice, feed)
	}
	q.Price = new(big.Int).Set(q.Price)
	return q, nil
}

// Rounds returns the latest round per feed.
func (fb *FeedBook) Rounds() map[string]int64 {
	fb.mu.RLock()
	defer fb.mu.RUnlock()

	out := make(map[string]int64, len(fb.quotes))
	for feed, q := range fb.quotes {
		out[feed] = q.Round
	}
	return out
}
