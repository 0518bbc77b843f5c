package core

import (
	"DSCEngine/internal/observability"
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
)

// DBIdempotencyChecker is the Postgres dedup lookup.
type DBIdempotencyChecker interface {
	IsDuplicate(ctx context.Context, operation string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker implements two-tier deduplication: an LRU of recently
// committed keys, then the operation log.
type IdempotencyChecker struct {
	cache     *lru.Cache
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewIdempotencyChecker(
	capacity int,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (*IdempotencyChecker, error) {
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("idempotency cache: %w", err)
	}
	return &IdempotencyChecker{
		cache:     cache,
		dbChecker: dbChecker,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

func compositeKey(operation, key string) string {
	return operation + ":" + key
}

// IsDuplicate reports whether the key was already committed. A failing
// Postgres lookup is logged and treated as not duplicate.
func (ic *IdempotencyChecker) IsDuplicate(ctx context.Context, operation, key string) bool {
	ck := compositeKey(operation, key)

	if ic.cache.Contains(ck) {
		ic.record(operation, "lru")
		return true
	}

	if ic.dbChecker == nil {
		return false
	}
	dup, err := ic.dbChecker.IsDuplicate(ctx, operation, key)
	if err != nil {
		ic.logger.Warn().Err(err).Str("operation", operation).Msg("tier-2 idempotency lookup failed")
		if ic.metrics != nil {
			ic.metrics.DedupTier2Errors.Inc()
		}
		return false
	}
	if dup {
		ic.record(operation, "postgres")
		ic.cache.Add(ck, struct{}{})
	}
	return dup
}

func (ic *IdempotencyChecker) MarkProcessed(operation, key string) {
	ic.cache.Add(compositeKey(operation, key), struct{}{})
}

// Warm loads composite keys (operation:key) from a snapshot or the log.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, k := range keys {
		ic.cache.Add(k, struct{}{})
	}
}

// Keys returns the cached composite keys, oldest first.
func (ic *IdempotencyChecker) Keys() []string {
	raw := ic.cache.Keys()
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k.(string))
	}
	return keys
}

func (ic *IdempotencyChecker) Len() int {
	return ic.cache.Len()
}

func (ic *IdempotencyChecker) record(operation, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(operation, tier).Inc()
	}
}
