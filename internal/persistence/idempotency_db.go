package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresIdempotencyChecker is the second deduplication tier behind the
// engine's LRU: it looks the key up in the operation log.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// IsDuplicate reports whether an operation with this key was already logged.
func (pic *PostgresIdempotencyChecker) IsDuplicate(ctx context.Context, operation, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, pic.timeout)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.operations
		WHERE operation = $1 AND idempotency_key = $2
		LIMIT 1
	`, operation, idempotencyKey).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentKeys returns the composite keys of the newest logged operations, for
// warming the engine's cache on a cold start.
func (pic *PostgresIdempotencyChecker) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := pic.db.QueryContext(ctx, `
		SELECT operation, idempotency_key
		FROM event_log.operations
		WHERE idempotency_key <> ''
		ORDER BY sequence DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var op, key string
		if err := rows.Scan(&op, &key); err != nil {
			return nil, err
		}
		keys = append(keys, op+":"+key)
	}
	return keys, rows.Err()
}
