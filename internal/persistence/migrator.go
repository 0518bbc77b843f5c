package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	migrate "github.com/rubenv/sql-migrate"
)

const (
	migrationSchema = "public"
	migrationTable  = "dsc_schema_migrations"

	// Session advisory lock serializing migrators across engine instances
	migrationLockID int64 = 0x4453435f4d4947
)

// MigrationStatus reports whether a migration file has been applied.
type MigrationStatus struct {
	ID        string
	Applied   bool
	AppliedAt time.Time
}

// Migrator applies the annotated SQL files of an fs.FS with sql-migrate.
// Runs hold a Postgres advisory lock so concurrent engines migrate once.
type Migrator struct {
	db     *sql.DB
	source migrate.MigrationSource
	set    migrate.MigrationSet
	logger zerolog.Logger
}

// NewMigrator reads migrations from the root of fsys, usually migrations.FS
// or os.DirFS for an override directory.
func NewMigrator(db *sql.DB, fsys fs.FS, logger zerolog.Logger) *Migrator {
	return &Migrator{
		db:     db,
		source: migrate.HttpFileSystemMigrationSource{FileSystem: http.FS(fsys)},
		set: migrate.MigrationSet{
			SchemaName: migrationSchema,
			TableName:  migrationTable,
		},
		logger: logger,
	}
}

// Migrations lists the migration IDs in the order they apply.
func (m *Migrator) Migrations() ([]string, error) {
	found, err := m.source.FindMigrations()
	if err != nil {
		return nil, fmt.Errorf("find migrations: %w", err)
	}
	ids := make([]string, 0, len(found))
	for _, mig := range found {
		if len(mig.Up) == 0 {
			return nil, fmt.Errorf("migration %s has no up statements", mig.Id)
		}
		ids = append(ids, mig.Id)
	}
	return ids, nil
}

// Up applies every pending migration.
func (m *Migrator) Up(ctx context.Context) error {
	if _, err := m.Migrations(); err != nil {
		return err
	}
	return m.locked(ctx, func() error {
		n, err := m.set.ExecContext(ctx, m.db, "postgres", m.source, migrate.Up)
		if err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		m.logger.Info().Int("applied", n).Msg("migrations applied")
		return nil
	})
}

// Down rolls back the newest steps applied migrations.
func (m *Migrator) Down(ctx context.Context, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("rollback steps must be > 0, got %d", steps)
	}
	return m.locked(ctx, func() error {
		n, err := m.set.ExecMaxContext(ctx, m.db, "postgres", m.source, migrate.Down, steps)
		if err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		m.logger.Info().Int("rolled_back", n).Msg("migrations rolled back")
		return nil
	})
}

// Status lists every known migration with its applied time, in order.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	ids, err := m.Migrations()
	if err != nil {
		return nil, err
	}

	var records []*migrate.MigrationRecord
	err = m.locked(ctx, func() error {
		var err error
		records, err = m.set.GetMigrationRecords(m.db, "postgres")
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read migration records: %w", err)
	}

	applied := make(map[string]time.Time, len(records))
	for _, r := range records {
		applied[r.Id] = r.AppliedAt
	}

	out := make([]MigrationStatus, 0, len(ids))
	for _, id := range ids {
		at, ok := applied[id]
		out = append(out, MigrationStatus{ID: id, Applied: ok, AppliedAt: at})
		delete(applied, id)
	}
	for id := range applied {
		m.logger.Warn().Str("migration", id).Msg("applied migration missing from source")
	}
	return out, nil
}

// locked runs fn while a dedicated connection holds the migration lock.
func (m *Migrator) locked(ctx context.Context, fn func() error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID); err != nil {
			m.logger.Warn().Err(err).Msg("release migration lock")
		}
	}()

	return fn()
}
