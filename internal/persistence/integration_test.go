package persistence_test

import (
	"DSCEngine/internal/persistence"
	"DSCEngine/internal/testutil"
	"DSCEngine/migrations"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real Postgres; see testutil.SetupTestDB.
func TestIntegration_EventLogRoundTrip(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	user := uuid.New()

	out0 := depositOutput(0, user, 100)
	out1 := depositOutput(1, user, 25)
	out1.Envelope.IdempotencyKey = "dep-2"
	out1.Envelope.PrevHash = out0.Envelope.StateHash

	r0, err := persistence.NewRecord(out0)
	require.NoError(t, err)
	r1, err := persistence.NewRecord(out1)
	require.NoError(t, err)

	require.NoError(t, persistence.NewEventLogWriter(db).WriteRecords(ctx, []persistence.Record{r0, r1}))

	snaps := persistence.NewSnapshotManager(db)
	latest, err := snaps.GetLatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest)

	replay, err := snaps.LoadOperationsFrom(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, replay, 2)
	require.Len(t, replay[1].Batches, 1)
	assert.Equal(t, "25", replay[1].Batches[0].Journals[0].Amount.Dec())
	assert.NoError(t, replay[1].Batches[0].Validate())

	idem := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := idem.IsDuplicate(ctx, "DepositCollateral", "dep-2")
	require.NoError(t, err)
	assert.True(t, dup)
	dup, err = idem.IsDuplicate(ctx, "DepositCollateral", "dep-3")
	require.NoError(t, err)
	assert.False(t, dup)

	keys, err := idem.RecentKeys(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"DepositCollateral:dep-2", "DepositCollateral:dep-1"}, keys)
}

func TestIntegration_MigratorDownAndUp(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	m := persistence.NewMigrator(db, migrations.FS, zerolog.Nop())

	require.NoError(t, m.Down(ctx, 1))
	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Applied)
	assert.False(t, statuses[1].Applied)

	// Up is repeatable and restores the projections schema.
	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx))
	statuses, err = m.Status(ctx)
	require.NoError(t, err)
	assert.True(t, statuses[1].Applied)
	assert.Equal(t, "000002_projections.sql", statuses[1].ID)
}
