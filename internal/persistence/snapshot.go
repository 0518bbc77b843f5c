package persistence

import (
	"DSCEngine/internal/core"
	"DSCEngine/internal/ledger"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// snapshotFormatVersion is bumped whenever SnapshotData changes shape.
const snapshotFormatVersion = 1

// SnapshotManager saves and loads engine snapshots and reads the event log
// back for replay.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serialized engine state at a committed sequence.
type SnapshotData struct {
	Sequence        int64             `json:"sequence"`
	StateHash       []byte            `json:"state_hash"`
	Balances        map[string]string `json:"balances"` // AccountPath -> decimal base units
	IdempotencyKeys []string          `json:"idempotency_keys"`
	CreatedAt       time.Time         `json:"created_at"`
}

// ReplayRecord is one logged operation in the shape core.Engine.Replay takes.
type ReplayRecord struct {
	Sequence  int64
	StateHash [32]byte
	Batches   []*ledger.Batch
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// FromCoreSnapshot converts engine state for storage.
func FromCoreSnapshot(s *core.SnapshotState, createdAt time.Time) *SnapshotData {
	data := &SnapshotData{
		Sequence:        s.Sequence,
		StateHash:       append([]byte(nil), s.StateHash[:]...),
		Balances:        make(map[string]string, len(s.Balances)),
		IdempotencyKeys: s.IdempotencyKeys,
		CreatedAt:       createdAt,
	}
	for key, bal := range s.Balances {
		if bal.IsZero() {
			continue
		}
		data.Balances[key.AccountPath()] = bal.Dec()
	}
	return data
}

// ToCoreSnapshot is the inverse of FromCoreSnapshot.
func (d *SnapshotData) ToCoreSnapshot() (*core.SnapshotState, error) {
	if len(d.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot %d: state hash has %d bytes", d.Sequence, len(d.StateHash))
	}
	s := &core.SnapshotState{
		Sequence:        d.Sequence,
		Balances:        make(map[ledger.AccountKey]*uint256.Int, len(d.Balances)),
		IdempotencyKeys: d.IdempotencyKeys,
	}
	copy(s.StateHash[:], d.StateHash)

	for path, dec := range d.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", d.Sequence, err)
		}
		bal, err := uint256.FromDecimal(dec)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: balance of %s: %w", d.Sequence, path, err)
		}
		s.Balances[key] = bal
	}
	return s, nil
}

// SaveSnapshot persists a snapshot. It is stored unverified.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, data, snap.StateHash, snapshotFormatVersion, len(data), snap.CreatedAt)
	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil when
// none exists.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE AND format_version = $1
		ORDER BY sequence DESC
		LIMIT 1
	`, snapshotFormatVersion)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as verified after its integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadOperationsFrom loads up to limit logged operations starting at
// fromSequence, each with its journal batches in commit order.
func (sm *SnapshotManager) LoadOperationsFrom(ctx context.Context, fromSequence int64, limit int) ([]ReplayRecord, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, state_hash
		FROM event_log.operations
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}

	var records []ReplayRecord
	index := make(map[int64]int)
	for rows.Next() {
		var (
			rec  ReplayRecord
			hash []byte
		)
		if err := rows.Scan(&rec.Sequence, &hash); err != nil {
			rows.Close()
			return nil, err
		}
		if len(hash) != 32 {
			rows.Close()
			return nil, fmt.Errorf("operation %d: state hash has %d bytes", rec.Sequence, len(hash))
		}
		copy(rec.StateHash[:], hash)
		index[rec.Sequence] = len(records)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(records) == 0 {
		return nil, nil
	}
	if err := sm.loadBatches(ctx, records, index); err != nil {
		return nil, err
	}
	return records, nil
}

func (sm *SnapshotManager) loadBatches(ctx context.Context, records []ReplayRecord, index map[int64]int) error {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT journal_id, batch_id, event_ref, sequence, batch_index,
		       debit_account, credit_account, asset, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE sequence BETWEEN $1 AND $2
		ORDER BY sequence ASC, batch_index ASC, entry_index ASC
	`, records[0].Sequence, records[len(records)-1].Sequence)
	if err != nil {
		return err
	}
	defer rows.Close()

	type batchRef struct {
		seq int64
		idx int
	}
	var current batchRef
	var batch *ledger.Batch

	for rows.Next() {
		var (
			j                  ledger.Journal
			journalID, batchID uuid.UUID
			batchIndex         int
			debit, credit      string
			amount             string
			journalType        int32
		)
		if err := rows.Scan(&journalID, &batchID, &j.EventRef, &j.Sequence, &batchIndex,
			&debit, &credit, &j.Asset, &amount, &journalType, &j.Timestamp); err != nil {
			return err
		}

		j.JournalID = journalID
		j.BatchID = batchID
		j.JournalType = ledger.JournalType(journalType)
		if j.DebitAccount, err = ledger.ParseAccountPath(debit); err != nil {
			return fmt.Errorf("journal %s: %w", journalID, err)
		}
		if j.CreditAccount, err = ledger.ParseAccountPath(credit); err != nil {
			return fmt.Errorf("journal %s: %w", journalID, err)
		}
		if j.Amount, err = uint256.FromDecimal(amount); err != nil {
			return fmt.Errorf("journal %s amount: %w", journalID, err)
		}

		pos, ok := index[j.Sequence]
		if !ok {
			continue
		}
		ref := batchRef{seq: j.Sequence, idx: batchIndex}
		if batch == nil || ref != current {
			batch = &ledger.Batch{
				BatchID:   batchID,
				EventRef:  j.EventRef,
				Sequence:  j.Sequence,
				Timestamp: j.Timestamp,
			}
			records[pos].Batches = append(records[pos].Batches, batch)
			current = ref
		}
		batch.Journals = append(batch.Journals, j)
	}
	return rows.Err()
}

// GetLatestSequence returns the highest logged sequence, or -1 when the log
// is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.operations
	`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
