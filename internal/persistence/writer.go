package persistence

import (
	"DSCEngine/internal/core"
	"DSCEngine/internal/event"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventLogWriter writes operations and journals to Postgres using multi-row
// INSERTs. Writes are idempotent on the primary keys.
type EventLogWriter struct {
	db *sql.DB
}

// OperationRow represents a row in event_log.operations
type OperationRow struct {
	Sequence       int64
	Operation      string
	IdempotencyKey string
	Caller         uuid.UUID
	Payload        []byte // JSON-encoded events
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	BatchIndex    int
	EntryIndex    int
	DebitAccount  string
	CreditAccount string
	Asset         string
	Amount        string // decimal base units, stored as NUMERIC(78,0)
	JournalType   int32
	Timestamp     int64
}

// Record is one committed operation in storage form.
type Record struct {
	Operation OperationRow
	Journals  []JournalRow
}

// storedEvent is the payload element: the event type name plus its fields.
type storedEvent struct {
	Type string      `json:"type"`
	Data event.Event `json:"data"`
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// NewRecord converts an engine output into storage rows.
func NewRecord(out core.CoreOutput) (Record, error) {
	env := out.Envelope
	payload, err := MarshalEvents(env.Events)
	if err != nil {
		return Record{}, fmt.Errorf("marshal events for sequence %d: %w", env.Sequence, err)
	}

	rec := Record{
		Operation: OperationRow{
			Sequence:       env.Sequence,
			Operation:      env.Operation.String(),
			IdempotencyKey: env.IdempotencyKey,
			Caller:         env.Caller,
			Payload:        payload,
			StateHash:      append([]byte(nil), env.StateHash[:]...),
			PrevHash:       append([]byte(nil), env.PrevHash[:]...),
			Timestamp:      env.Timestamp,
		},
	}

	for bi, b := range out.Batches {
		for ji, j := range b.Journals {
			rec.Journals = append(rec.Journals, JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				EventRef:      j.EventRef,
				Sequence:      j.Sequence,
				BatchIndex:    bi,
				EntryIndex:    ji,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				Asset:         j.Asset,
				Amount:        j.Amount.Dec(),
				JournalType:   int32(j.JournalType),
				Timestamp:     j.Timestamp,
			})
		}
	}
	return rec, nil
}

// WriteOperationBatch inserts operation rows using q, which may be a transaction.
func (w *EventLogWriter) WriteOperationBatch(ctx context.Context, q execer, ops []OperationRow) error {
	if len(ops) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.operations
		(sequence, operation, idempotency_key, caller, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(ops))
	args := make([]interface{}, 0, len(ops)*8)

	for i, o := range ops {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			o.Sequence, o.Operation, o.IdempotencyKey, o.Caller,
			o.Payload, o.StateHash, o.PrevHash, o.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := q.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch inserts journal rows using q, which may be a transaction.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, q execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, batch_index, entry_index,
		 debit_account, credit_account, asset, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*12)

	for i, j := range journals {
		base := i * 12
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
			base+7, base+8, base+9, base+10, base+11, base+12,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence, j.BatchIndex, j.EntryIndex,
			j.DebitAccount, j.CreditAccount, j.Asset, j.Amount, j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := q.ExecContext(ctx, query, args...)
	return err
}

// WriteRecords writes operations and their journals in one transaction.
func (w *EventLogWriter) WriteRecords(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	ops := make([]OperationRow, 0, len(records))
	var journals []JournalRow
	for _, r := range records {
		ops = append(ops, r.Operation)
		journals = append(journals, r.Journals...)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return &writeError{stage: "tx_begin", err: err}
	}
	defer tx.Rollback()

	if err := w.WriteOperationBatch(ctx, tx, ops); err != nil {
		return &writeError{stage: "write_operations", err: err}
	}
	if err := w.WriteJournalBatch(ctx, tx, journals); err != nil {
		return &writeError{stage: "write_journals", err: err}
	}
	if err := tx.Commit(); err != nil {
		return &writeError{stage: "tx_commit", err: err}
	}
	return nil
}

// writeError tags a failure with the stage that produced it for metrics.
type writeError struct {
	stage string
	err   error
}

func (e *writeError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

// MarshalEvents serializes an operation's events for the payload column.
func MarshalEvents(events []event.Event) ([]byte, error) {
	stored := make([]storedEvent, len(events))
	for i, ev := range events {
		stored[i] = storedEvent{Type: ev.EventType().String(), Data: ev}
	}
	return json.Marshal(stored)
}
