package state

import (
	"DSCEngine/internal/event"
	"DSCEngine/internal/ledger"
	"context"
	"errors"
	"fmt"
)

// Effect is an external side effect of an operation together with the
// compensation that reverses it.
type Effect struct {
	Name string
	Do   func(ctx context.Context) error
	Undo func(ctx context.Context) error
}

// UnitOfWork collects everything one engine operation does: journal batches
// applied optimistically to the tracker, events, and external effects.
// Either Settle succeeds and everything stands, or the ledger is restored and
// every effect that ran is compensated.
type UnitOfWork struct {
	tracker  *ledger.BalanceTracker
	journals *ledger.JournalGenerator
	batches  []*ledger.Batch
	effects  []Effect
	events   []event.Event
}

func NewUnitOfWork(tracker *ledger.BalanceTracker, journals *ledger.JournalGenerator) *UnitOfWork {
	return &UnitOfWork{tracker: tracker, journals: journals}
}

func (u *UnitOfWork) Journals() *ledger.JournalGenerator {
	return u.journals
}

// Stage applies a batch to the tracker. A failed batch leaves the tracker
// untouched.
func (u *UnitOfWork) Stage(batch *ledger.Batch) error {
	if err := u.tracker.ApplyBatch(batch); err != nil {
		return err
	}
	u.batches = append(u.batches, batch)
	return nil
}

func (u *UnitOfWork) AddEffect(e Effect) {
	u.effects = append(u.effects, e)
}

func (u *UnitOfWork) Emit(ev event.Event) {
	u.events = append(u.events, ev)
}

func (u *UnitOfWork) Batches() []*ledger.Batch {
	return u.batches
}

func (u *UnitOfWork) Events() []event.Event {
	return u.events
}

// Rollback reverts staged batches in reverse order and forgets the
// pending effects and events.
func (u *UnitOfWork) Rollback() {
	for i := len(u.batches) - 1; i >= 0; i-- {
		u.tracker.RevertBatch(u.batches[i])
	}
	u.batches = nil
	u.effects = nil
	u.events = nil
}

// Settle runs the effects in order. On the first failure it compensates the
// effects that already ran (newest first), rolls back the ledger and
// returns the failure. Compensation errors are joined onto it.
func (u *UnitOfWork) Settle(ctx context.Context) error {
	for i, e := range u.effects {
		err := e.Do(ctx)
		if err == nil {
			continue
		}
		err = fmt.Errorf("%s: %w", e.Name, err)
		for j := i - 1; j >= 0; j-- {
			undo := u.effects[j]
			if undo.Undo == nil {
				continue
			}
			if uerr := undo.Undo(ctx); uerr != nil {
				err = errors.Join(err, fmt.Errorf("compensate %s: %w", undo.Name, uerr))
			}
		}
		u.Rollback()
		return err
	}
	return nil
}
