package main

import (
	"DSCEngine/internal/core"
	"DSCEngine/internal/observability"
	"DSCEngine/internal/persistence"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const snapshotCheckInterval = 10 * time.Second

var errNothingToSnapshot = errors.New("no committed operations to snapshot")

type snapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *persistence.SnapshotData) error
	MarkVerified(ctx context.Context, sequence int64) error
	GetLatestSequence(ctx context.Context) (int64, error)
}

type viewer interface {
	View(ctx context.Context, fn func(ctx context.Context, e *core.Engine) error) error
}

// snapshotter captures engine state on the processor goroutine and stores it
// once the event log has persisted every operation the snapshot covers.
type snapshotter struct {
	engine  viewer
	store   snapshotStore
	metrics *observability.Metrics
	logger  zerolog.Logger

	// Wait for the persistence worker to catch up
	logWait time.Duration

	mu sync.Mutex
}

func newSnapshotter(engine viewer, store snapshotStore, metrics *observability.Metrics, logger zerolog.Logger) *snapshotter {
	return &snapshotter{
		engine:  engine,
		store:   store,
		metrics: metrics,
		logger:  logger,
		logWait: 10 * time.Second,
	}
}

// Run takes a snapshot whenever interval operations have committed since the
// last one.
func (s *snapshotter) Run(ctx context.Context, interval int64) error {
	var last int64
	if err := s.engine.View(ctx, func(_ context.Context, e *core.Engine) error {
		last = e.GetSequence()
		return nil
	}); err != nil {
		return err
	}

	ticker := time.NewTicker(snapshotCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			var current int64
			if err := s.engine.View(ctx, func(_ context.Context, e *core.Engine) error {
				current = e.GetSequence()
				return nil
			}); err != nil {
				return err
			}
			if current-last < interval {
				continue
			}
			seq, err := s.Take(ctx)
			if err != nil {
				s.logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			last = current
			s.logger.Info().Int64("sequence", seq).Msg("periodic snapshot")
		}
	}
}

// Take snapshots the running engine and returns the covered sequence.
func (s *snapshotter) Take(ctx context.Context) (int64, error) {
	var state *core.SnapshotState
	if err := s.engine.View(ctx, func(_ context.Context, e *core.Engine) error {
		state = e.CreateSnapshotState()
		return nil
	}); err != nil {
		return -1, err
	}
	return s.save(ctx, state)
}

// save stores state. Nothing is written for an empty engine.
func (s *snapshotter) save(ctx context.Context, state *core.SnapshotState) (int64, error) {
	if state.Sequence < 0 {
		return -1, errNothingToSnapshot
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	if err := s.awaitLog(ctx, state.Sequence); err != nil {
		return -1, err
	}

	data := persistence.FromCoreSnapshot(state, time.Now().UTC())
	if err := s.store.SaveSnapshot(ctx, data); err != nil {
		return -1, fmt.Errorf("save snapshot: %w", err)
	}
	// Built from live state, so it is verified on write.
	if err := s.store.MarkVerified(ctx, data.Sequence); err != nil {
		return -1, fmt.Errorf("mark snapshot %d verified: %w", data.Sequence, err)
	}

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotLastSeq.Set(float64(data.Sequence))
	}
	s.logger.Debug().Int64("sequence", data.Sequence).Dur("took", time.Since(start)).Msg("snapshot stored")
	return data.Sequence, nil
}

// awaitLog polls until the event log reaches seq. A snapshot never covers
// operations missing from the log.
func (s *snapshotter) awaitLog(ctx context.Context, seq int64) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = s.logWait

	return backoff.Retry(func() error {
		latest, err := s.store.GetLatestSequence(ctx)
		if err != nil {
			return err
		}
		if latest < seq {
			return fmt.Errorf("event log at sequence %d, snapshot at %d", latest, seq)
		}
		return nil
	}, backoff.WithContext(b, ctx))
}
