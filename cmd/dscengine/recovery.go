package main

import (
	"DSCEngine/internal/config"
	"DSCEngine/internal/core"
	"DSCEngine/internal/observability"
	"DSCEngine/internal/persistence"
	"DSCEngine/internal/token"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const replayPageSize = 1000

// operationLog is the read side of the event log used during recovery.
type operationLog interface {
	LoadLatestSnapshot(ctx context.Context) (*persistence.SnapshotData, error)
	LoadOperationsFrom(ctx context.Context, fromSequence int64, limit int) ([]persistence.ReplayRecord, error)
}

type keySource interface {
	RecentKeys(ctx context.Context, limit int) ([]string, error)
}

// recoverEngine restores the latest verified snapshot, replays the logged
// operations after it and warms the idempotency cache. It returns the number
// of replayed operations. The engine must not be running yet.
func recoverEngine(
	ctx context.Context,
	engine *core.Engine,
	log operationLog,
	keys keySource,
	lruCapacity int,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (int64, error) {
	start := time.Now()

	snap, err := log.LoadLatestSnapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load snapshot, replaying from sequence 0")
		snap = nil
	}
	if snap != nil {
		state, err := snap.ToCoreSnapshot()
		if err != nil {
			logger.Warn().Err(err).Msg("unusable snapshot, replaying from sequence 0")
		} else {
			engine.RestoreFromSnapshot(state)
			logger.Info().Int64("sequence", snap.Sequence).Msg("restored snapshot")
		}
	} else {
		logger.Info().Msg("no snapshot found, cold start from sequence 0")
	}

	var replayed int64
	for {
		records, err := log.LoadOperationsFrom(ctx, engine.GetSequence(), replayPageSize)
		if err != nil {
			return replayed, fmt.Errorf("load operations from %d: %w", engine.GetSequence(), err)
		}
		if len(records) == 0 {
			break
		}
		for _, rec := range records {
			if err := engine.Replay(rec.Sequence, rec.Batches, rec.StateHash); err != nil {
				return replayed, err
			}
			replayed++
		}
	}

	if err := engine.VerifyConservation(); err != nil {
		return replayed, fmt.Errorf("conservation check after replay: %w", err)
	}

	// Snapshot keys were warmed by the restore; the log covers the rest.
	if keys != nil && lruCapacity > 0 {
		recent, err := keys.RecentKeys(ctx, lruCapacity)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to load recent idempotency keys")
		} else {
			engine.WarmLRU(recent)
		}
	}

	if metrics != nil {
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	return replayed, nil
}

// tokenSet holds the in-process token ledgers the engine settles against.
type tokenSet struct {
	collateral map[string]*token.MemoryToken
	dsc        *token.MemoryToken
}

// newTokenSet creates one token per registered collateral and the synthetic
// token, whose minting rights are handed to the engine.
func newTokenSet(registry config.CollateralFile, engineID uuid.UUID) (*tokenSet, error) {
	ts := &tokenSet{collateral: make(map[string]*token.MemoryToken, len(registry.CollateralTokens))}
	for _, t := range registry.CollateralTokens {
		ts.collateral[t.Symbol] = token.NewMemoryToken(t.Symbol, uuid.Nil)
	}

	deployer := uuid.New()
	ts.dsc = token.NewMemoryToken("DSC", deployer)
	if err := ts.dsc.TransferOwnership(deployer, engineID); err != nil {
		return nil, fmt.Errorf("hand DSC ownership to engine: %w", err)
	}
	return ts, nil
}

func (ts *tokenSet) collateralMap() map[string]token.Collateral {
	out := make(map[string]token.Collateral, len(ts.collateral))
	for sym, t := range ts.collateral {
		out[sym] = t
	}
	return out
}

// seed brings the token ledgers in line with the recovered engine: custody
// holds every deposited unit, and genesis balances are credited when the
// event log is empty.
func (ts *tokenSet) seed(engine *core.Engine, registry config.CollateralFile) error {
	fresh := engine.GetSequence() == 0
	for _, entry := range registry.CollateralTokens {
		tok := ts.collateral[entry.Symbol]

		total, err := engine.GetTotalCollateral(entry.Symbol)
		if err != nil {
			return err
		}
		if !total.IsZero() {
			tok.Credit(engine.ID(), total)
		}

		if !fresh {
			continue
		}
		alloc, err := entry.Allocations()
		if err != nil {
			return err
		}
		for holder, amount := range alloc {
			tok.Credit(holder, amount)
		}
	}
	return nil
}
