package persistence

import (
	"DSCEngine/internal/core"
	"DSCEngine/internal/observability"
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The engine sends to this channel with a blocking send, so if the worker
// falls behind the engine stalls and no committed operation is lost.
type PersistenceWorker struct {
	writer       *EventLogWriter
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	maxBackoff   time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	if flushTimeout <= 0 {
		flushTimeout = 10 * time.Millisecond
	}
	return &PersistenceWorker{
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		maxBackoff:   30 * time.Second,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled or the input closes.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := make([]Record, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := pw.flush(context.Background(), batch); err != nil {
					pw.logger.Error().Err(err).Int("operations", len(batch)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := pw.flush(context.Background(), batch); err != nil {
						pw.logger.Error().Err(err).Int("operations", len(batch)).Msg("final flush failed")
						return err
					}
				}
				return nil
			}

			rec, err := NewRecord(output)
			if err != nil {
				// An unserializable event is a programming error; the journal
				// rows are still written so the ledger can be replayed.
				pw.logger.Error().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("encode operation")
				rec.Operation.Payload = []byte("[]")
			}
			batch = append(batch, rec)

			if len(batch) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch = batch[:0]
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch = batch[:0]
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled, in which case one last attempt is made without ctx.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, records []Record) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = pw.maxBackoff
	b.MaxElapsedTime = 0

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		return pw.flush(ctx, records)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		if pw.metrics != nil {
			pw.metrics.PersistRetry.Inc()
		}
		pw.logger.Warn().Err(err).Dur("backoff", wait).Int("operations", len(records)).Msg("persistence retry")
	})
	if err == nil {
		if attempts > 1 {
			pw.logger.Info().Int("attempts", attempts).Msg("persistence flush succeeded after retries")
		}
		return nil
	}
	if ctx.Err() != nil {
		return pw.flush(context.Background(), records)
	}
	return err
}

func (pw *PersistenceWorker) flush(ctx context.Context, records []Record) error {
	start := time.Now()

	if err := pw.writer.WriteRecords(ctx, records); err != nil {
		if pw.metrics != nil {
			stage := "unknown"
			var we *writeError
			if errors.As(err, &we) {
				stage = we.stage
			}
			pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
		}
		return err
	}

	if pw.metrics != nil {
		journals := 0
		for _, r := range records {
			journals += len(r.Journals)
		}
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(records)))
		pw.metrics.PersistOpsWritten.Add(float64(len(records)))
		pw.metrics.PersistJournalsWritten.Add(float64(journals))
		pw.metrics.PersistLastSequence.Set(float64(records[len(records)-1].Operation.Sequence))
	}
	return nil
}
