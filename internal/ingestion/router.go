package ingestion

import (
	"DSCEngine/internal/core"
	"DSCEngine/internal/observability"
	"DSCEngine/internal/oracle"
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// PriceSink receives parsed price rounds. *oracle.FeedBook implements it.
type PriceSink interface {
	Update(u oracle.PriceUpdate) (oracle.UpdateResult, error)
}

// CommandSubmitter executes commands. *core.Processor implements it.
type CommandSubmitter interface {
	Submit(ctx context.Context, cmd core.Command) (*core.Receipt, error)
}

// Router applies queued messages: price rounds go to the feed book and
// commands to the processor. Every message is acked, nacked or terminated
// exactly once.
type Router struct {
	in      <-chan RawMessage
	prices  PriceSink
	engine  CommandSubmitter
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewRouter(in <-chan RawMessage, prices PriceSink, engine CommandSubmitter, metrics *observability.Metrics, logger zerolog.Logger) *Router {
	return &Router{
		in:      in,
		prices:  prices,
		engine:  engine,
		metrics: metrics,
		logger:  logger,
	}
}

// Run handles messages until ctx is cancelled or the input closes.
func (r *Router) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-r.in:
			if !ok {
				return nil
			}
			r.Handle(ctx, msg)
		}
	}
}

// Handle applies one message.
func (r *Router) Handle(ctx context.Context, msg RawMessage) {
	switch msg.Kind {
	case KindPrice:
		r.handlePrice(msg)
	case KindCommand:
		r.handleCommand(ctx, msg)
	default:
		r.logger.Warn().Str("subject", msg.Subject).Msg("message of unknown kind")
		call(msg.TermFunc)
	}
}

func (r *Router) handlePrice(msg RawMessage) {
	u, err := ParsePriceUpdate(msg.Data)
	if err != nil {
		r.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("malformed price update")
		r.countPrice("unknown", "malformed")
		call(msg.TermFunc)
		return
	}

	result, err := r.prices.Update(u)
	if err != nil {
		r.logger.Warn().Err(err).Str("feed", u.Feed).Msg("price update refused")
		r.countPrice(u.Feed, "refused")
		call(msg.TermFunc)
		return
	}

	switch result {
	case oracle.UpdateApplied:
		r.countPrice(u.Feed, "applied")
	case oracle.UpdateStale:
		r.countPrice(u.Feed, "stale")
	case oracle.UpdateGap:
		r.logger.Warn().Str("feed", u.Feed).Int64("round", u.Round).Msg("price rounds skipped")
		r.countPrice(u.Feed, "gap")
	}
	call(msg.AckFunc)
}

func (r *Router) handleCommand(ctx context.Context, msg RawMessage) {
	cmd, err := ParseCommand(msg.Data)
	if err != nil {
		r.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("malformed command")
		call(msg.TermFunc)
		return
	}

	receipt, err := r.engine.Submit(ctx, cmd)
	switch {
	case err == nil:
		r.logger.Debug().Int64("sequence", receipt.Sequence).
			Str("operation", receipt.Operation.String()).Msg("command applied")
		call(msg.AckFunc)
	case errors.Is(err, core.ErrProcessorStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		call(msg.NakFunc)
	case core.KindOf(err) == core.KindUnknown:
		r.logger.Error().Err(err).Str("operation", cmd.Operation().String()).Msg("command failed")
		call(msg.NakFunc)
	default:
		// Rejected commands are final and are not redelivered
		r.logger.Debug().Err(err).Str("operation", cmd.Operation().String()).
			Str("kind", core.KindOf(err).String()).Msg("command rejected")
		call(msg.AckFunc)
	}
}

func (r *Router) countPrice(feed, result string) {
	if r.metrics != nil {
		r.metrics.PriceUpdates.WithLabelValues(feed, result).Inc()
	}
}

func call(f func()) {
	if f != nil {
		f()
	}
}
