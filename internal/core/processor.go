package core

import (
	"context"

	"github.com/rs/zerolog"
)

type request struct {
	ctx  context.Context
	fn   func(ctx context.Context)
	done chan struct{}
}

// Processor owns the engine and runs every command and view on a single
// goroutine, in arrival order, so each call completes before the next begins.
type Processor struct {
	engine   *Engine
	requests chan request
	stopped  chan struct{}
	logger   zerolog.Logger
}

func NewProcessor(engine *Engine, queueSize int, logger zerolog.Logger) *Processor {
	return &Processor{
		engine:   engine,
		requests: make(chan request, queueSize),
		stopped:  make(chan struct{}),
		logger:   logger,
	}
}

// Run processes requests until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	defer close(p.stopped)
	p.logger.Info().Int64("sequence", p.engine.GetSequence()).Msg("processor started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Int64("sequence", p.engine.GetSequence()).Msg("processor stopped")
			return ctx.Err()
		case req := <-p.requests:
			req.fn(req.ctx)
			close(req.done)
			if m := p.engine.metrics; m != nil {
				m.SetChannelMetrics("processor", len(p.requests), cap(p.requests))
			}
		}
	}
}

// Submit executes cmd on the engine goroutine and waits for the result.
func (p *Processor) Submit(ctx context.Context, cmd Command) (*Receipt, error) {
	var (
		receipt *Receipt
		err     error
	)
	if serr := p.do(ctx, func(ctx context.Context) {
		receipt, err = p.engine.Execute(ctx, cmd)
	}); serr != nil {
		return nil, serr
	}
	return receipt, err
}

// View runs fn against the engine between operations.
func (p *Processor) View(ctx context.Context, fn func(ctx context.Context, e *Engine) error) error {
	var err error
	if serr := p.do(ctx, func(ctx context.Context) {
		err = fn(ctx, p.engine)
	}); serr != nil {
		return serr
	}
	return err
}

// do enqueues fn. Once accepted, fn runs to completion even if ctx is
// cancelled, so the caller waits for it unless the processor stops.
func (p *Processor) do(ctx context.Context, fn func(ctx context.Context)) error {
	req := request{ctx: ctx, fn: fn, done: make(chan struct{})}

	select {
	case p.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopped:
		return ErrProcessorStopped
	}

	select {
	case <-req.done:
		return nil
	case <-p.stopped:
		// Run may have picked the request up just before stopping
		select {
		case <-req.done:
			return nil
		default:
			return ErrProcessorStopped
		}
	}
}
