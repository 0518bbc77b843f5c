package core_test

import (
	"DSCEngine/internal/core"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

func TestProcessor_SerializesCommandsAndViews(t *testing.T) {
	defer goleak.VerifyNone(t)

	te := newTestEngine(t)
	p := core.NewProcessor(te.Engine, 16, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx) }()

	users := make([]uuid.UUID, 8)
	for i := range users {
		users[i] = uuid.New()
		fund(te.weth, users[i], e18(1))
	}

	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(u uuid.UUID) {
			defer wg.Done()
			_, err := p.Submit(ctx, &core.DepositCollateral{
				Meta:   core.Meta{Caller: u},
				Token:  "WETH",
				Amount: e18(1),
			})
			if err != nil {
				t.Errorf("submit for %s failed: %v", u, err)
			}
		}(u)
	}
	wg.Wait()

	var total *uint256.Int
	err := p.View(ctx, func(ctx context.Context, e *core.Engine) error {
		total = new(uint256.Int)
		for _, u := range users {
			bal, err := e.GetCollateralBalanceOfUser(u, "WETH")
			if err != nil {
				return err
			}
			total.Add(total, bal)
		}
		return e.VerifyConservation()
	})
	if err != nil {
		t.Fatalf("view failed: %v", err)
	}
	if !total.Eq(u18(8)) {
		t.Errorf("expected 8e18 deposited, got %s", total.Dec())
	}
	if te.GetSequence() != 8 {
		t.Errorf("expected 8 committed operations, got %d", te.GetSequence())
	}

	cancel()
	select {
	case err := <-runErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("processor did not stop")
	}

	_, err = p.Submit(context.Background(), &core.MintDsc{Meta: core.Meta{Caller: users[0]}, Amount: e18(1)})
	if !errors.Is(err, core.ErrProcessorStopped) {
		t.Errorf("expected ErrProcessorStopped after shutdown, got %v", err)
	}
}

func TestProcessor_SubmitHonoursCallerContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	te := newTestEngine(t)
	// Not running, so the queue fills and the caller must give up on ctx
	p := core.NewProcessor(te.Engine, 0, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Submit(ctx, &core.MintDsc{Meta: core.Meta{Caller: uuid.New()}, Amount: e18(1)})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestProcessor_ReturnsOperationErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	te := newTestEngine(t)
	p := core.NewProcessor(te.Engine, 4, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	_, err := p.Submit(ctx, &core.MintDsc{Meta: core.Meta{Caller: uuid.New()}, Amount: e18(1)})
	mustKind(t, err, core.KindHealthFactorBroken)
}
