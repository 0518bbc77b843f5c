package ingestion

import (
	"DSCEngine/internal/core"
	"DSCEngine/internal/event"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Publisher is the subset of jetstream.JetStream used for outbound events.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes committed events to NATS for downstream
// consumers, one message per event on dsc.ledger.events.{event_type}.
// The engine drops outputs when this publisher falls behind; the event log
// stays authoritative.
type OutboundPublisher struct {
	js        Publisher
	inputChan <-chan core.CoreOutput
	logger    zerolog.Logger
}

// PublishableEvent is the outbound wire format.
type PublishableEvent struct {
	Sequence       int64       `json:"sequence"`
	Index          int         `json:"index"`
	Operation      string      `json:"operation"`
	EventType      string      `json:"event_type"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	Caller         uuid.UUID   `json:"caller"`
	Account        uuid.UUID   `json:"account"`
	Payload        event.Event `json:"payload"`
	StateHash      string      `json:"state_hash"`
	Timestamp      time.Time   `json:"timestamp"`
}

func NewOutboundPublisher(js Publisher, inputChan <-chan core.CoreOutput, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run publishes outputs until ctx is cancelled or the input closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			for _, evt := range Publishable(out.Envelope) {
				if err := op.publish(ctx, evt); err != nil {
					// Non-fatal: downstream consumers can read the event log
					op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).
						Str("event_type", evt.EventType).Msg("outbound publish failed")
				}
			}
		}
	}
}

// Publishable flattens an envelope into one outbound message per event.
func Publishable(env *event.EventEnvelope) []PublishableEvent {
	if env == nil {
		return nil
	}
	hash := hex.EncodeToString(env.StateHash[:])
	out := make([]PublishableEvent, len(env.Events))
	for i, ev := range env.Events {
		out[i] = PublishableEvent{
			Sequence:       env.Sequence,
			Index:          i,
			Operation:      env.Operation.String(),
			EventType:      ev.EventType().String(),
			IdempotencyKey: env.IdempotencyKey,
			Caller:         env.Caller,
			Account:        ev.Account(),
			Payload:        ev,
			StateHash:      hash,
			Timestamp:      env.Timestamp,
		}
	}
	return out
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Msg-Id lets JetStream drop republished duplicates
	msgID := fmt.Sprintf("%d-%d", evt.Sequence, evt.Index)
	_, err = op.js.Publish(ctx, EventSubjectPrefix+evt.EventType, data, jetstream.WithMsgID(msgID))
	return err
}
