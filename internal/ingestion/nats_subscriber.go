package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Subjects and streams consumed and produced by the engine.
const (
	PriceSubjectPrefix   = "dsc.prices."
	CommandSubjectPrefix = "dsc.commands."
	EventSubjectPrefix   = "dsc.ledger.events."

	PriceStream   = "DSC_PRICES"
	CommandStream = "DSC_COMMANDS"
	EventStream   = "DSC_LEDGER_EVENTS"
)

// MessageKind tells the router how to handle a RawMessage.
type MessageKind int

const (
	KindPrice MessageKind = iota
	KindCommand
)

func (k MessageKind) String() string {
	switch k {
	case KindPrice:
		return "price"
	case KindCommand:
		return "command"
	default:
		return "unknown"
	}
}

// RawMessage is an undecoded message taken off NATS, waiting for the router
// to parse and apply it.
type RawMessage struct {
	Kind      MessageKind
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // processed, or failed deterministically
	NakFunc   func() // transient failure, redeliver
	TermFunc  func() // malformed, never redeliver
}

// SubjectConfig binds a subject filter to a durable consumer.
type SubjectConfig struct {
	Subject      string
	Kind         MessageKind
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the inbound consumers: one for price rounds, one
// for commands.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: PriceSubjectPrefix + ">", Kind: KindPrice, ConsumerName: "dsc-engine-prices", StreamName: PriceStream},
		{Subject: CommandSubjectPrefix + ">", Kind: KindCommand, ConsumerName: "dsc-engine-commands", StreamName: CommandStream},
	}
}

// NATSSubscriber consumes JetStream subjects and queues their messages for
// the router.
type NATSSubscriber struct {
	js        jetstream.JetStream
	out       chan<- RawMessage
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

func NewNATSSubscriber(js jetstream.JetStream, out chan<- RawMessage, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:     js,
		out:    out,
		logger: logger,
	}
}

// Subscribe creates a durable consumer per subject.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		kind := cfg.Kind
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawMessage{
				Kind:      kind,
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { _ = msg.Ack() },
				NakFunc:   func() { _ = msg.Nak() },
				TermFunc:  func() { _ = msg.Term() },
			}

			select {
			case ns.out <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// Stop stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// EnsureStreams creates the inbound and outbound streams if missing.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{Name: PriceStream, Subjects: []string{PriceSubjectPrefix + ">"}},
		{Name: CommandStream, Subjects: []string{CommandSubjectPrefix + ">"}},
		{Name: EventStream, Subjects: []string{EventSubjectPrefix + ">"}},
	}

	for _, cfg := range streams {
		cfg.Storage = jetstream.FileStorage
		cfg.Retention = jetstream.LimitsPolicy
		cfg.MaxAge = 72 * time.Hour
		cfg.Replicas = 1
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("dscengine"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
