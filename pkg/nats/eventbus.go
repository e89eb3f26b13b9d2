// Package nats publishes committed events to NATS JetStream and carries
// commands over NATS request/reply.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/plaenen/fnsourcing/pkg/codec"
	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
)

// Message headers set on published events.
const (
	HeaderContentType = "Content-Type"
	HeaderStream      = "Stream"
)

// EventBus publishes events to a JetStream stream and consumes them with
// durable consumers. It implements eventsourcing.EventPublisher.
type EventBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

var _ es.EventPublisher = (*EventBus)(nil)

// Config holds configuration for the event bus.
type Config struct {
	// URL is the NATS server URL
	URL string

	// StreamName is the JetStream stream name for events
	StreamName string

	// SubjectPrefix is the first subject token; events are published to
	// "<prefix>.<aggregate_type>.<event_name>".
	SubjectPrefix string

	// MaxAge is how long to retain events in the stream
	MaxAge time.Duration

	// MaxBytes is the maximum bytes the stream can store
	MaxBytes int64

	// Storage selects file or memory storage for the stream.
	Storage nats.StorageType

	// Codec encodes event bodies. Defaults to codec.JSON.
	Codec codec.Codec

	// Logger receives delivery failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for the event bus.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		StreamName:    "EVENTS",
		SubjectPrefix: "events",
		MaxAge:        7 * 24 * time.Hour,
		MaxBytes:      1024 * 1024 * 1024,
		Storage:       nats.FileStorage,
		Codec:         codec.JSON{},
	}
}

// TestConfig returns a config suitable for an embedded test server.
func TestConfig(serverURL string) Config {
	config := DefaultConfig()
	config.URL = serverURL
	config.StreamName = "TEST_EVENTS"
	config.MaxAge = time.Minute
	config.MaxBytes = 10 * 1024 * 1024
	config.Storage = nats.MemoryStorage
	return config
}

// NewEventBus connects to NATS and creates or updates the event stream.
func NewEventBus(config Config) (*EventBus, error) {
	if config.Codec == nil {
		config.Codec = codec.JSON{}
	}
	if config.SubjectPrefix == "" {
		config.SubjectPrefix = "events"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(config.URL, nats.Name("fnsourcing-eventbus"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	bus := &EventBus{
		nc:     nc,
		js:     js,
		config: config,
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}

	if err := bus.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return bus, nil
}

func (b *EventBus) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:      b.config.StreamName,
		Subjects:  []string{b.config.SubjectPrefix + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    b.config.MaxAge,
		MaxBytes:  b.config.MaxBytes,
		Storage:   b.config.Storage,
		Replicas:  1,
	}

	stream, err := b.js.StreamInfo(b.config.StreamName)
	if err != nil {
		if _, err := b.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		return nil
	}

	if stream.Config.MaxAge != b.config.MaxAge || stream.Config.MaxBytes != b.config.MaxBytes {
		if _, err := b.js.UpdateStream(streamConfig); err != nil {
			return fmt.Errorf("failed to update stream: %w", err)
		}
	}
	return nil
}

// Subject returns the subject an event is published to.
func Subject(prefix, aggregateType, eventName string) string {
	return prefix + "." + token(aggregateType) + "." + token(eventName)
}

// token makes s usable as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

func aggregateTypeOf(stream es.StreamName, event es.Message) string {
	if v, ok := event.MetadataValue(es.MetadataAggregateType); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return stream.String()
}

// Publish publishes events in order. The event id is the JetStream message
// id, so republishing a batch does not duplicate deliveries.
func (b *EventBus) Publish(ctx context.Context, stream es.StreamName, events []es.Message) error {
	for _, event := range events {
		data, err := b.config.Codec.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to serialize event %s: %w", event.ID(), err)
		}

		msg := nats.NewMsg(Subject(b.config.SubjectPrefix, aggregateTypeOf(stream, event), event.Name()))
		msg.Data = data
		msg.Header.Set(HeaderContentType, b.config.Codec.ContentType())
		msg.Header.Set(HeaderStream, stream.String())

		if _, err := b.js.PublishMsg(msg, nats.MsgId(event.ID()), nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to publish event %s: %w", event.ID(), err)
		}
	}
	return nil
}

// Filter narrows a subscription. Empty fields match everything.
type Filter struct {
	AggregateType string
	EventName     string
}

func (b *EventBus) subject(filter Filter) string {
	switch {
	case filter.AggregateType == "" && filter.EventName == "":
		return b.config.SubjectPrefix + ".>"
	case filter.EventName == "":
		return b.config.SubjectPrefix + "." + token(filter.AggregateType) + ".>"
	case filter.AggregateType == "":
		return b.config.SubjectPrefix + ".*." + token(filter.EventName)
	default:
		return Subject(b.config.SubjectPrefix, filter.AggregateType, filter.EventName)
	}
}

// EventHandler consumes one delivered event. Returning an error redelivers it.
type EventHandler func(ctx context.Context, event es.Message) error

// Subscribe consumes events matching filter with the durable consumer name.
// Subscribers sharing a name share the work.
func (b *EventBus) Subscribe(ctx context.Context, name string, filter Filter, handler EventHandler) (*Subscription, error) {
	durable := token(name)

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subs[durable]; exists {
		return nil, fmt.Errorf("subscription %s already exists", durable)
	}

	sub, err := b.js.QueueSubscribe(
		b.subject(filter),
		durable,
		func(msg *nats.Msg) {
			event, err := b.config.Codec.Unmarshal(msg.Data)
			if err != nil {
				b.logger.ErrorContext(ctx, "dropping undecodable event",
					slog.String("subject", msg.Subject),
					slog.String("error", err.Error()),
				)
				msg.Term()
				return
			}

			if err := handler(ctx, event); err != nil {
				b.logger.WarnContext(ctx, "event handler failed, redelivering",
					slog.String("event_id", event.ID()),
					slog.String("event_name", event.Name()),
					slog.String("error", err.Error()),
				)
				msg.Nak()
				return
			}

			msg.Ack()
		},
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.DeliverAll(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	b.subs[durable] = sub
	return &Subscription{bus: b, sub: sub, name: durable}, nil
}

// Close unsubscribes everything and closes the connection.
func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for name, sub := range b.subs {
		sub.Unsubscribe()
		delete(b.subs, name)
	}
	b.nc.Close()
	return nil
}

// Subscription is an active consumer.
type Subscription struct {
	bus  *EventBus
	sub  *nats.Subscription
	name string
}

// Unsubscribe stops delivery. The durable consumer keeps its position.
func (s *Subscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	delete(s.bus.subs, s.name)
	return s.sub.Unsubscribe()
}
