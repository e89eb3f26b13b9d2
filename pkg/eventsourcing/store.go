package eventsourcing

import (
	"context"
	"time"
)

// StreamName addresses an ordered, appendable sequence of events.
type StreamName string

func (s StreamName) String() string {
	return string(s)
}

// AggregateStreamName returns the dedicated stream of one aggregate.
func AggregateStreamName(base StreamName, aggregateID string) StreamName {
	return StreamName(string(base) + "-" + aggregateID)
}

// LoadQuery selects events from one stream.
type LoadQuery struct {
	Stream StreamName

	// FromNumber is the first stream number to return (1-based).
	FromNumber int64

	// ToNumber is the last stream number to return. Zero means no upper bound.
	ToNumber int64

	// Matcher narrows the result to events whose metadata matches.
	Matcher MetadataMatcher
}

// StreamReader reads streams.
type StreamReader interface {
	// HasStream reports whether the stream exists.
	HasStream(ctx context.Context, stream StreamName) (bool, error)

	// Load returns matching events in ascending stream order.
	// Returns ErrStreamNotFound if the stream doesn't exist.
	Load(ctx context.Context, query LoadQuery) ([]Message, error)
}

// StreamWriter writes streams.
type StreamWriter interface {
	// HasStream reports whether the stream exists.
	HasStream(ctx context.Context, stream StreamName) (bool, error)

	// Create creates the stream with events as its initial content.
	// Returns ErrStreamExists if the stream already exists.
	Create(ctx context.Context, stream StreamName, events []Message) error

	// AppendTo appends events atomically.
	// Returns ErrStreamNotFound if the stream doesn't exist and
	// ErrConcurrencyConflict if an event with the same aggregate id and
	// version is already stored in the stream.
	AppendTo(ctx context.Context, stream StreamName, events []Message) error
}

// EventStore is the event store capability set consumed by the kernel.
type EventStore interface {
	StreamReader
	StreamWriter
}

// Transaction is a unit of writes against a TransactionalEventStore.
type Transaction interface {
	StreamWriter

	Commit() error
	Rollback() error
}

// TransactionalEventStore is an event store that can group writes.
type TransactionalEventStore interface {
	EventStore

	BeginTx(ctx context.Context) (Transaction, error)
}

// Snapshot is a cached fold of an aggregate's state at a known version.
type Snapshot struct {
	AggregateType string
	AggregateID   string
	Version       int64
	State         []byte
	TakenAt       time.Time
}

// SnapshotStore persists snapshots. It is written by the snapshotter only.
type SnapshotStore interface {
	// Get returns the latest snapshot, or ErrSnapshotNotFound.
	Get(ctx context.Context, aggregateType, aggregateID string) (*Snapshot, error)

	// Save stores snapshot, replacing an older one for the same aggregate.
	Save(ctx context.Context, snapshot *Snapshot) error
}

// EventPublisher forwards committed events to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, stream StreamName, events []Message) error
}
