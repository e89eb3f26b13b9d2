package eventsourcing

import (
	"maps"
	"time"

	"github.com/plaenen/fnsourcing/pkg/idgen"
)

// MessageKind distinguishes commands from events.
type MessageKind string

const (
	// KindCommand marks an intention to change state.
	KindCommand MessageKind = "command"

	// KindEvent marks a fact raised by a handler.
	KindEvent MessageKind = "event"
)

// Payload is the field name to value mapping carried by a message.
type Payload map[string]any

// Metadata is the key to value mapping attached to a message.
type Metadata map[string]any

// Metadata keys attached by the enrichment step.
const (
	MetadataAggregateID      = "_aggregate_id"
	MetadataAggregateType    = "_aggregate_type"
	MetadataAggregateVersion = "_aggregate_version"
	MetadataCausationID      = "causation_id"
	MetadataCausationName    = "causation_name"
)

// Message is an immutable named message. Commands and events share this
// carrier; the Kind tells them apart.
//
// The zero value is not a valid message. Use NewCommand, NewEvent or NewMessage.
type Message struct {
	id        string
	name      string
	kind      MessageKind
	payload   Payload
	metadata  Metadata
	createdAt time.Time
}

// MessageOption customizes a message at construction time.
type MessageOption func(*Message)

// WithID sets the message identifier instead of a generated one.
func WithID(id string) MessageOption {
	return func(m *Message) {
		m.id = id
	}
}

// WithMetadata sets the initial metadata. The map is copied.
func WithMetadata(metadata Metadata) MessageOption {
	return func(m *Message) {
		m.metadata = maps.Clone(metadata)
	}
}

// WithCreatedAt sets the creation time.
func WithCreatedAt(t time.Time) MessageOption {
	return func(m *Message) {
		m.createdAt = t
	}
}

// NewMessage creates a message of the given kind. The payload is copied.
func NewMessage(kind MessageKind, name string, payload Payload, opts ...MessageOption) Message {
	m := Message{
		name:      name,
		kind:      kind,
		payload:   maps.Clone(payload),
		createdAt: Now(),
	}
	for _, opt := range opts {
		opt(&m)
	}

	if m.id == "" {
		if kind == KindEvent {
			m.id = idgen.NewSortableID()
		} else {
			m.id = idgen.NewID()
		}
	}
	if m.payload == nil {
		m.payload = Payload{}
	}
	if m.metadata == nil {
		m.metadata = Metadata{}
	}

	return m
}

// NewCommand creates a command message.
func NewCommand(name string, payload Payload, opts ...MessageOption) Message {
	return NewMessage(KindCommand, name, payload, opts...)
}

// NewEvent creates an event message.
func NewEvent(name string, payload Payload, opts ...MessageOption) Message {
	return NewMessage(KindEvent, name, payload, opts...)
}

// ID returns the unique message identifier.
func (m Message) ID() string {
	return m.id
}

// Name returns the logical message name, e.g. "RegisterUser".
func (m Message) Name() string {
	return m.name
}

// Kind returns whether the message is a command or an event.
func (m Message) Kind() MessageKind {
	return m.kind
}

// CreatedAt returns when the message was created.
func (m Message) CreatedAt() time.Time {
	return m.createdAt
}

// Payload returns a copy of the payload.
func (m Message) Payload() Payload {
	return maps.Clone(m.payload)
}

// Metadata returns a copy of the metadata.
func (m Message) Metadata() Metadata {
	return maps.Clone(m.metadata)
}

// Field returns a single payload value.
func (m Message) Field(name string) (any, bool) {
	v, ok := m.payload[name]
	return v, ok
}

// MetadataValue returns a single metadata value.
func (m Message) MetadataValue(key string) (any, bool) {
	v, ok := m.metadata[key]
	return v, ok
}

// WithAddedMetadata returns a copy of the message with key set to value.
// The receiver is left untouched.
func (m Message) WithAddedMetadata(key string, value any) Message {
	next := m
	next.metadata = maps.Clone(m.metadata)
	if next.metadata == nil {
		next.metadata = Metadata{}
	}
	next.metadata[key] = value
	return next
}

// IsZero reports whether m was never constructed.
func (m Message) IsZero() bool {
	return m.id == "" && m.name == "" && m.kind == ""
}
