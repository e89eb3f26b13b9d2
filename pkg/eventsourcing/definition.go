package eventsourcing

import (
	"encoding/json"
	"fmt"
)

const (
	// DefaultIdentifierName is the payload field holding the aggregate id.
	DefaultIdentifierName = "id"

	// DefaultVersionName is the payload field holding the aggregate version.
	DefaultVersionName = "version"
)

// Evolver folds one event onto a state and returns the new state.
// It must be pure: the same inputs always produce the same output.
type Evolver[S any] func(state S, event Message) S

// Enricher transforms an event into a new, enriched event.
type Enricher func(event Message) Message

// Versioned is implemented by typed states that know their version.
type Versioned interface {
	AggregateVersion() int64
}

// StateSerde converts states to and from snapshot bytes.
type StateSerde[S any] interface {
	MarshalState(state S) ([]byte, error)
	UnmarshalState(data []byte) (S, error)
}

// JSONStateSerde encodes states with encoding/json.
type JSONStateSerde[S any] struct{}

func (JSONStateSerde[S]) MarshalState(state S) ([]byte, error) {
	return json.Marshal(state)
}

func (JSONStateSerde[S]) UnmarshalState(data []byte) (S, error) {
	var state S
	err := json.Unmarshal(data, &state)
	return state, err
}

// StreamNamer computes the stream an aggregate lives in.
type StreamNamer interface {
	StreamName(aggregateID string) StreamName
}

// Definition is the per-aggregate-type policy: identifier and version
// extraction, stream naming, metadata matching and enrichment, and state
// folding. Build it once per aggregate type with NewDefinition and share it.
type Definition[S any] struct {
	aggregateType         string
	identifierName        string
	versionName           string
	streamName            StreamName
	oneStreamPerAggregate bool
	initial               S
	evolve                Evolver[S]
	serde                 StateSerde[S]
}

// DefinitionOption configures a Definition.
type DefinitionOption[S any] func(*Definition[S])

// WithIdentifierName overrides the identifier field name.
func WithIdentifierName[S any](name string) DefinitionOption[S] {
	return func(d *Definition[S]) {
		d.identifierName = name
	}
}

// WithVersionName overrides the version field name.
func WithVersionName[S any](name string) DefinitionOption[S] {
	return func(d *Definition[S]) {
		d.versionName = name
	}
}

// WithStreamName sets the base stream name. Defaults to the aggregate type.
func WithStreamName[S any](stream StreamName) DefinitionOption[S] {
	return func(d *Definition[S]) {
		d.streamName = stream
	}
}

// WithOneStreamPerAggregate stores each aggregate in its own stream named
// "<base>-<aggregateID>".
func WithOneStreamPerAggregate[S any]() DefinitionOption[S] {
	return func(d *Definition[S]) {
		d.oneStreamPerAggregate = true
	}
}

// WithInitialState sets the state folding starts from.
func WithInitialState[S any](state S) DefinitionOption[S] {
	return func(d *Definition[S]) {
		d.initial = state
	}
}

// WithStateSerde sets the snapshot encoding. Defaults to JSON.
func WithStateSerde[S any](serde StateSerde[S]) DefinitionOption[S] {
	return func(d *Definition[S]) {
		d.serde = serde
	}
}

// NewDefinition creates the definition of an aggregate type.
//
// Example usage:
//
//	users := eventsourcing.NewDefinition("user", evolveUser,
//	    eventsourcing.WithOneStreamPerAggregate[User](),
//	)
func NewDefinition[S any](aggregateType string, evolve Evolver[S], opts ...DefinitionOption[S]) *Definition[S] {
	d := &Definition[S]{
		aggregateType:  aggregateType,
		identifierName: DefaultIdentifierName,
		versionName:    DefaultVersionName,
		streamName:     StreamName(aggregateType),
		evolve:         evolve,
		serde:          JSONStateSerde[S]{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AggregateType returns the aggregate type tag.
func (d *Definition[S]) AggregateType() string {
	return d.aggregateType
}

// IdentifierName returns the payload field holding the aggregate id.
func (d *Definition[S]) IdentifierName() string {
	return d.identifierName
}

// VersionName returns the payload field holding the aggregate version.
func (d *Definition[S]) VersionName() string {
	return d.versionName
}

// OneStreamPerAggregate reports whether each aggregate has a dedicated stream.
func (d *Definition[S]) OneStreamPerAggregate() bool {
	return d.oneStreamPerAggregate
}

// InitialState returns the state folding starts from.
func (d *Definition[S]) InitialState() S {
	return d.initial
}

// StreamName returns the stream holding the aggregate's events. It performs
// no I/O and is used identically when reading and writing.
func (d *Definition[S]) StreamName(aggregateID string) StreamName {
	if d.oneStreamPerAggregate {
		return AggregateStreamName(d.streamName, aggregateID)
	}
	return d.streamName
}

// ExtractAggregateID reads the identifier field from the message payload.
func (d *Definition[S]) ExtractAggregateID(m Message) (string, error) {
	v, ok := m.Field(d.identifierName)
	if !ok || v == nil {
		return "", &MissingFieldError{Field: d.identifierName, MessageName: m.Name(), Payload: m.Payload()}
	}
	id := fmt.Sprint(v)
	if id == "" {
		return "", &MissingFieldError{Field: d.identifierName, MessageName: m.Name(), Payload: m.Payload()}
	}
	return id, nil
}

// ExtractAggregateVersion reads the version field from the message payload.
func (d *Definition[S]) ExtractAggregateVersion(m Message) (int64, error) {
	v, ok := m.Field(d.versionName)
	if !ok || v == nil {
		return 0, &MissingFieldError{Field: d.versionName, MessageName: m.Name(), Payload: m.Payload()}
	}
	version, err := ToInt64(v)
	if err != nil {
		return 0, fmt.Errorf("%s: field %q: %w", m.Name(), d.versionName, err)
	}
	return version, nil
}

// StateVersion returns the version held by a state. Typed states implement
// Versioned; map states carry the version field.
func (d *Definition[S]) StateVersion(state S) (int64, error) {
	switch s := any(state).(type) {
	case Versioned:
		return s.AggregateVersion(), nil
	case Payload:
		return d.versionFromMap(s)
	case map[string]any:
		return d.versionFromMap(s)
	}
	return 0, &MissingFieldError{Field: d.versionName, MessageName: d.aggregateType + " state"}
}

func (d *Definition[S]) versionFromMap(state map[string]any) (int64, error) {
	v, ok := state[d.versionName]
	if !ok || v == nil {
		return 0, &MissingFieldError{Field: d.versionName, MessageName: d.aggregateType + " state", Payload: state}
	}
	return ToInt64(v)
}

// MetadataMatcher selects the events of one aggregate, from version onward,
// in a shared stream. Dedicated streams are already scoped, so it returns nil.
func (d *Definition[S]) MetadataMatcher(aggregateID string, version int64) MetadataMatcher {
	if d.oneStreamPerAggregate {
		return nil
	}
	return MetadataMatcher{}.
		With(MetadataAggregateType, OpEquals, d.aggregateType).
		With(MetadataAggregateID, OpEquals, aggregateID).
		With(MetadataAggregateVersion, OpGreaterThanEquals, version)
}

// MetadataEnricher returns a pure transformation tagging an event with the
// aggregate identity. When causation is not nil its id and name are added too.
func (d *Definition[S]) MetadataEnricher(aggregateID string, version int64, causation *Message) Enricher {
	return func(event Message) Message {
		enriched := event.
			WithAddedMetadata(MetadataAggregateID, aggregateID).
			WithAddedMetadata(MetadataAggregateType, d.aggregateType).
			WithAddedMetadata(MetadataAggregateVersion, version)
		if causation != nil {
			enriched = enriched.
				WithAddedMetadata(MetadataCausationID, causation.ID()).
				WithAddedMetadata(MetadataCausationName, causation.Name())
		}
		return enriched
	}
}

// Apply folds events onto state in order.
func (d *Definition[S]) Apply(state S, events ...Message) S {
	for _, event := range events {
		state = d.evolve(state, event)
	}
	return state
}

// MarshalState encodes a state for a snapshot.
func (d *Definition[S]) MarshalState(state S) ([]byte, error) {
	return d.serde.MarshalState(state)
}

// UnmarshalState decodes a snapshot state.
func (d *Definition[S]) UnmarshalState(data []byte) (S, error) {
	return d.serde.UnmarshalState(data)
}
