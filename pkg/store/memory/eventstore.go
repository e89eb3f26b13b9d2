// Package memory provides in-process event and snapshot stores. They follow the
// same conflict rules as the SQL stores and are meant for tests and demos.
package memory

import (
	"context"
	"fmt"
	"sync"

	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
)

// versionKey identifies one aggregate version inside a stream.
type versionKey struct {
	aggregateID string
	version     int64
}

type stream struct {
	events   []es.Message
	versions map[versionKey]struct{}
}

// EventStore is a transactional in-memory event store.
type EventStore struct {
	mu      sync.RWMutex
	streams map[es.StreamName]*stream
}

var _ es.TransactionalEventStore = (*EventStore)(nil)

// NewEventStore creates an empty store.
func NewEventStore() *EventStore {
	return &EventStore{
		streams: make(map[es.StreamName]*stream),
	}
}

// HasStream reports whether the stream exists.
func (s *EventStore) HasStream(ctx context.Context, name es.StreamName) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.streams[name]
	return ok, nil
}

// Load returns the events selected by query in stream order.
func (s *EventStore) Load(ctx context.Context, query es.LoadQuery) ([]es.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.streams[query.Stream]
	if !ok {
		return nil, fmt.Errorf("load stream %q: %w", query.Stream, es.ErrStreamNotFound)
	}

	var result []es.Message
	for i, event := range st.events {
		number := int64(i + 1)
		if number < query.FromNumber {
			continue
		}
		if query.ToNumber > 0 && number > query.ToNumber {
			break
		}
		if !query.Matcher.Matches(event.Metadata()) {
			continue
		}
		result = append(result, event)
	}
	return result, nil
}

// Create creates a stream holding events.
func (s *EventStore) Create(ctx context.Context, name es.StreamName, events []es.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit([]write{{stream: name, events: events, create: true}})
}

// AppendTo appends events to an existing stream.
func (s *EventStore) AppendTo(ctx context.Context, name es.StreamName, events []es.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit([]write{{stream: name, events: events}})
}

// BeginTx starts a transaction. Writes become visible on Commit.
func (s *EventStore) BeginTx(ctx context.Context) (es.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Tx{store: s}, nil
}

// Count returns the number of events in a stream.
func (s *EventStore) Count(name es.StreamName) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.streams[name]; ok {
		return len(st.events)
	}
	return 0
}

type write struct {
	stream es.StreamName
	events []es.Message
	create bool
}

// commit validates all writes against the current content and applies them
// together, or none of them.
func (s *EventStore) commit(writes []write) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateLocked(writes); err != nil {
		return err
	}

	for _, w := range writes {
		st, ok := s.streams[w.stream]
		if !ok {
			st = &stream{versions: make(map[versionKey]struct{})}
			s.streams[w.stream] = st
		}
		for _, event := range w.events {
			if key, ok := keyOf(event); ok {
				st.versions[key] = struct{}{}
			}
			st.events = append(st.events, event)
		}
	}
	return nil
}

func (s *EventStore) validateLocked(writes []write) error {
	created := make(map[es.StreamName]bool)
	pending := make(map[es.StreamName]map[versionKey]struct{})

	for _, w := range writes {
		_, exists := s.streams[w.stream]
		exists = exists || created[w.stream]

		switch {
		case w.create && exists:
			return fmt.Errorf("create stream %q: %w", w.stream, es.ErrStreamExists)
		case !w.create && !exists:
			return fmt.Errorf("append to stream %q: %w", w.stream, es.ErrStreamNotFound)
		}
		created[w.stream] = true

		seen := pending[w.stream]
		if seen == nil {
			seen = make(map[versionKey]struct{})
			pending[w.stream] = seen
		}
		for _, event := range w.events {
			key, ok := keyOf(event)
			if !ok {
				continue
			}
			_, stored := s.versionsOf(w.stream)[key]
			_, batched := seen[key]
			if stored || batched {
				return fmt.Errorf("stream %q: aggregate %s version %d: %w",
					w.stream, key.aggregateID, key.version, es.ErrConcurrencyConflict)
			}
			seen[key] = struct{}{}
		}
	}
	return nil
}

func (s *EventStore) versionsOf(name es.StreamName) map[versionKey]struct{} {
	if st, ok := s.streams[name]; ok {
		return st.versions
	}
	return nil
}

func keyOf(event es.Message) (versionKey, bool) {
	id, ok := event.MetadataValue(es.MetadataAggregateID)
	if !ok {
		return versionKey{}, false
	}
	raw, ok := event.MetadataValue(es.MetadataAggregateVersion)
	if !ok {
		return versionKey{}, false
	}
	version, err := es.ToInt64(raw)
	if err != nil {
		return versionKey{}, false
	}
	return versionKey{aggregateID: fmt.Sprint(id), version: version}, true
}

// Tx buffers writes until Commit.
type Tx struct {
	store  *EventStore
	writes []write
	done   bool
}

// HasStream reports whether the stream exists or is created by this transaction.
func (tx *Tx) HasStream(ctx context.Context, name es.StreamName) (bool, error) {
	for _, w := range tx.writes {
		if w.create && w.stream == name {
			return true, nil
		}
	}
	return tx.store.HasStream(ctx, name)
}

func (tx *Tx) Create(ctx context.Context, name es.StreamName, events []es.Message) error {
	return tx.add(ctx, write{stream: name, events: events, create: true})
}

func (tx *Tx) AppendTo(ctx context.Context, name es.StreamName, events []es.Message) error {
	return tx.add(ctx, write{stream: name, events: events})
}

func (tx *Tx) add(ctx context.Context, w write) error {
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	next := append(append([]write(nil), tx.writes...), w)

	tx.store.mu.RLock()
	err := tx.store.validateLocked(next)
	tx.store.mu.RUnlock()
	if err != nil {
		return err
	}

	tx.writes = next
	return nil
}

// Commit applies the buffered writes. Writes committed by others since they
// were buffered are checked again.
func (tx *Tx) Commit() error {
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	tx.done = true
	return tx.store.commit(tx.writes)
}

// Rollback discards the buffered writes.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.writes = nil
	return nil
}
