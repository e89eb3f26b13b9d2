package eventsourcing_test

import (
	"context"
	"sync/atomic"

	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
	"github.com/plaenen/fnsourcing/pkg/store/memory"
)

// counter is the aggregate used throughout the kernel tests.
type counter struct {
	ID      string `json:"id"`
	Count   int    `json:"count"`
	Version int64  `json:"version"`
}

func (c counter) AggregateVersion() int64 {
	return c.Version
}

func evolveCounter(state counter, event es.Message) counter {
	switch event.Name() {
	case "Opened":
		id, _ := event.Field("id")
		state.ID = id.(string)
	case "Incremented":
		by, _ := event.Field("by")
		n, _ := es.ToInt64(by)
		state.Count += int(n)
	}
	if v, ok := event.Field("version"); ok {
		state.Version, _ = es.ToInt64(v)
	}
	return state
}

func opened(id string, version int64) es.Message {
	return es.NewEvent("Opened", es.Payload{"id": id, "version": version})
}

func incremented(id string, by int, version int64) es.Message {
	return es.NewEvent("Incremented", es.Payload{"id": id, "by": by, "version": version})
}

// spyStore counts every call reaching the wrapped store.
type spyStore struct {
	inner *memory.EventStore

	hasStream atomic.Int32
	loads     atomic.Int32
	writes    atomic.Int32
	txs       atomic.Int32
}

func newSpyStore() *spyStore {
	return &spyStore{inner: memory.NewEventStore()}
}

func (s *spyStore) calls() int32 {
	return s.hasStream.Load() + s.loads.Load() + s.writes.Load() + s.txs.Load()
}

func (s *spyStore) HasStream(ctx context.Context, stream es.StreamName) (bool, error) {
	s.hasStream.Add(1)
	return s.inner.HasStream(ctx, stream)
}

func (s *spyStore) Load(ctx context.Context, query es.LoadQuery) ([]es.Message, error) {
	s.loads.Add(1)
	return s.inner.Load(ctx, query)
}

func (s *spyStore) Create(ctx context.Context, stream es.StreamName, events []es.Message) error {
	s.writes.Add(1)
	return s.inner.Create(ctx, stream, events)
}

func (s *spyStore) AppendTo(ctx context.Context, stream es.StreamName, events []es.Message) error {
	s.writes.Add(1)
	return s.inner.AppendTo(ctx, stream, events)
}

func (s *spyStore) BeginTx(ctx context.Context) (es.Transaction, error) {
	s.txs.Add(1)
	return s.inner.BeginTx(ctx)
}

// spySnapshots counts snapshot reads and writes.
type spySnapshots struct {
	inner *memory.SnapshotStore
	gets  atomic.Int32
	saves atomic.Int32
}

func newSpySnapshots() *spySnapshots {
	return &spySnapshots{inner: memory.NewSnapshotStore()}
}

func (s *spySnapshots) Get(ctx context.Context, aggregateType, aggregateID string) (*es.Snapshot, error) {
	s.gets.Add(1)
	return s.inner.Get(ctx, aggregateType, aggregateID)
}

func (s *spySnapshots) Save(ctx context.Context, snapshot *es.Snapshot) error {
	s.saves.Add(1)
	return s.inner.Save(ctx, snapshot)
}
