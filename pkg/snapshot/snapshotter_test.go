package snapshot_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
	"github.com/plaenen/fnsourcing/pkg/snapshot"
	"github.com/plaenen/fnsourcing/pkg/store/memory"
)

type tally struct {
	ID      string `json:"id"`
	Total   int64  `json:"total"`
	Version int64  `json:"version"`
}

func evolveTally(state tally, event es.Message) tally {
	if id, ok := event.Field("id"); ok {
		state.ID = id.(string)
	}
	if n, ok := event.Field("n"); ok {
		v, _ := es.ToInt64(n)
		state.Total += v
	}
	if v, ok := event.Field("version"); ok {
		state.Version, _ = es.ToInt64(v)
	}
	return state
}

func added(id string, n, version int64) es.Message {
	def := tallies()
	event := es.NewEvent("Added", es.Payload{"id": id, "n": n, "version": version})
	return def.MetadataEnricher(id, version, nil)(event)
}

func tallies() *es.Definition[tally] {
	return es.NewDefinition("tally", evolveTally, es.WithOneStreamPerAggregate[tally]())
}

type countingRecorder struct {
	n atomic.Int32
}

func (r *countingRecorder) RecordSnapshot(context.Context, string) {
	r.n.Add(1)
}

func seed(t *testing.T, events *memory.EventStore, id string, count int64) {
	t.Helper()
	batch := make([]es.Message, 0, count)
	for v := int64(1); v <= count; v++ {
		batch = append(batch, added(id, v, v))
	}
	require.NoError(t, events.Create(context.Background(), tallies().StreamName(id), batch))
}

func TestIntervalStrategy(t *testing.T) {
	s := snapshot.NewIntervalStrategy(3)
	assert.False(t, s.ShouldCreateSnapshot(2, 2))
	assert.True(t, s.ShouldCreateSnapshot(3, 3))
	assert.True(t, s.ShouldCreateSnapshot(10, 4))

	assert.False(t, snapshot.NewIntervalStrategy(0).ShouldCreateSnapshot(10, 10))
}

func TestAlways(t *testing.T) {
	assert.False(t, snapshot.Always{}.ShouldCreateSnapshot(5, 0))
	assert.True(t, snapshot.Always{}.ShouldCreateSnapshot(5, 1))
}

func TestSnapshotter(t *testing.T) {
	ctx := context.Background()

	t.Run("takes snapshot when interval is reached", func(t *testing.T) {
		events := memory.NewEventStore()
		snapshots := memory.NewSnapshotStore()
		recorder := &countingRecorder{}
		seed(t, events, "t-1", 4)

		s := snapshot.New(tallies(), events, snapshots,
			snapshot.WithStrategy(snapshot.NewIntervalStrategy(3)),
			snapshot.WithRecorder(recorder),
		)

		taken, err := s.Take(ctx, "t-1")
		require.NoError(t, err)
		assert.True(t, taken)
		assert.Equal(t, int32(1), recorder.n.Load())

		snap, err := snapshots.Get(ctx, "tally", "t-1")
		require.NoError(t, err)
		assert.Equal(t, int64(4), snap.Version)

		state, err := tallies().UnmarshalState(snap.State)
		require.NoError(t, err)
		assert.Equal(t, tally{ID: "t-1", Total: 10, Version: 4}, state)
	})

	t.Run("skips when too few events are new", func(t *testing.T) {
		events := memory.NewEventStore()
		snapshots := memory.NewSnapshotStore()
		seed(t, events, "t-1", 2)

		s := snapshot.New(tallies(), events, snapshots,
			snapshot.WithStrategy(snapshot.NewIntervalStrategy(3)),
		)

		taken, err := s.Take(ctx, "t-1")
		require.NoError(t, err)
		assert.False(t, taken)

		_, err = snapshots.Get(ctx, "tally", "t-1")
		assert.ErrorIs(t, err, es.ErrSnapshotNotFound)
	})

	t.Run("counts only events after the last snapshot", func(t *testing.T) {
		events := memory.NewEventStore()
		snapshots := memory.NewSnapshotStore()
		seed(t, events, "t-1", 3)

		s := snapshot.New(tallies(), events, snapshots,
			snapshot.WithStrategy(snapshot.NewIntervalStrategy(3)),
		)

		taken, err := s.Take(ctx, "t-1")
		require.NoError(t, err)
		require.True(t, taken)

		require.NoError(t, events.AppendTo(ctx, tallies().StreamName("t-1"), []es.Message{added("t-1", 4, 4)}))

		taken, err = s.Take(ctx, "t-1")
		require.NoError(t, err)
		assert.False(t, taken)
	})

	t.Run("unknown aggregate has nothing to snapshot", func(t *testing.T) {
		s := snapshot.New(tallies(), memory.NewEventStore(), memory.NewSnapshotStore(),
			snapshot.WithStrategy(snapshot.Always{}),
		)

		taken, err := s.Take(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, taken)
	})
}

func TestSnapshotterHandle(t *testing.T) {
	ctx := context.Background()
	events := memory.NewEventStore()
	snapshots := memory.NewSnapshotStore()
	seed(t, events, "t-1", 1)

	s := snapshot.New(tallies(), events, snapshots, snapshot.WithStrategy(snapshot.Always{}))

	t.Run("ignores other aggregate types", func(t *testing.T) {
		other := es.NewEvent("Added", es.Payload{"id": "t-1"}).
			WithAddedMetadata(es.MetadataAggregateType, "other").
			WithAddedMetadata(es.MetadataAggregateID, "t-1")

		require.NoError(t, s.Handle(ctx, other))
		_, err := snapshots.Get(ctx, "tally", "t-1")
		assert.ErrorIs(t, err, es.ErrSnapshotNotFound)
	})

	t.Run("snapshots the event's aggregate", func(t *testing.T) {
		require.NoError(t, s.Handle(ctx, added("t-1", 1, 1)))

		snap, err := snapshots.Get(ctx, "tally", "t-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), snap.Version)
	})

	t.Run("requires aggregate id", func(t *testing.T) {
		event := es.NewEvent("Added", nil).WithAddedMetadata(es.MetadataAggregateType, "tally")
		assert.Error(t, s.Handle(ctx, event))
	})
}
