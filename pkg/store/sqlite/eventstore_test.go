package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
	"github.com/plaenen/fnsourcing/pkg/store/sqlite"
)

func newStore(t *testing.T) *sqlite.EventStore {
	t.Helper()
	store, err := sqlite.NewEventStore(context.Background(), sqlite.WithMemoryDatabase())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func event(name, aggregateID string, version int64) es.Message {
	return es.NewEvent(name, es.Payload{"id": aggregateID, "version": version},
		es.WithMetadata(es.Metadata{
			es.MetadataAggregateID:      aggregateID,
			es.MetadataAggregateType:    "account",
			es.MetadataAggregateVersion: version,
		}),
	)
}

func TestEventStore(t *testing.T) {
	ctx := context.Background()

	t.Run("CreateAndLoad", func(t *testing.T) {
		store := newStore(t)

		exists, err := store.HasStream(ctx, "account-1")
		require.NoError(t, err)
		assert.False(t, exists)

		first := event("Opened", "1", 1)
		require.NoError(t, store.Create(ctx, "account-1", []es.Message{first, event("Deposited", "1", 2)}))

		exists, err = store.HasStream(ctx, "account-1")
		require.NoError(t, err)
		assert.True(t, exists)

		loaded, err := store.Load(ctx, es.LoadQuery{Stream: "account-1", FromNumber: 1})
		require.NoError(t, err)
		require.Len(t, loaded, 2)
		assert.Equal(t, first.ID(), loaded[0].ID())
		assert.Equal(t, "Opened", loaded[0].Name())
		assert.Equal(t, es.KindEvent, loaded[0].Kind())
		assert.True(t, first.CreatedAt().Equal(loaded[0].CreatedAt()))

		id, _ := loaded[0].Field("id")
		assert.Equal(t, "1", id)
		v, _ := loaded[1].MetadataValue(es.MetadataAggregateVersion)
		n, err := es.ToInt64(v)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
	})

	t.Run("StreamErrors", func(t *testing.T) {
		store := newStore(t)

		err := store.AppendTo(ctx, "missing", []es.Message{event("Opened", "1", 1)})
		assert.ErrorIs(t, err, es.ErrStreamNotFound)

		_, err = store.Load(ctx, es.LoadQuery{Stream: "missing"})
		assert.ErrorIs(t, err, es.ErrStreamNotFound)

		require.NoError(t, store.Create(ctx, "s", []es.Message{event("Opened", "1", 1)}))
		err = store.Create(ctx, "s", []es.Message{event("Opened", "2", 1)})
		assert.ErrorIs(t, err, es.ErrStreamExists)
	})

	t.Run("DuplicateVersionConflicts", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, "s", []es.Message{event("Opened", "1", 1)}))

		err := store.AppendTo(ctx, "s", []es.Message{event("Deposited", "1", 1)})
		assert.ErrorIs(t, err, es.ErrConcurrencyConflict)

		require.NoError(t, store.AppendTo(ctx, "s", []es.Message{event("Opened", "2", 1)}))

		loaded, err := store.Load(ctx, es.LoadQuery{Stream: "s", FromNumber: 1})
		require.NoError(t, err)
		assert.Len(t, loaded, 2)
	})

	t.Run("FailedBatchLeavesNoTrace", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, "s", []es.Message{event("Opened", "1", 1)}))

		err := store.AppendTo(ctx, "s", []es.Message{event("Deposited", "1", 2), event("Deposited", "1", 1)})
		assert.ErrorIs(t, err, es.ErrConcurrencyConflict)

		loaded, err := store.Load(ctx, es.LoadQuery{Stream: "s", FromNumber: 1})
		require.NoError(t, err)
		assert.Len(t, loaded, 1)
	})

	t.Run("MatcherAndBounds", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, "s", []es.Message{
			event("Opened", "1", 1),
			event("Opened", "2", 1),
			event("Deposited", "1", 2),
			event("Deposited", "1", 3),
		}))

		matcher := es.MetadataMatcher{}.
			With(es.MetadataAggregateType, es.OpEquals, "account").
			With(es.MetadataAggregateID, es.OpEquals, "1").
			With(es.MetadataAggregateVersion, es.OpGreaterThanEquals, 2)

		loaded, err := store.Load(ctx, es.LoadQuery{Stream: "s", FromNumber: 1, Matcher: matcher})
		require.NoError(t, err)
		assert.Len(t, loaded, 2)

		loaded, err = store.Load(ctx, es.LoadQuery{Stream: "s", FromNumber: 1, ToNumber: 3, Matcher: matcher})
		require.NoError(t, err)
		assert.Len(t, loaded, 1)

		_, err = store.Load(ctx, es.LoadQuery{Stream: "s", Matcher: es.MetadataMatcher{}.With("k", "~", 1)})
		assert.Error(t, err)
	})

	t.Run("Transaction", func(t *testing.T) {
		store := newStore(t)

		tx, err := store.BeginTx(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Create(ctx, "s", []es.Message{event("Opened", "1", 1)}))
		exists, err := tx.HasStream(ctx, "s")
		require.NoError(t, err)
		assert.True(t, exists)
		require.NoError(t, tx.AppendTo(ctx, "s", []es.Message{event("Deposited", "1", 2)}))
		require.NoError(t, tx.Rollback())

		exists, err = store.HasStream(ctx, "s")
		require.NoError(t, err)
		assert.False(t, exists)

		tx, err = store.BeginTx(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Create(ctx, "s", []es.Message{event("Opened", "1", 1)}))
		require.NoError(t, tx.Commit())
		assert.NoError(t, tx.Rollback())

		exists, err = store.HasStream(ctx, "s")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("Migrations", func(t *testing.T) {
		store := newStore(t)
		version, err := store.MigrationVersion(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, version)
		require.NoError(t, store.RunMigrations(ctx))
	})
}

func TestEventStoreFileConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.NewEventStore(ctx, sqlite.WithFilename(filepath.Join(t.TempDir(), "events.db")))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Create(ctx, "s", []es.Message{event("Opened", "1", 1)}))

	const writers = 4
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.AppendTo(ctx, "s", []es.Message{event("Deposited", "1", 2)})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, es.ErrConcurrencyConflict)
	}
	assert.Equal(t, 1, succeeded)
}
