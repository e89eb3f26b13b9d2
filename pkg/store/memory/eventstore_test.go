package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
	"github.com/plaenen/fnsourcing/pkg/store/memory"
)

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
		store := memory.NewEventStore()

		exists, err := store.HasStream(ctx, "account-1")
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, store.Create(ctx, "account-1", []es.Message{
			event("Opened", "1", 1),
			event("Deposited", "1", 2),
		}))

		exists, err = store.HasStream(ctx, "account-1")
		require.NoError(t, err)
		assert.True(t, exists)

		loaded, err := store.Load(ctx, es.LoadQuery{Stream: "account-1", FromNumber: 2})
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		assert.Equal(t, "Deposited", loaded[0].Name())
	})

	t.Run("CreateExisting", func(t *testing.T) {
		store := memory.NewEventStore()
		require.NoError(t, store.Create(ctx, "s", []es.Message{event("Opened", "1", 1)}))

		err := store.Create(ctx, "s", []es.Message{event("Opened", "2", 1)})
		assert.ErrorIs(t, err, es.ErrStreamExists)
	})

	t.Run("AppendMissing", func(t *testing.T) {
		store := memory.NewEventStore()
		err := store.AppendTo(ctx, "missing", []es.Message{event("Opened", "1", 1)})
		assert.ErrorIs(t, err, es.ErrStreamNotFound)
	})

	t.Run("LoadMissing", func(t *testing.T) {
		store := memory.NewEventStore()
		_, err := store.Load(ctx, es.LoadQuery{Stream: "missing"})
		assert.ErrorIs(t, err, es.ErrStreamNotFound)
	})

	t.Run("DuplicateVersionConflicts", func(t *testing.T) {
		store := memory.NewEventStore()
		require.NoError(t, store.Create(ctx, "s", []es.Message{event("Opened", "1", 1)}))

		err := store.AppendTo(ctx, "s", []es.Message{event("Deposited", "1", 1)})
		assert.ErrorIs(t, err, es.ErrConcurrencyConflict)
		assert.Equal(t, 1, store.Count("s"))

		// Another aggregate in the same stream may reuse the version.
		require.NoError(t, store.AppendTo(ctx, "s", []es.Message{event("Opened", "2", 1)}))
		assert.Equal(t, 2, store.Count("s"))
	})

	t.Run("MatcherAndBounds", func(t *testing.T) {
		store := memory.NewEventStore()
		require.NoError(t, store.Create(ctx, "s", []es.Message{
			event("Opened", "1", 1),
			event("Opened", "2", 1),
			event("Deposited", "1", 2),
			event("Deposited", "1", 3),
		}))

		matcher := es.MetadataMatcher{}.
			With(es.MetadataAggregateID, es.OpEquals, "1").
			With(es.MetadataAggregateVersion, es.OpGreaterThanEquals, 2)

		loaded, err := store.Load(ctx, es.LoadQuery{Stream: "s", FromNumber: 1, ToNumber: 3, Matcher: matcher})
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		v, _ := loaded[0].MetadataValue(es.MetadataAggregateVersion)
		assert.EqualValues(t, 2, v)
	})
}

func TestTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("InvisibleUntilCommit", func(t *testing.T) {
		store := memory.NewEventStore()
		tx, err := store.BeginTx(ctx)
		require.NoError(t, err)

		require.NoError(t, tx.Create(ctx, "s", []es.Message{event("Opened", "1", 1)}))

		exists, err := tx.HasStream(ctx, "s")
		require.NoError(t, err)
		assert.True(t, exists)
		assert.Equal(t, 0, store.Count("s"))

		require.NoError(t, tx.AppendTo(ctx, "s", []es.Message{event("Deposited", "1", 2)}))
		require.NoError(t, tx.Commit())
		assert.Equal(t, 2, store.Count("s"))
	})

	t.Run("Rollback", func(t *testing.T) {
		store := memory.NewEventStore()
		tx, err := store.BeginTx(ctx)
		require.NoError(t, err)

		require.NoError(t, tx.Create(ctx, "s", []es.Message{event("Opened", "1", 1)}))
		require.NoError(t, tx.Rollback())

		exists, err := store.HasStream(ctx, "s")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("RacingCreate", func(t *testing.T) {
		store := memory.NewEventStore()
		first, err := store.BeginTx(ctx)
		require.NoError(t, err)
		second, err := store.BeginTx(ctx)
		require.NoError(t, err)

		require.NoError(t, first.Create(ctx, "s", []es.Message{event("Opened", "1", 1)}))
		require.NoError(t, second.Create(ctx, "s", []es.Message{event("Opened", "1", 1)}))

		require.NoError(t, first.Commit())
		err = second.Commit()
		require.Error(t, err)
		assert.True(t, es.IsConcurrencyConflict(err))
		assert.Equal(t, 1, store.Count("s"))
	})

	t.Run("FinishedTransaction", func(t *testing.T) {
		store := memory.NewEventStore()
		tx, err := store.BeginTx(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		err = tx.Create(ctx, "s", nil)
		assert.Error(t, err)
		assert.False(t, errors.Is(err, es.ErrStreamExists))
	})
}
