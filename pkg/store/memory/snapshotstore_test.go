package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
	"github.com/plaenen/fnsourcing/pkg/store/memory"
)

func TestSnapshotStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSnapshotStore()

	_, err := store.Get(ctx, "user", "1")
	assert.ErrorIs(t, err, es.ErrSnapshotNotFound)

	require.NoError(t, store.Save(ctx, &es.Snapshot{AggregateType: "user", AggregateID: "1", Version: 3, State: []byte(`{"v":3}`)}))
	require.NoError(t, store.Save(ctx, &es.Snapshot{AggregateType: "user", AggregateID: "1", Version: 2, State: []byte(`{"v":2}`)}))

	snapshot, err := store.Get(ctx, "user", "1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, snapshot.Version)
	assert.JSONEq(t, `{"v":3}`, string(snapshot.State))

	_, err = store.Get(ctx, "order", "1")
	assert.ErrorIs(t, err, es.ErrSnapshotNotFound)
}
