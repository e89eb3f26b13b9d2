package idgen_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/fnsourcing/pkg/idgen"
)

func TestNewID(t *testing.T) {
	id := idgen.NewID()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.NotEqual(t, id, idgen.NewID())
}

func TestNewSortableID(t *testing.T) {
	t.Run("Parses", func(t *testing.T) {
		_, err := ulid.Parse(idgen.NewSortableID())
		require.NoError(t, err)
	})

	t.Run("Increasing", func(t *testing.T) {
		prev := idgen.NewSortableID()
		for i := 0; i < 1000; i++ {
			next := idgen.NewSortableID()
			require.Less(t, prev, next)
			prev = next
		}
	})
}
