package eventsourcing_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
)

func TestDefinition(t *testing.T) {
	shared := es.NewDefinition("counter", evolveCounter)
	dedicated := es.NewDefinition("counter", evolveCounter, es.WithOneStreamPerAggregate[counter]())

	t.Run("Defaults", func(t *testing.T) {
		assert.Equal(t, "id", shared.IdentifierName())
		assert.Equal(t, "version", shared.VersionName())
		assert.False(t, shared.OneStreamPerAggregate())
		assert.Equal(t, counter{}, shared.InitialState())
	})

	t.Run("CustomFieldNames", func(t *testing.T) {
		def := es.NewDefinition("order", evolveCounter,
			es.WithIdentifierName[counter]("order_id"),
			es.WithVersionName[counter]("rev"),
		)
		cmd := es.NewCommand("Ship", es.Payload{"order_id": 42, "rev": "3"})

		id, err := def.ExtractAggregateID(cmd)
		require.NoError(t, err)
		assert.Equal(t, "42", id)

		version, err := def.ExtractAggregateVersion(cmd)
		require.NoError(t, err)
		assert.EqualValues(t, 3, version)
	})

	t.Run("MissingIdentifier", func(t *testing.T) {
		for _, payload := range []es.Payload{{}, {"id": nil}, {"id": ""}} {
			_, err := shared.ExtractAggregateID(es.NewCommand("Open", payload))

			var missing *es.MissingFieldError
			require.True(t, errors.As(err, &missing))
			assert.Equal(t, "id", missing.Field)
			assert.Equal(t, "Open", missing.MessageName)
			assert.ErrorIs(t, err, es.ErrMissingField)
		}
	})

	t.Run("MissingFieldErrorCarriesPayload", func(t *testing.T) {
		_, err := shared.ExtractAggregateVersion(es.NewEvent("Opened", es.Payload{"id": "7"}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), `{"id":"7"}`)
	})

	t.Run("StateVersion", func(t *testing.T) {
		v, err := shared.StateVersion(counter{Version: 4})
		require.NoError(t, err)
		assert.EqualValues(t, 4, v)

		maps := es.NewDefinition[es.Payload]("doc", func(s es.Payload, _ es.Message) es.Payload { return s })
		v, err = maps.StateVersion(es.Payload{"version": 2.0})
		require.NoError(t, err)
		assert.EqualValues(t, 2, v)

		_, err = maps.StateVersion(es.Payload{})
		assert.ErrorIs(t, err, es.ErrMissingField)
	})

	t.Run("StreamName", func(t *testing.T) {
		assert.Equal(t, es.StreamName("counter"), shared.StreamName("1"))
		assert.Equal(t, es.StreamName("counter-1"), dedicated.StreamName("1"))
		assert.Equal(t, dedicated.StreamName("1"), dedicated.StreamName("1"))

		custom := es.NewDefinition("counter", evolveCounter,
			es.WithStreamName[counter]("counters"),
			es.WithOneStreamPerAggregate[counter](),
		)
		assert.Equal(t, es.StreamName("counters-9"), custom.StreamName("9"))
	})

	t.Run("MetadataMatcher", func(t *testing.T) {
		assert.Nil(t, dedicated.MetadataMatcher("1", 1))

		m := shared.MetadataMatcher("1", 3)
		require.Len(t, m, 3)
		assert.True(t, m.Matches(es.Metadata{
			es.MetadataAggregateType:    "counter",
			es.MetadataAggregateID:      "1",
			es.MetadataAggregateVersion: 3,
		}))
		assert.False(t, m.Matches(es.Metadata{
			es.MetadataAggregateType:    "counter",
			es.MetadataAggregateID:      "1",
			es.MetadataAggregateVersion: 2,
		}))
	})

	t.Run("MetadataEnricher", func(t *testing.T) {
		cmd := es.NewCommand("Increment", es.Payload{"id": "1"})
		event := incremented("1", 1, 2)

		enriched := shared.MetadataEnricher("1", 2, &cmd)(event)

		md := enriched.Metadata()
		assert.Equal(t, "1", md[es.MetadataAggregateID])
		assert.Equal(t, "counter", md[es.MetadataAggregateType])
		assert.EqualValues(t, 2, md[es.MetadataAggregateVersion])
		assert.Equal(t, cmd.ID(), md[es.MetadataCausationID])
		assert.Equal(t, "Increment", md[es.MetadataCausationName])
		assert.Empty(t, event.Metadata())

		plain := shared.MetadataEnricher("1", 2, nil)(event)
		_, ok := plain.MetadataValue(es.MetadataCausationID)
		assert.False(t, ok)
	})

	t.Run("ApplyIsALeftFold", func(t *testing.T) {
		e1, e2, e3 := opened("1", 1), incremented("1", 2, 2), incremented("1", 5, 3)
		s := shared.InitialState()

		all := shared.Apply(s, e1, e2, e3)
		stepwise := shared.Apply(shared.Apply(shared.Apply(s, e1), e2), e3)
		assert.Equal(t, stepwise, all)
		assert.Equal(t, counter{ID: "1", Count: 7, Version: 3}, all)
		assert.Equal(t, s, shared.Apply(s))
	})

	t.Run("StateSerde", func(t *testing.T) {
		data, err := shared.MarshalState(counter{ID: "1", Count: 2, Version: 2})
		require.NoError(t, err)

		state, err := shared.UnmarshalState(data)
		require.NoError(t, err)
		assert.Equal(t, counter{ID: "1", Count: 2, Version: 2}, state)
	})
}
