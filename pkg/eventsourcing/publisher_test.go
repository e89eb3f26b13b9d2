package eventsourcing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
)

type countingPublisher struct {
	events int
	err    error
}

func (p *countingPublisher) Publish(_ context.Context, _ es.StreamName, events []es.Message) error {
	p.events += len(events)
	return p.err
}

func TestFanOut(t *testing.T) {
	boom := errors.New("boom")
	first := &countingPublisher{err: boom}
	second := &countingPublisher{}

	err := es.FanOut(first, second).Publish(context.Background(), "s", []es.Message{opened("c-1", 1)})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, first.events)
	assert.Equal(t, 1, second.events, "later publishers still run")
}
