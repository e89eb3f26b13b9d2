package runner_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/fnsourcing/pkg/runner"
)

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func recorded(j *journal, name string, startErr, stopErr error) *runner.Func {
	return &runner.Func{
		ServiceName: name,
		OnStart: func(context.Context) error {
			j.add("start " + name)
			return startErr
		},
		OnStop: func(context.Context) error {
			j.add("stop " + name)
			return stopErr
		},
	}
}

func TestRunner_StartsInOrderAndStopsInReverse(t *testing.T) {
	j := &journal{}
	r := runner.New([]runner.Service{
		recorded(j, "store", nil, nil),
		recorded(j, "bus", nil, nil),
		recorded(j, "server", nil, nil),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return len(j.list()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}

	assert.Equal(t, []string{
		"start store", "start bus", "start server",
		"stop server", "stop bus", "stop store",
	}, j.list())
}

func TestRunner_StartFailureStopsStartedServices(t *testing.T) {
	j := &journal{}
	boom := errors.New("boom")
	r := runner.New([]runner.Service{
		recorded(j, "store", nil, nil),
		recorded(j, "bus", boom, nil),
		recorded(j, "server", nil, nil),
	})

	err := r.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"start store", "start bus", "stop store"}, j.list())
}

func TestRunner_StopErrorsAreJoined(t *testing.T) {
	j := &journal{}
	errA, errB := errors.New("a"), errors.New("b")
	r := runner.New([]runner.Service{
		recorded(j, "a", nil, errA),
		recorded(j, "b", nil, errB),
	}, runner.WithShutdownTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, j.list())
}

type healthy struct {
	runner.Func
	err error
}

func (h *healthy) HealthCheck(context.Context) error {
	return h.err
}

func TestRunner_HealthCheck(t *testing.T) {
	sick := errors.New("sick")
	r := runner.New([]runner.Service{
		&runner.Func{ServiceName: "plain"},
		&healthy{Func: runner.Func{ServiceName: "db"}, err: sick},
	})

	err := r.HealthCheck(context.Background())
	assert.ErrorIs(t, err, sick)
	assert.Contains(t, err.Error(), "service db unhealthy")
}
