package eventsourcing

import (
	"context"
	"errors"
	"fmt"
)

// Resolution is the current state of an aggregate.
type Resolution[S any] struct {
	State S

	// Version is the aggregate version after the last folded event, or the
	// snapshot version when no newer events exist.
	Version int64

	// Events is the tail loaded on top of the snapshot.
	Events []Message

	// FromSnapshot reports whether folding started from a snapshot.
	FromSnapshot bool
}

// ResolveState loads the latest snapshot, if any, and folds the event tail
// recorded since then. It never writes to either store. A nil snapshot store
// behaves like an empty one.
func ResolveState[S any](
	ctx context.Context,
	snapshots SnapshotStore,
	events StreamReader,
	def *Definition[S],
	aggregateID string,
) (Resolution[S], error) {
	res := Resolution[S]{State: def.InitialState()}

	if snapshots != nil {
		snapshot, err := snapshots.Get(ctx, def.AggregateType(), aggregateID)
		switch {
		case errors.Is(err, ErrSnapshotNotFound):
		case err != nil:
			return res, fmt.Errorf("failed to load snapshot of %s %s: %w", def.AggregateType(), aggregateID, err)
		case snapshot != nil:
			state, err := def.UnmarshalState(snapshot.State)
			if err != nil {
				return res, fmt.Errorf("failed to decode snapshot of %s %s: %w", def.AggregateType(), aggregateID, err)
			}
			res.State = state
			res.Version = snapshot.Version
			res.FromSnapshot = true
		}
	}

	nextVersion := res.Version + 1
	stream := def.StreamName(aggregateID)

	exists, err := events.HasStream(ctx, stream)
	if err != nil {
		return res, fmt.Errorf("failed to check stream %s: %w", stream, err)
	}
	if !exists {
		return res, nil
	}

	// In a shared stream positions are global, so nextVersion is only a lower
	// bound and the matcher picks this aggregate's events.
	tail, err := events.Load(ctx, LoadQuery{
		Stream:     stream,
		FromNumber: nextVersion,
		Matcher:    def.MetadataMatcher(aggregateID, nextVersion),
	})
	if err != nil {
		return res, fmt.Errorf("failed to load stream %s: %w", stream, err)
	}

	for _, event := range tail {
		res.State = def.Apply(res.State, event)
		if v, ok := event.MetadataValue(MetadataAggregateVersion); ok {
			if version, err := ToInt64(v); err == nil {
				res.Version = version
				continue
			}
		}
		if version, err := def.ExtractAggregateVersion(event); err == nil {
			res.Version = version
		}
	}
	res.Events = tail

	return res, nil
}

// StateFunc returns the current aggregate state. Handlers call it only when
// they need prior state; a handler that never calls it causes no reads.
type StateFunc[S any] func() (S, error)

// lazyState memoises one resolution per dispatch.
type lazyState[S any] struct {
	ctx         context.Context
	snapshots   SnapshotStore
	events      StreamReader
	def         *Definition[S]
	aggregateID string

	resolved   bool
	resolution Resolution[S]
	err        error
}

func (l *lazyState[S]) get() (S, error) {
	if !l.resolved {
		l.resolution, l.err = ResolveState(l.ctx, l.snapshots, l.events, l.def, l.aggregateID)
		l.resolved = true
	}
	return l.resolution.State, l.err
}
