package memory

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
)

// SnapshotStore keeps the latest snapshot per aggregate.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]es.Snapshot
}

var _ es.SnapshotStore = (*SnapshotStore)(nil)

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		snapshots: make(map[string]es.Snapshot),
	}
}

func snapshotKey(aggregateType, aggregateID string) string {
	return aggregateType + "/" + aggregateID
}

// Get returns the latest snapshot, or es.ErrSnapshotNotFound.
func (s *SnapshotStore) Get(ctx context.Context, aggregateType, aggregateID string) (*es.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[snapshotKey(aggregateType, aggregateID)]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", aggregateType, aggregateID, es.ErrSnapshotNotFound)
	}
	snapshot.State = bytes.Clone(snapshot.State)
	return &snapshot, nil
}

// Save stores snapshot. A snapshot older than the stored one is ignored.
func (s *SnapshotStore) Save(ctx context.Context, snapshot *es.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := snapshotKey(snapshot.AggregateType, snapshot.AggregateID)
	if current, ok := s.snapshots[key]; ok && current.Version > snapshot.Version {
		return nil
	}

	stored := *snapshot
	stored.State = bytes.Clone(snapshot.State)
	s.snapshots[key] = stored
	return nil
}
