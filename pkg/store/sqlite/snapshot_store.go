package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
)

// SnapshotStore keeps the latest snapshot per aggregate in the snapshots table.
type SnapshotStore struct {
	db *sql.DB
}

var _ es.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates a snapshot store on a migrated database, usually
// EventStore.DB().
func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Get returns the latest snapshot, or es.ErrSnapshotNotFound.
func (s *SnapshotStore) Get(ctx context.Context, aggregateType, aggregateID string) (*es.Snapshot, error) {
	snapshot := es.Snapshot{AggregateType: aggregateType, AggregateID: aggregateID}
	var takenAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT version, state, taken_at FROM snapshots WHERE aggregate_type = ? AND aggregate_id = ?`,
		aggregateType, aggregateID,
	).Scan(&snapshot.Version, &snapshot.State, &takenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", aggregateType, aggregateID, es.ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	snapshot.TakenAt = time.Unix(0, takenAt)
	return &snapshot, nil
}

// Save stores snapshot unless a newer one is already stored.
func (s *SnapshotStore) Save(ctx context.Context, snapshot *es.Snapshot) error {
	takenAt := snapshot.TakenAt
	if takenAt.IsZero() {
		takenAt = es.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (aggregate_type, aggregate_id, version, state, taken_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (aggregate_type, aggregate_id) DO UPDATE SET
			version = excluded.version,
			state = excluded.state,
			taken_at = excluded.taken_at
		WHERE excluded.version >= snapshots.version`,
		snapshot.AggregateType, snapshot.AggregateID, snapshot.Version, snapshot.State, takenAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}
