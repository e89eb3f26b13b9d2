// Package snapshot writes aggregate snapshots outside the dispatch path.
// The dispatcher only reads snapshots; a Snapshotter resolves state the same
// way and saves it when its strategy says so.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"

	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
)

// Recorder is notified of every snapshot written.
type Recorder interface {
	RecordSnapshot(ctx context.Context, aggregateType string)
}

type options struct {
	strategy Strategy
	logger   *slog.Logger
	recorder Recorder
}

// Option configures a Snapshotter.
type Option func(*options)

// WithStrategy sets when snapshots are taken. Defaults to every 100 events.
func WithStrategy(strategy Strategy) Option {
	return func(o *options) {
		o.strategy = strategy
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRecorder reports written snapshots, e.g. to observability.Metrics.
func WithRecorder(recorder Recorder) Option {
	return func(o *options) {
		o.recorder = recorder
	}
}

// Snapshotter takes snapshots of one aggregate type.
type Snapshotter[S any] struct {
	def       *es.Definition[S]
	events    es.StreamReader
	snapshots es.SnapshotStore
	options
}

// New creates a snapshotter for def.
func New[S any](def *es.Definition[S], events es.StreamReader, snapshots es.SnapshotStore, opts ...Option) *Snapshotter[S] {
	o := options{
		strategy: NewIntervalStrategy(100),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Snapshotter[S]{
		def:       def,
		events:    events,
		snapshots: snapshots,
		options:   o,
	}
}

// Take resolves the aggregate and saves a snapshot if the strategy asks for
// one. It reports whether a snapshot was written.
func (s *Snapshotter[S]) Take(ctx context.Context, aggregateID string) (bool, error) {
	res, err := es.ResolveState(ctx, s.snapshots, s.events, s.def, aggregateID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve %s %s: %w", s.def.AggregateType(), aggregateID, err)
	}

	if !s.strategy.ShouldCreateSnapshot(res.Version, int64(len(res.Events))) {
		return false, nil
	}

	data, err := s.def.MarshalState(res.State)
	if err != nil {
		return false, fmt.Errorf("failed to encode %s %s: %w", s.def.AggregateType(), aggregateID, err)
	}

	if err := s.snapshots.Save(ctx, &es.Snapshot{
		AggregateType: s.def.AggregateType(),
		AggregateID:   aggregateID,
		Version:       res.Version,
		State:         data,
		TakenAt:       es.Now(),
	}); err != nil {
		return false, fmt.Errorf("failed to save snapshot of %s %s: %w", s.def.AggregateType(), aggregateID, err)
	}

	s.logger.DebugContext(ctx, "snapshot taken",
		slog.String("aggregate_type", s.def.AggregateType()),
		slog.String("aggregate_id", aggregateID),
		slog.Int64("version", res.Version),
		slog.Int("events_folded", len(res.Events)),
	)
	if s.recorder != nil {
		s.recorder.RecordSnapshot(ctx, s.def.AggregateType())
	}
	return true, nil
}

// Handle takes a snapshot of the aggregate an event belongs to. Events of
// other aggregate types are ignored. Its signature fits nats.EventHandler.
func (s *Snapshotter[S]) Handle(ctx context.Context, event es.Message) error {
	if v, _ := event.MetadataValue(es.MetadataAggregateType); v != s.def.AggregateType() {
		return nil
	}
	id, ok := event.MetadataValue(es.MetadataAggregateID)
	if !ok {
		return fmt.Errorf("event %s has no %s metadata", event.ID(), es.MetadataAggregateID)
	}
	_, err := s.Take(ctx, fmt.Sprint(id))
	return err
}
