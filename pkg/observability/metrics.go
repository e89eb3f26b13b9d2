package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
)

// Metrics holds the metric instruments of the kernel.
type Metrics struct {
	// Dispatch metrics
	DispatchDuration  metric.Float64Histogram
	DispatchTotal     metric.Int64Counter
	DispatchErrors    metric.Int64Counter
	DispatchConflicts metric.Int64Counter

	// Event metrics
	EventsPersisted   metric.Int64Counter
	EventsPublished   metric.Int64Counter
	EventStoreLatency metric.Float64Histogram

	// Snapshot metrics
	SnapshotsTaken metric.Int64Counter
}

// NewMetrics creates all metric instruments
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.DispatchDuration, err = meter.Float64Histogram(
		"fnsourcing.dispatch.duration",
		metric.WithDescription("Command dispatch duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dispatch.duration: %w", err)
	}

	m.DispatchTotal, err = meter.Int64Counter(
		"fnsourcing.dispatch.total",
		metric.WithDescription("Total commands dispatched"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dispatch.total: %w", err)
	}

	m.DispatchErrors, err = meter.Int64Counter(
		"fnsourcing.dispatch.errors",
		metric.WithDescription("Dispatches that failed with an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dispatch.errors: %w", err)
	}

	m.DispatchConflicts, err = meter.Int64Counter(
		"fnsourcing.dispatch.conflicts",
		metric.WithDescription("Dispatches that lost an optimistic concurrency race"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dispatch.conflicts: %w", err)
	}

	m.EventsPersisted, err = meter.Int64Counter(
		"fnsourcing.events.persisted",
		metric.WithDescription("Total events committed to the event store"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating events.persisted: %w", err)
	}

	m.EventsPublished, err = meter.Int64Counter(
		"fnsourcing.events.published",
		metric.WithDescription("Total events published to the event bus"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating events.published: %w", err)
	}

	m.EventStoreLatency, err = meter.Float64Histogram(
		"fnsourcing.eventstore.latency",
		metric.WithDescription("Event store operation latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating eventstore.latency: %w", err)
	}

	m.SnapshotsTaken, err = meter.Int64Counter(
		"fnsourcing.snapshots.taken",
		metric.WithDescription("Total snapshots written"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating snapshots.taken: %w", err)
	}

	return m, nil
}

// RecordDispatch records the outcome of one dispatch. result may be nil when
// err is set.
func (m *Metrics) RecordDispatch(ctx context.Context, commandName string, duration time.Duration, result *es.Result, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("command", commandName),
	}
	if result != nil {
		attrs = append(attrs, attribute.String("aggregate_type", result.AggregateType))
	}

	m.DispatchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.DispatchTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	switch {
	case err != nil:
		errorAttrs := append(attrs, attribute.String("error_type", fmt.Sprintf("%T", err)))
		m.DispatchErrors.Add(ctx, 1, metric.WithAttributes(errorAttrs...))
	case result != nil && !result.Succeeded():
		m.DispatchConflicts.Add(ctx, 1, metric.WithAttributes(attrs...))
	case result != nil:
		m.EventsPersisted.Add(ctx, int64(len(result.Events)), metric.WithAttributes(attrs...))
	}
}

// RecordEventStoreOperation records event store operation metrics
func (m *Metrics) RecordEventStoreOperation(ctx context.Context, operation string, duration time.Duration) {
	m.EventStoreLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordPublish records events handed to the event bus.
func (m *Metrics) RecordPublish(ctx context.Context, stream es.StreamName, count int) {
	m.EventsPublished.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("stream", stream.String()),
	))
}

// RecordSnapshot records a written snapshot.
func (m *Metrics) RecordSnapshot(ctx context.Context, aggregateType string) {
	m.SnapshotsTaken.Add(ctx, 1, metric.WithAttributes(
		attribute.String("aggregate_type", aggregateType),
	))
}
