package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
)

// InstrumentEventStore wraps an event store with tracing and latency metrics.
// A transactional store stays transactional.
func InstrumentEventStore(store es.EventStore, tel *Telemetry) es.EventStore {
	s := &instrumentedStore{next: store, tel: tel}
	if ts, ok := store.(es.TransactionalEventStore); ok {
		return &instrumentedTxStore{instrumentedStore: s, tx: ts}
	}
	return s
}

type instrumentedStore struct {
	next es.EventStore
	tel  *Telemetry
}

func (s *instrumentedStore) observe(ctx context.Context, operation string, stream es.StreamName, count int, fn func(context.Context) error) error {
	ctx, span := s.tel.Tracer().Start(ctx, "eventstore."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrOperation.String(operation),
			AttrStream.String(stream.String()),
		),
	)

	start := time.Now()
	err := fn(ctx)
	if s.tel.Metrics != nil {
		s.tel.Metrics.RecordEventStoreOperation(ctx, operation, time.Since(start))
	}
	if count >= 0 {
		span.SetAttributes(AttrEventCount.Int(count))
	}
	EndSpan(span, err)
	return err
}

func (s *instrumentedStore) HasStream(ctx context.Context, stream es.StreamName) (bool, error) {
	var exists bool
	err := s.observe(ctx, "has_stream", stream, -1, func(ctx context.Context) error {
		var err error
		exists, err = s.next.HasStream(ctx, stream)
		return err
	})
	return exists, err
}

func (s *instrumentedStore) Load(ctx context.Context, query es.LoadQuery) ([]es.Message, error) {
	var events []es.Message
	err := s.observe(ctx, "load", query.Stream, -1, func(ctx context.Context) error {
		var err error
		events, err = s.next.Load(ctx, query)
		return err
	})
	return events, err
}

func (s *instrumentedStore) Create(ctx context.Context, stream es.StreamName, events []es.Message) error {
	return s.observe(ctx, "create", stream, len(events), func(ctx context.Context) error {
		return s.next.Create(ctx, stream, events)
	})
}

func (s *instrumentedStore) AppendTo(ctx context.Context, stream es.StreamName, events []es.Message) error {
	return s.observe(ctx, "append", stream, len(events), func(ctx context.Context) error {
		return s.next.AppendTo(ctx, stream, events)
	})
}

type instrumentedTxStore struct {
	*instrumentedStore
	tx es.TransactionalEventStore
}

// BeginTx returns the inner transaction. Writes inside it are covered by
// the surrounding dispatch span.
func (s *instrumentedTxStore) BeginTx(ctx context.Context) (es.Transaction, error) {
	return s.tx.BeginTx(ctx)
}
