package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
)

// DispatchMiddleware traces every dispatch and records its metrics.
func DispatchMiddleware(tel *Telemetry) es.Middleware {
	tracer := tel.Tracer()

	return func(next es.DispatchFunc) es.DispatchFunc {
		return func(ctx context.Context, cmd es.Message) (*es.Result, error) {
			ctx, span := tracer.Start(ctx, "dispatch "+cmd.Name(),
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(CommandAttrs(cmd.Name(), cmd.ID())...),
			)
			defer span.End()

			start := time.Now()
			result, err := next(ctx, cmd)
			duration := time.Since(start)

			if tel.Metrics != nil {
				tel.Metrics.RecordDispatch(ctx, cmd.Name(), duration, result, err)
			}

			if result != nil {
				span.SetAttributes(
					AttrAggregateType.String(result.AggregateType),
					AttrAggregateID.String(result.AggregateID),
					AttrStream.String(result.Stream.String()),
					AttrEventCount.Int(len(result.Events)),
					AttrResolved.Bool(result.Resolved),
					AttrConflict.Bool(!result.Succeeded()),
				)
			}

			switch {
			case err != nil:
				span.SetAttributes(ErrorAttrs(err)...)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			case result != nil && !result.Succeeded():
				// A conflict is an expected outcome, not a failure.
				span.AddEvent("concurrency conflict")
				span.SetStatus(codes.Ok, "")
			default:
				span.SetStatus(codes.Ok, "")
			}

			return result, err
		}
	}
}

// InstrumentedPublisher records published events.
type InstrumentedPublisher struct {
	next es.EventPublisher
	tel  *Telemetry
}

// InstrumentPublisher wraps next with tracing and metrics.
func InstrumentPublisher(next es.EventPublisher, tel *Telemetry) *InstrumentedPublisher {
	return &InstrumentedPublisher{next: next, tel: tel}
}

func (p *InstrumentedPublisher) Publish(ctx context.Context, stream es.StreamName, events []es.Message) error {
	ctx, span := p.tel.Tracer().Start(ctx, "publish "+stream.String(),
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			AttrStream.String(stream.String()),
			AttrEventCount.Int(len(events)),
		),
	)

	err := p.next.Publish(ctx, stream, events)
	if err == nil && p.tel.Metrics != nil {
		p.tel.Metrics.RecordPublish(ctx, stream, len(events))
	}
	EndSpan(span, err)
	return err
}
