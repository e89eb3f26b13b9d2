package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EndSpan ends a span, optionally recording an error
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// TraceID extracts the trace ID from context as a string
func TraceID(ctx context.Context) string {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}

// Common attribute keys
var (
	AttrAggregateID   = attribute.Key("aggregate.id")
	AttrAggregateType = attribute.Key("aggregate.type")
	AttrStream        = attribute.Key("stream.name")

	AttrCommandName = attribute.Key("command.name")
	AttrCommandID   = attribute.Key("command.id")

	AttrEventCount = attribute.Key("event.count")
	AttrConflict   = attribute.Key("dispatch.conflict")
	AttrResolved   = attribute.Key("state.resolved")

	AttrOperation = attribute.Key("eventstore.operation")
	AttrErrorType = attribute.Key("error.type")
)

// CommandAttrs returns common command attributes
func CommandAttrs(commandName, commandID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrCommandName.String(commandName),
	}
	if commandID != "" {
		attrs = append(attrs, AttrCommandID.String(commandID))
	}
	return attrs
}

// ErrorAttrs returns common error attributes
func ErrorAttrs(err error) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrErrorType.String(fmt.Sprintf("%T", err)),
	}
}
