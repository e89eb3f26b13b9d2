// Package middleware holds es.Middleware for the dispatcher.
package middleware

import (
	"context"
	"log/slog"
	"time"

	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
)

// Logging logs command dispatches with timing information using slog.
func Logging(logger *slog.Logger) es.Middleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next es.DispatchFunc) es.DispatchFunc {
		return func(ctx context.Context, cmd es.Message) (*es.Result, error) {
			start := time.Now()

			logger.DebugContext(ctx, "dispatching command",
				slog.String("command", cmd.Name()),
				slog.String("command_id", cmd.ID()),
			)

			result, err := next(ctx, cmd)

			duration := time.Since(start)

			if err != nil {
				logger.ErrorContext(ctx, "command failed",
					slog.String("command", cmd.Name()),
					slog.String("command_id", cmd.ID()),
					slog.Int64("duration_ms", duration.Milliseconds()),
					slog.String("error", err.Error()),
				)
				return result, err
			}

			if result == nil {
				logger.WarnContext(ctx, "command returned no result",
					slog.String("command", cmd.Name()),
					slog.String("command_id", cmd.ID()),
				)
				return nil, nil
			}

			if !result.Succeeded() {
				logger.WarnContext(ctx, "command lost concurrency race",
					slog.String("command", cmd.Name()),
					slog.String("command_id", cmd.ID()),
					slog.String("stream", result.Stream.String()),
					slog.Int64("duration_ms", duration.Milliseconds()),
				)
				return result, nil
			}

			logger.InfoContext(ctx, "command committed",
				slog.String("command", cmd.Name()),
				slog.String("command_id", cmd.ID()),
				slog.String("aggregate_id", result.AggregateID),
				slog.String("stream", result.Stream.String()),
				slog.Int("events_count", len(result.Events)),
				slog.Int64("duration_ms", duration.Milliseconds()),
			)

			return result, nil
		}
	}
}
