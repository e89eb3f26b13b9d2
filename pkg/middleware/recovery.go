package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
)

// PanicError is returned in place of a panic raised below Recovery.
type PanicError struct {
	CommandName string
	Value       any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("command handler for %s panicked: %v", e.CommandName, e.Value)
}

// Recovery recovers from panics in handlers and evolvers. Registry
// misconfiguration panics happen at startup and are not affected.
func Recovery(logger *slog.Logger) es.Middleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next es.DispatchFunc) es.DispatchFunc {
		return func(ctx context.Context, cmd es.Message) (result *es.Result, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "command handler panicked",
						slog.String("command", cmd.Name()),
						slog.String("command_id", cmd.ID()),
						slog.Any("panic", r),
						slog.String("stack_trace", string(debug.Stack())),
					)

					result = nil
					err = &PanicError{CommandName: cmd.Name(), Value: r}
				}
			}()

			return next(ctx, cmd)
		}
	}
}
