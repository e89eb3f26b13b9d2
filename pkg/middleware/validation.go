package middleware

import (
	"context"
	"fmt"

	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
)

// Validator validates a command before it is dispatched.
type Validator interface {
	Validate(cmd es.Message) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(cmd es.Message) error

func (f ValidatorFunc) Validate(cmd es.Message) error {
	return f(cmd)
}

// CommandValidators selects a validator by command name. Commands without an
// entry pass through.
type CommandValidators map[string]Validator

func (v CommandValidators) Validate(cmd es.Message) error {
	if validator, ok := v[cmd.Name()]; ok {
		return validator.Validate(cmd)
	}
	return nil
}

// Validation rejects invalid commands before any state is resolved. The
// returned error matches es.ErrInvalidCommand and wraps the validator's error.
func Validation(validator Validator) es.Middleware {
	return func(next es.DispatchFunc) es.DispatchFunc {
		return func(ctx context.Context, cmd es.Message) (*es.Result, error) {
			if err := validator.Validate(cmd); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", es.ErrInvalidCommand, cmd.Name(), err)
			}
			return next(ctx, cmd)
		}
	}
}
