package eventsourcing

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrConcurrencyConflict is returned by stores when the stream moved
	// under the writer.
	ErrConcurrencyConflict = errors.New("concurrency conflict: stream version mismatch")

	// ErrStreamNotFound is returned when appending to or loading a stream that doesn't exist.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrStreamExists is returned when creating a stream that already exists.
	ErrStreamExists = errors.New("stream already exists")

	// ErrSnapshotNotFound is returned when no snapshot exists for an aggregate.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrCommandNotFound is matched by UnknownCommandError.
	ErrCommandNotFound = errors.New("command handler not found")

	// ErrMissingField is matched by MissingFieldError.
	ErrMissingField = errors.New("missing field")

	// ErrInvalidCommand marks commands rejected before they reach a handler,
	// e.g. by validation middleware.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrInvalidHandlerResult is matched by InvalidHandlerResultError.
	ErrInvalidHandlerResult = errors.New("invalid handler result")
)

// MissingFieldError reports an identifier or version field absent from a
// message payload or an aggregate state.
type MissingFieldError struct {
	Field       string
	MessageName string
	Payload     Payload
}

func (e *MissingFieldError) Error() string {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", e.Payload))
	}
	return fmt.Sprintf("missing field %q in %s payload: %s", e.Field, e.MessageName, data)
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

// UnknownCommandError is returned when no route is registered for a command name.
type UnknownCommandError struct {
	CommandName string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("command handler not found: %s", e.CommandName)
}

func (e *UnknownCommandError) Is(target error) bool {
	return target == ErrCommandNotFound
}

// InvalidHandlerResultError is returned when a handler raises something that
// is not an event.
type InvalidHandlerResultError struct {
	CommandName string
	Index       int
	Kind        MessageKind
}

func (e *InvalidHandlerResultError) Error() string {
	return fmt.Sprintf("handler for %s returned a %q message at position %d, expected events only",
		e.CommandName, e.Kind, e.Index)
}

func (e *InvalidHandlerResultError) Is(target error) bool {
	return target == ErrInvalidHandlerResult
}

// MessageKindError is returned by the persister when asked to store a message
// that is not an event.
type MessageKindError struct {
	MessageName string
	Kind        MessageKind
}

func (e *MessageKindError) Error() string {
	return fmt.Sprintf("cannot persist %s: message kind is %q, expected %q", e.MessageName, e.Kind, KindEvent)
}

// ConcurrencyConflict describes an optimistic concurrency failure. It is a
// recoverable outcome: the caller may re-dispatch the command.
type ConcurrencyConflict struct {
	Stream      StreamName
	AggregateID string
	Err         error
}

func (e *ConcurrencyConflict) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("concurrency conflict on stream %s (aggregate %s): %v", e.Stream, e.AggregateID, e.Err)
	}
	return fmt.Sprintf("concurrency conflict on stream %s (aggregate %s)", e.Stream, e.AggregateID)
}

func (e *ConcurrencyConflict) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

func (e *ConcurrencyConflict) Unwrap() error {
	return e.Err
}

// IsConcurrencyConflict reports whether err signals a version conflict,
// including a racing stream creation.
func IsConcurrencyConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrStreamExists)
}
