package eventsourcing

import (
	"context"
	"errors"
	"fmt"
)

// PersistStatus is the terminal state of a persist call.
type PersistStatus string

const (
	// PersistCommitted means the events are stored.
	PersistCommitted PersistStatus = "committed"

	// PersistConflicted means another writer advanced the stream first.
	PersistConflicted PersistStatus = "conflicted"
)

// PersistOutcome is the typed result of Persist. Fatal failures are returned
// as errors instead.
type PersistOutcome struct {
	Status   PersistStatus
	Stream   StreamName
	Events   []Message
	Conflict *ConcurrencyConflict
}

// Persist writes events to the aggregate's stream. It creates the stream when
// missing and appends otherwise, inside a transaction when the store supports
// one. A version conflict is reported in the outcome, every other failure is
// returned unchanged.
func Persist(
	ctx context.Context,
	store EventStore,
	namer StreamNamer,
	aggregateID string,
	events []Message,
) (PersistOutcome, error) {
	stream := namer.StreamName(aggregateID)
	outcome := PersistOutcome{Status: PersistCommitted, Stream: stream}

	for _, event := range events {
		if event.Kind() != KindEvent {
			return outcome, &MessageKindError{MessageName: event.Name(), Kind: event.Kind()}
		}
	}
	if len(events) == 0 {
		return outcome, nil
	}

	var (
		writer StreamWriter = store
		tx     Transaction
	)
	if ts, ok := store.(TransactionalEventStore); ok {
		var err error
		tx, err = ts.BeginTx(ctx)
		if err != nil {
			return outcome, fmt.Errorf("failed to begin transaction: %w", err)
		}
		writer = tx
	}

	if err := write(ctx, writer, stream, events); err != nil {
		if tx != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
		if IsConcurrencyConflict(err) {
			outcome.Status = PersistConflicted
			outcome.Conflict = &ConcurrencyConflict{Stream: stream, AggregateID: aggregateID, Err: err}
			return outcome, nil
		}
		return outcome, err
	}

	if tx != nil {
		if err := tx.Commit(); err != nil {
			if IsConcurrencyConflict(err) {
				outcome.Status = PersistConflicted
				outcome.Conflict = &ConcurrencyConflict{Stream: stream, AggregateID: aggregateID, Err: err}
				return outcome, nil
			}
			return outcome, fmt.Errorf("failed to commit transaction: %w", err)
		}
	}

	outcome.Events = events
	return outcome, nil
}

func write(ctx context.Context, w StreamWriter, stream StreamName, events []Message) error {
	exists, err := w.HasStream(ctx, stream)
	if err != nil {
		return fmt.Errorf("failed to check stream %s: %w", stream, err)
	}
	if exists {
		return w.AppendTo(ctx, stream, events)
	}
	return w.Create(ctx, stream, events)
}
