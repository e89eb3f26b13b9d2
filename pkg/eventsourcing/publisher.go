package eventsourcing

import (
	"context"
	"errors"
)

// FanOut publishes to every publisher in order. All publishers are called
// even if one fails; the failures are joined.
func FanOut(publishers ...EventPublisher) EventPublisher {
	return fanOut(publishers)
}

type fanOut []EventPublisher

func (f fanOut) Publish(ctx context.Context, stream StreamName, events []Message) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, stream, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
