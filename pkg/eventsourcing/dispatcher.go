package eventsourcing

import (
	"context"
	"fmt"
)

// Result is the outcome of one dispatch. A conflicted dispatch carries the
// conflict and no events; nothing was written.
type Result struct {
	CommandID     string
	CommandName   string
	AggregateType string
	AggregateID   string
	Stream        StreamName

	// Events are the enriched, persisted events.
	Events []Message

	// State is the aggregate state after Events. It is folded onto the
	// resolved state, or onto the initial state when the handler never
	// resolved it (Resolved is false).
	State    any
	Resolved bool

	// Conflict is set when another writer advanced the stream first.
	Conflict *ConcurrencyConflict
}

// Succeeded reports whether the events were committed.
func (r *Result) Succeeded() bool {
	return r.Conflict == nil
}

// Err returns the conflict as an error, or nil on success.
func (r *Result) Err() error {
	if r.Conflict == nil {
		return nil
	}
	return r.Conflict
}

// StateOf returns the typed terminal state of a result.
func StateOf[S any](r *Result) (S, bool) {
	s, ok := r.State.(S)
	return s, ok
}

// DispatchFunc handles one command.
type DispatchFunc func(ctx context.Context, cmd Message) (*Result, error)

// Middleware wraps a DispatchFunc with cross-cutting concerns.
type Middleware func(next DispatchFunc) DispatchFunc

// dispatchEnv is what a route needs from the dispatcher.
type dispatchEnv struct {
	events    EventStore
	snapshots SnapshotStore
}

// Dispatcher runs resolve, handle, enrich and persist for one command at a time.
// It holds no locks; concurrent dispatches for one aggregate race at the
// store and the loser receives a conflict result.
type Dispatcher struct {
	registry   *Registry
	env        dispatchEnv
	publisher  EventPublisher
	middleware []Middleware
	dispatch   DispatchFunc
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSnapshotStore makes state resolution start from snapshots.
func WithSnapshotStore(store SnapshotStore) DispatcherOption {
	return func(d *Dispatcher) {
		d.env.snapshots = store
	}
}

// WithPublisher forwards committed events to publisher.
func WithPublisher(publisher EventPublisher) DispatcherOption {
	return func(d *Dispatcher) {
		d.publisher = publisher
	}
}

// WithMiddleware adds middleware. The first added is the outermost.
func WithMiddleware(middleware ...Middleware) DispatcherOption {
	return func(d *Dispatcher) {
		d.middleware = append(d.middleware, middleware...)
	}
}

// NewDispatcher creates a dispatcher for the commands in registry.
func NewDispatcher(registry *Registry, events EventStore, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		env:      dispatchEnv{events: events},
	}
	for _, opt := range opts {
		opt(d)
	}

	// Build middleware chain (reverse order so first added is outermost)
	final := DispatchFunc(d.handle)
	for i := len(d.middleware) - 1; i >= 0; i-- {
		final = d.middleware[i](final)
	}
	d.dispatch = final

	return d
}

// Dispatch handles cmd. Configuration and domain failures are returned as
// errors; a concurrency conflict is returned as a Result with Conflict set.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Message) (*Result, error) {
	return d.dispatch(ctx, cmd)
}

func (d *Dispatcher) handle(ctx context.Context, cmd Message) (*Result, error) {
	rt, err := d.registry.lookup(cmd.Name())
	if err != nil {
		return nil, err
	}

	result, err := rt.execute(ctx, d.env, cmd)
	if err != nil {
		return nil, err
	}

	if d.publisher != nil && result.Succeeded() && len(result.Events) > 0 {
		if err := d.publisher.Publish(ctx, result.Stream, result.Events); err != nil {
			return result, fmt.Errorf("events committed to %s but publishing failed: %w", result.Stream, err)
		}
	}

	return result, nil
}

func (t *typedRoute[S]) execute(ctx context.Context, env dispatchEnv, cmd Message) (*Result, error) {
	aggregateID, err := t.def.ExtractAggregateID(cmd)
	if err != nil {
		return nil, err
	}

	lazy := &lazyState[S]{
		ctx:         ctx,
		snapshots:   env.snapshots,
		events:      env.events,
		def:         t.def,
		aggregateID: aggregateID,
	}

	raised, err := t.handler(ctx, lazy.get, cmd)
	if err != nil {
		return nil, err
	}

	enriched := make([]Message, len(raised))
	for i, event := range raised {
		if event.Kind() != KindEvent {
			return nil, &InvalidHandlerResultError{CommandName: cmd.Name(), Index: i, Kind: event.Kind()}
		}
		// Each event carries its own version, so a batch may span versions.
		version, err := t.def.ExtractAggregateVersion(event)
		if err != nil {
			return nil, err
		}
		enriched[i] = t.def.MetadataEnricher(aggregateID, version, &cmd)(event)
	}

	outcome, err := Persist(ctx, env.events, t.def, aggregateID, enriched)
	if err != nil {
		return nil, err
	}

	result := &Result{
		CommandID:     cmd.ID(),
		CommandName:   cmd.Name(),
		AggregateType: t.def.AggregateType(),
		AggregateID:   aggregateID,
		Stream:        outcome.Stream,
	}
	if outcome.Status == PersistConflicted {
		result.Conflict = outcome.Conflict
		return result, nil
	}

	state := t.def.InitialState()
	if lazy.resolved {
		state = lazy.resolution.State
		result.Resolved = true
	}
	result.Events = outcome.Events
	result.State = t.def.Apply(state, outcome.Events...)

	return result, nil
}
