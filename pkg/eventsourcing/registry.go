package eventsourcing

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Handler decides which events a command raises. It receives a lazy state
// accessor and must not perform I/O of its own. Returning an error aborts the
// dispatch before anything is persisted.
type Handler[S any] func(ctx context.Context, state StateFunc[S], cmd Message) ([]Message, error)

// route is the type-erased pair of a definition and a handler.
type route interface {
	aggregateType() string
	execute(ctx context.Context, env dispatchEnv, cmd Message) (*Result, error)
}

// Registry maps command names to (definition, handler) routes. It is filled
// at startup and read concurrently afterwards.
type Registry struct {
	mu          sync.RWMutex
	routes      map[string]route
	definitions map[string]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		routes:      make(map[string]route),
		definitions: make(map[string]any),
	}
}

// Register routes commandName to handler, operating on def.
//
// Panics if the command name is already registered, or if a different
// definition instance was registered before for the same aggregate type.
func Register[S any](r *Registry, commandName string, def *Definition[S], handler Handler[S]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.routes[commandName]; exists {
		panic(fmt.Sprintf("handler already registered for command: %s", commandName))
	}

	if known, ok := r.definitions[def.AggregateType()]; ok {
		if known != any(def) {
			panic(fmt.Sprintf("a different definition is already registered for aggregate type: %s", def.AggregateType()))
		}
	} else {
		r.definitions[def.AggregateType()] = def
	}

	r.routes[commandName] = &typedRoute[S]{def: def, handler: handler}
}

// lookup returns the route for commandName.
func (r *Registry) lookup(commandName string) (route, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rt, ok := r.routes[commandName]
	if !ok {
		return nil, &UnknownCommandError{CommandName: commandName}
	}
	return rt, nil
}

// Has reports whether commandName is registered.
func (r *Registry) Has(commandName string) bool {
	_, err := r.lookup(commandName)
	return err == nil
}

// Lookup returns the aggregate type handling commandName, or an
// *UnknownCommandError.
func (r *Registry) Lookup(commandName string) (string, error) {
	rt, err := r.lookup(commandName)
	if err != nil {
		return "", err
	}
	return rt.aggregateType(), nil
}

// DefinitionOf returns the definition registered for an aggregate type.
func DefinitionOf[S any](r *Registry, aggregateType string) (*Definition[S], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.definitions[aggregateType].(*Definition[S])
	return def, ok
}

// Commands returns the registered command names, sorted.
func (r *Registry) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.routes))
	for name := range r.routes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

type typedRoute[S any] struct {
	def     *Definition[S]
	handler Handler[S]
}

func (t *typedRoute[S]) aggregateType() string {
	return t.def.AggregateType()
}
