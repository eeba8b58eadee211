package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/Theauxm/manifold"
)

// HandlerFunc is a type-erased workflow handler over raw JSON. The
// returned bytes are the JSON-encoded output persisted on the
// execution record.
type HandlerFunc func(ctx context.Context, input []byte) ([]byte, error)

// Definition is a typed workflow with JSON-serializable input and
// output types.
type Definition[In, Out any] struct {
	// Name is the unique workflow identifier manifests refer to.
	Name string

	// Handler runs the workflow.
	Handler func(ctx context.Context, input In) (Out, error)
}

// NewDefinition creates a typed workflow definition.
func NewDefinition[In, Out any](name string, handler func(ctx context.Context, input In) (Out, error)) *Definition[In, Out] {
	return &Definition[In, Out]{Name: name, Handler: handler}
}

// Registry maps workflow names to type-erased handlers.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty workflow registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register registers a typed workflow definition. The generic handler
// is wrapped in a closure that JSON-unmarshals the input into In and
// marshals the output, so storage only ever sees bytes.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func Register[In, Out any](r *Registry, def *Definition[In, Out]) {
	handler := func(ctx context.Context, input []byte) ([]byte, error) {
		var in In
		if len(input) > 0 {
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("unmarshal input for workflow %q: %w", def.Name, err)
			}
		}
		out, err := def.Handler(ctx, in)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("marshal output for workflow %q: %w", def.Name, err)
		}
		return encoded, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Name] = handler
}

// RegisterFunc registers a raw handler under name. Useful for
// workflows that manage their own serialization.
func (r *Registry) RegisterFunc(name string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

// Get returns the handler for the given workflow name, or
// manifold.ErrWorkflowNotRegistered.
func (r *Registry) Get(name string) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", manifold.ErrWorkflowNotRegistered, name)
	}
	return h, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Names returns all registered workflow names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
