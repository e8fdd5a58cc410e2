package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased task handler. It receives the raw payload
// and returns the opaque result bytes recorded on completion.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Definition pairs a task type with its typed handler. The payload is
// JSON-unmarshalled into T before the handler runs; the returned value is
// JSON-marshalled into the task result.
type Definition[T any] struct {
	// Type is the task type tag this handler serves.
	Type string
	// Handler executes the task.
	Handler func(ctx context.Context, in T) (any, error)
}

// Registry maps task types to type-erased handler functions.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register registers a raw handler for a task type, replacing any
// previous registration.
func (r *Registry) Register(taskType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = h
}

// RegisterDefinition registers a typed task definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the payload into T
// and JSON-marshals the returned value.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		var in T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &in); err != nil {
				return nil, fmt.Errorf("unmarshal payload for task type %q: %w", def.Type, err)
			}
		}

		out, err := def.Handler(ctx, in)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, nil
		}

		result, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("marshal result for task type %q: %w", def.Type, err)
		}
		return result, nil
	}

	r.Register(def.Type, handler)
}

// Get returns the handler for the given task type.
// Returns false if no handler is registered.
func (r *Registry) Get(taskType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}

// Types returns all registered task types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
