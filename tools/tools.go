// Package tools defines the tool collaborator boundary: the Runner
// interface the script engine forwards approved tool calls to, and an
// in-process Registry implementation for local handlers.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Errors for tool operations.
var (
	// ErrToolNotFound is returned when no handler is registered for a
	// tool name.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolExists is returned when registering a duplicate tool name.
	ErrToolExists = errors.New("tool already registered")
)

// Runner invokes host tools. It is called only after the tool gateway
// has approved the call; implementations perform the real side effects
// (send a message, query data).
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Invoke must honor cancellation/deadlines.
// - Errors: unknown tools return ErrToolNotFound; other failures
//   propagate to the caller for classification.
type Runner interface {
	Invoke(ctx context.Context, name string, args map[string]any) (any, error)
}

// HandlerFunc is the function signature for local tool handlers.
type HandlerFunc func(ctx context.Context, args map[string]any) (any, error)

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, name string, args map[string]any) (any, error)

// Invoke calls f.
func (f RunnerFunc) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	return f(ctx, name, args)
}

// Registry is an in-process Runner dispatching to registered handlers
// by tool name.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register adds a handler for the tool name.
func (r *Registry) Register(name string, fn HandlerFunc) error {
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if fn == nil {
		return fmt.Errorf("handler is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%w: %s", ErrToolExists, name)
	}
	r.handlers[name] = fn
	return nil
}

// Unregister removes a handler.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, name)
}

// Names returns registered tool names sorted for deterministic output.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Invoke dispatches to the handler registered for name.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	fn, ok := r.handlers[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return fn(ctx, args)
}

var _ Runner = (*Registry)(nil)
