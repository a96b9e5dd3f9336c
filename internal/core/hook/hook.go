// Package hook provides the catalog of named hook factories and the
// composition engine that runs an ordered before/after chain around a
// data operation.
package hook

import (
	"fmt"
	"sort"
	"sync"

	"github.com/quarrydb/quarry/internal/core/request"
)

// Next invokes the remainder of the chain. A handler that does not call
// next short-circuits the request; the terminal state it finalized on
// the context stands.
type Next func() error

// Handler is the instantiated form of a hook, bound to per-collection
// options.
type Handler func(rc *request.Context, next Next) error

// Factory builds a handler from per-binding options. Factories are
// stateless templates; all request state lives on the request context.
type Factory func(opts Options) (Handler, error)

// OptionSpec describes a configurable option, surfaced through the
// introspection endpoint so admin tooling can render configuration forms.
type OptionSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required,omitempty"`
}

// Hook is a registered, named capability
type Hook struct {
	ID          string
	Description string
	Options     []OptionSpec
	New         Factory
}

// Descriptor is the introspection view of a registered hook
type Descriptor struct {
	ID          string       `json:"id"`
	Description string       `json:"description"`
	Options     []OptionSpec `json:"options,omitempty"`
}

// Registry maps stable string ids to hook factories. It holds no
// per-request state and is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	hooks map[string]*Hook
}

// NewRegistry creates an empty hook registry
func NewRegistry() *Registry {
	return &Registry{
		hooks: make(map[string]*Hook),
	}
}

// Register adds a hook to the catalog. Ids must be unique.
func (r *Registry) Register(h *Hook) error {
	if h.ID == "" {
		return fmt.Errorf("hook id is required")
	}
	if h.New == nil {
		return fmt.Errorf("hook %s has no factory", h.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.hooks[h.ID]; exists {
		return fmt.Errorf("hook %s is already registered", h.ID)
	}
	r.hooks[h.ID] = h
	return nil
}

// Resolve looks up a hook by id
func (r *Registry) Resolve(id string) (*Hook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.hooks[id]
	return h, ok
}

// List returns descriptors for every registered hook, sorted by id
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]Descriptor, 0, len(r.hooks))
	for _, h := range r.hooks {
		descriptors = append(descriptors, Descriptor{
			ID:          h.ID,
			Description: h.Description,
			Options:     h.Options,
		})
	}
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].ID < descriptors[j].ID })
	return descriptors
}

// Chain composes handlers around a base operation. The first handler is
// outermost; each link checks for cancellation so an aborted request
// stops after the current hook completes, never mid-hook.
func Chain(handlers []Handler, base func(rc *request.Context) error) func(rc *request.Context) error {
	run := base
	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		inner := run
		run = func(rc *request.Context) error {
			if err := rc.Err(); err != nil {
				return err
			}
			return h(rc, func() error { return inner(rc) })
		}
	}
	return run
}
