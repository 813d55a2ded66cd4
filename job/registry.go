package job

import (
	"context"
	"sort"
	"sync"
)

// HandlerFunc is a type-erased job handler that accepts the raw payload.
// A Definition[T] supplies one through Handle.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Entry is a registered handler together with its default options.
type Entry struct {
	Name    string
	Handler HandlerFunc
	Opts    Options
}

// Registry maps job names to handlers. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// RegisterDefinition validates def and registers its decoding handler
// under def.Name with def.Opts as the type's defaults.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.Register(def.Name, def.Handle(), def.Opts)
	return nil
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name string, h HandlerFunc, opts Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = Entry{Name: name, Handler: h, Opts: opts}
}

// Get returns the handler for the given job name.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	e, ok := r.Lookup(name)
	return e.Handler, ok
}

// Lookup returns the full registry entry for name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Names returns all registered job names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
