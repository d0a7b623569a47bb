package capability

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/orchestra"
)

// Registry maps target identifiers to capabilities.
// It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		caps: make(map[string]Capability),
	}
}

// Register binds name to c, replacing any earlier binding.
func (r *Registry) Register(name string, c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[name] = c
}

// Get returns the capability for name.
func (r *Registry) Get(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	return c, ok
}

// Lookup is Get returning orchestra.ErrCapabilityNotFound for unknown
// targets.
func (r *Registry) Lookup(name string) (Capability, error) {
	c, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", orchestra.ErrCapabilityNotFound, name)
	}
	return c, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns all registered target names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
