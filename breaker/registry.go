package breaker

import (
	"sort"
	"sync"
	"time"

	"github.com/xraph/orchestra"
)

// Registry owns one Breaker per target, created on first use.
// It is safe for concurrent use.
type Registry struct {
	cfg      orchestra.BreakerConfig
	now      func() time.Time
	onChange StateChangeFunc

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the time source. Tests use it to step through cool-downs.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithStateChange registers a callback fired on every state change of
// every breaker in the registry.
func WithStateChange(fn StateChangeFunc) Option {
	return func(r *Registry) { r.onChange = fn }
}

// NewRegistry creates an empty registry sharing cfg across all targets.
func NewRegistry(cfg orchestra.BreakerConfig, opts ...Option) *Registry {
	r := &Registry{
		cfg:      cfg,
		now:      time.Now,
		breakers: make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for target, creating it if needed.
func (r *Registry) Get(target string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[target]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[target]; ok {
		return b
	}
	b = newBreaker(target, r.cfg, r.now, r.onChange)
	r.breakers[target] = b
	return b
}

// Allow is shorthand for Get(target).Allow().
func (r *Registry) Allow(target string) error {
	return r.Get(target).Allow()
}

// State returns the state of target's breaker. Targets never called are
// closed.
func (r *Registry) State(target string) State {
	r.mu.RLock()
	b, ok := r.breakers[target]
	r.mu.RUnlock()
	if !ok {
		return StateClosed
	}
	return b.State()
}

// Stats returns a snapshot of every known breaker sorted by target.
func (r *Registry) Stats() []Stats {
	r.mu.RLock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.RUnlock()

	out := make([]Stats, 0, len(list))
	for _, b := range list {
		out = append(out, b.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

// Reset forgets target's breaker so the next call starts closed.
func (r *Registry) Reset(target string) {
	r.mu.Lock()
	delete(r.breakers, target)
	r.mu.Unlock()
}
