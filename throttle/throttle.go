package throttle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrThrottled marks an Acquire that gave up waiting for a rate token or a
// concurrency slot. The target itself was never called.
var ErrThrottled = errors.New("throttled")

// Config defines per-target rate limiting and concurrency.
type Config struct {
	// Target is the capability identifier the limits apply to.
	Target string `json:"target" yaml:"target" mapstructure:"target"`

	// MaxConcurrency limits how many invocations of this target may be in
	// flight at once, across every run of the engine. Zero means no limit.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency" mapstructure:"max_concurrency"`

	// RateLimit is the maximum sustained invocations per second. Zero
	// disables rate limiting.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit" mapstructure:"rate_limit"`

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int `json:"rate_burst" yaml:"rate_burst" mapstructure:"rate_burst"`
}

// targetState tracks runtime state for a single target.
type targetState struct {
	config  Config
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	active  int
}

// Manager controls per-target rate limiting and concurrency.
// It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	targets map[string]*targetState
}

// NewManager creates a Manager with the given target configurations.
// Targets not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		targets: make(map[string]*targetState, len(configs)),
	}
	for _, cfg := range configs {
		m.targets[cfg.Target] = newTargetState(cfg)
	}
	return m
}

func newTargetState(cfg Config) *targetState {
	ts := &targetState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.MaxConcurrency > 0 {
		ts.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrency))
	}
	return ts
}

func noop() {}

// Acquire blocks until target may be invoked: a rate token is available
// and a concurrency slot is free. The returned release func MUST be
// called once the invocation finishes. Acquire returns ctx's error if ctx
// is done first, in which case nothing is held.
func (m *Manager) Acquire(ctx context.Context, target string) (release func(), err error) {
	m.mu.Lock()
	ts := m.targets[target]
	m.mu.Unlock()
	if ts == nil {
		return noop, nil
	}

	if ts.limiter != nil {
		if err := ts.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("throttle %q: %w: %w", target, ErrThrottled, waitErr(ctx, err))
		}
	}
	if ts.sem != nil {
		if err := ts.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("throttle %q: %w: %w", target, ErrThrottled, err)
		}
	}
	return m.hold(ts), nil
}

// TryAcquire is the non-blocking form of Acquire. It reports false when
// the target is currently rate limited or at its concurrency cap.
func (m *Manager) TryAcquire(target string) (release func(), ok bool) {
	m.mu.Lock()
	ts := m.targets[target]
	m.mu.Unlock()
	if ts == nil {
		return noop, true
	}

	if ts.sem != nil && !ts.sem.TryAcquire(1) {
		return nil, false
	}
	if ts.limiter != nil && !ts.limiter.Allow() {
		if ts.sem != nil {
			ts.sem.Release(1)
		}
		return nil, false
	}
	return m.hold(ts), true
}

// hold records an admitted invocation and returns its release func. The
// func releases to the state it was admitted by, even if the target was
// reconfigured in the meantime, and is safe to call more than once.
func (m *Manager) hold(ts *targetState) func() {
	m.mu.Lock()
	ts.active++
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if ts.active > 0 {
				ts.active--
			}
			m.mu.Unlock()
			if ts.sem != nil {
				ts.sem.Release(1)
			}
		})
	}
}

// SetConfig dynamically updates (or creates) a target configuration.
// Invocations admitted under the old configuration keep their slots until
// released.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[cfg.Target] = newTargetState(cfg)
}

// Config returns the configuration of target, if any.
func (m *Manager) Config(target string) (Config, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.targets[target]; ts != nil {
		return ts.config, true
	}
	return Config{}, false
}

// ActiveCount returns the number of admitted, unreleased invocations of
// target under its current configuration.
func (m *Manager) ActiveCount(target string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.targets[target]; ts != nil {
		return ts.active
	}
	return 0
}

// waitErr prefers ctx's own error over the limiter's "would exceed
// context deadline" message.
func waitErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}
