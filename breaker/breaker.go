// Package breaker implements per-target circuit breakers.
//
// A breaker starts closed. After FailureThreshold consecutive failures it
// opens and rejects every call with *orchestra.CircuitOpenError until the
// cool-down elapses. It then turns half-open and admits exactly one trial
// call: success closes it, failure reopens it and restarts the cool-down.
package breaker

import (
	"sync"
	"time"

	"github.com/xraph/orchestra"
)

// State is the mode of a circuit breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// StateChangeFunc is called after a breaker changes state. It is invoked
// without the breaker lock held.
type StateChangeFunc func(target string, from, to State)

// Stats is a point-in-time view of one breaker.
type Stats struct {
	Target      string        `json:"target"`
	State       State         `json:"state"`
	Failures    int           `json:"failures"`
	LastFailure time.Time     `json:"last_failure,omitzero"`
	OpenedAt    time.Time     `json:"opened_at,omitzero"`
	CoolDown    time.Duration `json:"cool_down"`
}

type transition struct {
	from, to State
}

// Breaker guards calls to a single target. It is safe for concurrent use.
type Breaker struct {
	target    string
	threshold int
	coolDown  time.Duration
	now       func() time.Time
	onChange  StateChangeFunc

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	openedAt    time.Time
	trial       bool
}

func newBreaker(target string, cfg orchestra.BreakerConfig, now func() time.Time, onChange StateChangeFunc) *Breaker {
	return &Breaker{
		target:    target,
		threshold: cfg.FailureThreshold,
		coolDown:  cfg.CoolDown,
		now:       now,
		onChange:  onChange,
		state:     StateClosed,
	}
}

// Target returns the guarded target identifier.
func (b *Breaker) Target() string { return b.target }

// Allow reports whether a call may proceed. A nil return admits the call
// and the caller must report its outcome with RecordSuccess,
// RecordFailure or Release.
func (b *Breaker) Allow() error {
	if b.threshold <= 0 {
		return nil
	}

	b.mu.Lock()
	var changes []transition
	changes = b.advance(changes)

	var err error
	switch b.state {
	case StateOpen:
		err = &orchestra.CircuitOpenError{Target: b.target, RetryAfter: b.openedAt.Add(b.coolDown).Sub(b.now())}
	case StateHalfOpen:
		if b.trial {
			err = &orchestra.CircuitOpenError{Target: b.target}
		} else {
			b.trial = true
		}
	}
	b.mu.Unlock()

	b.notify(changes)
	return err
}

// RecordSuccess closes the breaker and zeroes the failure count.
func (b *Breaker) RecordSuccess() {
	if b.threshold <= 0 {
		return
	}

	b.mu.Lock()
	var changes []transition
	b.failures = 0
	b.trial = false
	if b.state != StateClosed {
		changes = b.setState(changes, StateClosed)
	}
	b.mu.Unlock()

	b.notify(changes)
}

// RecordFailure counts a failure and returns the resulting state.
func (b *Breaker) RecordFailure() State {
	if b.threshold <= 0 {
		return StateClosed
	}

	b.mu.Lock()
	var changes []transition
	now := b.now()
	b.failures++
	b.lastFailure = now

	switch b.state {
	case StateHalfOpen:
		b.trial = false
		b.openedAt = now
		changes = b.setState(changes, StateOpen)
	case StateClosed:
		if b.failures >= b.threshold {
			b.openedAt = now
			changes = b.setState(changes, StateOpen)
		}
	case StateOpen:
		// A call admitted before the breaker opened finished late.
	}
	state := b.state
	b.mu.Unlock()

	b.notify(changes)
	return state
}

// Release gives back an admission whose outcome says nothing about the
// target's health, such as a call abandoned because its run was cancelled.
func (b *Breaker) Release() {
	if b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	if b.state == StateHalfOpen {
		b.trial = false
	}
	b.mu.Unlock()
}

// State returns the current state, moving an open breaker whose cool-down
// has elapsed to half-open.
func (b *Breaker) State() State {
	if b.threshold <= 0 {
		return StateClosed
	}

	b.mu.Lock()
	changes := b.advance(nil)
	s := b.state
	b.mu.Unlock()

	b.notify(changes)
	return s
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() Stats {
	s := b.State()

	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Target:      b.target,
		State:       s,
		Failures:    b.failures,
		LastFailure: b.lastFailure,
		OpenedAt:    b.openedAt,
		CoolDown:    b.coolDown,
	}
}

// advance applies the time-based open → half-open transition.
// Must be called with b.mu held.
func (b *Breaker) advance(changes []transition) []transition {
	if b.state == StateOpen && !b.now().Before(b.openedAt.Add(b.coolDown)) {
		b.trial = false
		changes = b.setState(changes, StateHalfOpen)
	}
	return changes
}

// setState must be called with b.mu held.
func (b *Breaker) setState(changes []transition, to State) []transition {
	from := b.state
	b.state = to
	return append(changes, transition{from: from, to: to})
}

func (b *Breaker) notify(changes []transition) {
	if b.onChange == nil {
		return
	}
	for _, c := range changes {
		b.onChange(b.target, c.from, c.to)
	}
}
