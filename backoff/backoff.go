// Package backoff provides retry delay strategies for step invocations.
// All strategies are safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/xraph/orchestra"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential grows the delay geometrically and applies symmetric jitter.
// Delay = min(Initial * Multiplier^(attempt-1) * (1 ± Jitter), Max).
type Exponential struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration

	// Jitter is the fraction in [0,1] by which the delay is randomly
	// shortened or lengthened.
	Jitter float64

	// Rand returns a value in [0,1). Nil uses math/rand/v2.
	Rand func() float64
}

// NewExponential creates an exponential backoff strategy without jitter.
// A multiplier below 1 is treated as 1.
func NewExponential(initial time.Duration, multiplier float64, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Multiplier: multiplier, Max: maxDelay}
}

// WithJitter returns a copy of e with the jitter fraction set.
func (e Exponential) WithJitter(fraction float64) *Exponential {
	e.Jitter = fraction
	return &e
}

// Delay returns Initial * Multiplier^(attempt-1) scaled by a jitter factor
// in [1-Jitter, 1+Jitter], capped at Max. Without a Max the delay saturates
// at the largest Duration.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := e.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(e.Initial) * math.Pow(mult, float64(attempt-1))

	if e.Jitter > 0 {
		r := e.random()
		d *= 1 + e.Jitter*(2*r-1)
	}

	if e.Max > 0 && d > float64(e.Max) {
		return e.Max
	}
	if math.IsNaN(d) || d < 0 {
		return 0
	}
	// float64(MaxInt64) rounds up to 2^63, which does not convert back.
	if d >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (e *Exponential) random() float64 {
	if e.Rand != nil {
		return e.Rand()
	}
	return rand.Float64() //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// Policy
// ──────────────────────────────────────────────────

// FromPolicy builds the strategy described by a retry policy. A policy
// with no growth and no jitter yields a Constant.
func FromPolicy(p orchestra.RetryPolicy) Strategy {
	if p.Multiplier <= 1 && p.Jitter == 0 {
		d := p.BaseDelay
		if p.MaxDelay > 0 && d > p.MaxDelay {
			d = p.MaxDelay
		}
		return NewConstant(d)
	}
	return NewExponential(p.BaseDelay, p.Multiplier, p.MaxDelay).WithJitter(p.Jitter)
}

// DefaultStrategy returns the strategy of orchestra.DefaultRetryPolicy.
func DefaultStrategy() Strategy {
	return FromPolicy(orchestra.DefaultRetryPolicy())
}
