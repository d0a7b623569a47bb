package orchestra

import (
	"fmt"
	"time"
)

// RetryPolicy is the backoff schedule governing reattempts of a retryable
// step failure. The delay before attempt k+1 is
// min(BaseDelay * Multiplier^(k-1) * (1 ± Jitter), MaxDelay).
type RetryPolicy struct {
	// MaxAttempts is the total number of invocations allowed, including
	// the first one. Values below 1 are treated as 1.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay" mapstructure:"base_delay"`

	// Multiplier scales the delay on every subsequent retry.
	Multiplier float64 `json:"multiplier" yaml:"multiplier" mapstructure:"multiplier"`

	// MaxDelay caps the computed delay. Zero means no cap.
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay" mapstructure:"max_delay"`

	// Jitter is the fraction (0..1) by which a delay is randomly
	// shortened or lengthened.
	Jitter float64 `json:"jitter" yaml:"jitter" mapstructure:"jitter"`
}

// DefaultRetryPolicy returns three attempts, 200ms base delay doubling up
// to 10s, with 10% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    10 * time.Second,
		Jitter:      0.1,
	}
}

// Attempts returns MaxAttempts clamped to at least one.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Validate reports whether the policy values are usable.
func (p RetryPolicy) Validate() error {
	switch {
	case p.BaseDelay < 0 || p.MaxDelay < 0:
		return fmt.Errorf("%w: retry delays must not be negative", ErrInvalidConfig)
	case p.Multiplier < 0:
		return fmt.Errorf("%w: retry multiplier must not be negative", ErrInvalidConfig)
	case p.Jitter < 0 || p.Jitter > 1:
		return fmt.Errorf("%w: retry jitter must be within [0,1], got %v", ErrInvalidConfig, p.Jitter)
	}
	return nil
}

// BreakerConfig holds circuit breaker thresholds shared by every target.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit. Zero disables circuit breaking.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold" mapstructure:"failure_threshold"`

	// CoolDown is how long an open circuit rejects calls before a single
	// half-open trial call is let through.
	CoolDown time.Duration `json:"cool_down" yaml:"cool_down" mapstructure:"cool_down"`
}

// Config holds configuration for the orchestration engine.
type Config struct {
	// MaxConcurrency is the maximum number of steps of one run executing
	// at the same time. Zero means unlimited.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency" mapstructure:"max_concurrency"`

	// DefaultStepTimeout bounds every invocation of a step that does not
	// declare its own timeout. Zero means no timeout.
	DefaultStepTimeout time.Duration `json:"default_step_timeout" yaml:"default_step_timeout" mapstructure:"default_step_timeout"`

	// WorkflowTimeout bounds a whole run unless the definition declares
	// its own timeout. Zero means no timeout.
	WorkflowTimeout time.Duration `json:"workflow_timeout" yaml:"workflow_timeout" mapstructure:"workflow_timeout"`

	// Retry is the policy used by steps and definitions without an override.
	Retry RetryPolicy `json:"retry" yaml:"retry" mapstructure:"retry"`

	// Breaker configures per-target circuit breakers.
	Breaker BreakerConfig `json:"breaker" yaml:"breaker" mapstructure:"breaker"`

	// ShutdownTimeout is the maximum time Stop waits for in-flight runs.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:     0,
		DefaultStepTimeout: 30 * time.Second,
		WorkflowTimeout:    0,
		Retry:              DefaultRetryPolicy(),
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			CoolDown:         30 * time.Second,
		},
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("%w: max concurrency must not be negative", ErrInvalidConfig)
	}
	if c.DefaultStepTimeout < 0 || c.WorkflowTimeout < 0 || c.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}
	if c.Breaker.FailureThreshold < 0 || c.Breaker.CoolDown < 0 {
		return fmt.Errorf("%w: breaker settings must not be negative", ErrInvalidConfig)
	}
	return c.Retry.Validate()
}
