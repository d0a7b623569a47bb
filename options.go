package orchestra

import (
	"fmt"
	"log/slog"
	"time"
)

// Option configures an Orchestra.
type Option func(*Orchestra) error

// Orchestra holds the validated configuration and logger shared by every
// subsystem. Create one with New and hand it to engine.Build, which wires
// the scheduler, executor, breakers and extensions around it.
type Orchestra struct {
	config Config
	logger *slog.Logger
}

// New creates an Orchestra with the given options applied on top of
// DefaultConfig.
func New(opts ...Option) (*Orchestra, error) {
	o := &Orchestra{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if err := o.config.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Logger returns the logger.
func (o *Orchestra) Logger() *slog.Logger { return o.logger }

// Config returns a copy of the configuration.
func (o *Orchestra) Config() Config { return o.config }

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(o *Orchestra) error {
		o.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestra) error {
		if l == nil {
			return fmt.Errorf("%w: nil logger", ErrInvalidConfig)
		}
		o.logger = l
		return nil
	}
}

// WithMaxConcurrency sets the per-run concurrency limit. Zero means unlimited.
func WithMaxConcurrency(n int) Option {
	return func(o *Orchestra) error {
		o.config.MaxConcurrency = n
		return nil
	}
}

// WithStepTimeout sets the default per-step timeout.
func WithStepTimeout(d time.Duration) Option {
	return func(o *Orchestra) error {
		o.config.DefaultStepTimeout = d
		return nil
	}
}

// WithWorkflowTimeout sets the default overall run timeout.
func WithWorkflowTimeout(d time.Duration) Option {
	return func(o *Orchestra) error {
		o.config.WorkflowTimeout = d
		return nil
	}
}

// WithRetryPolicy sets the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Orchestra) error {
		o.config.Retry = p
		return nil
	}
}

// WithBreaker sets the circuit breaker thresholds.
func WithBreaker(threshold int, coolDown time.Duration) Option {
	return func(o *Orchestra) error {
		o.config.Breaker = BreakerConfig{FailureThreshold: threshold, CoolDown: coolDown}
		return nil
	}
}
