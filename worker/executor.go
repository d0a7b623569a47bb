// Package worker provides step execution: an Executor that runs one step
// through the retry loop, circuit breaker, throttle and middleware, and a
// Pool that bounds and tracks the goroutines a run dispatches steps on.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/orchestra"
	"github.com/xraph/orchestra/backoff"
	"github.com/xraph/orchestra/breaker"
	"github.com/xraph/orchestra/capability"
	"github.com/xraph/orchestra/ext"
	"github.com/xraph/orchestra/middleware"
	"github.com/xraph/orchestra/throttle"
	"github.com/xraph/orchestra/workflow"
)

// Request is one step ready to execute with its input already resolved.
type Request struct {
	Run   *workflow.Run
	Step  workflow.Step
	Input string

	// Timeout bounds each attempt. Zero means none.
	Timeout time.Duration

	// Retry is the effective policy of the step.
	Retry orchestra.RetryPolicy
}

// Executor runs a single step through breaker admission, throttling,
// middleware and the capability, retrying retryable failures with
// backoff.
type Executor struct {
	caps       *capability.Registry
	breakers   *breaker.Registry
	throttle   *throttle.Manager
	extensions *ext.Registry
	mw         middleware.Middleware
	strategy   func(orchestra.RetryPolicy) backoff.Strategy
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithThrottle applies per-target rate and concurrency limits.
func WithThrottle(m *throttle.Manager) ExecutorOption {
	return func(e *Executor) { e.throttle = m }
}

// WithBackoff overrides how a retry policy becomes a delay strategy.
func WithBackoff(fn func(orchestra.RetryPolicy) backoff.Strategy) ExecutorOption {
	return func(e *Executor) { e.strategy = fn }
}

// WithSleep overrides how the executor waits between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) { e.sleep = fn }
}

// NewExecutor creates an Executor. The middleware run outermost first,
// around an innermost Context and Timeout pair the executor always adds.
func NewExecutor(
	caps *capability.Registry,
	breakers *breaker.Registry,
	extensions *ext.Registry,
	logger *slog.Logger,
	mws []middleware.Middleware,
	opts ...ExecutorOption,
) *Executor {
	chain := make([]middleware.Middleware, 0, len(mws)+2)
	chain = append(chain, mws...)
	chain = append(chain, middleware.Context(), middleware.Timeout(logger))

	e := &Executor{
		caps:       caps,
		breakers:   breakers,
		extensions: extensions,
		mw:         middleware.Chain(chain...),
		strategy:   backoff.FromPolicy,
		sleep:      sleepCtx,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the step and returns exactly one terminal result, either
// Completed or Failed. Failures carry *orchestra.StepError.
//
// A circuit breaker rejection fails the step at once without consuming
// an attempt. Only retryable failures count against the breaker. A
// cancelled ctx stops the loop and releases any breaker admission held.
func (e *Executor) Execute(ctx context.Context, req Request) workflow.StepResult {
	step := req.Step
	res := workflow.StepResult{
		StepID:    step.ID,
		Target:    step.Target,
		Order:     step.Order,
		State:     workflow.StateRunning,
		Input:     req.Input,
		StartedAt: time.Now().UTC(),
	}

	c, err := e.caps.Lookup(step.Target)
	if err != nil {
		return e.fail(res, orchestra.KindInvalidInput, 0, err)
	}

	maxAttempts := req.Retry.Attempts()
	strategy := e.strategy(req.Retry)
	br := e.breakers.Get(step.Target)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return e.fail(res, orchestra.Classify(err), attempt-1, err)
		}

		if err := br.Allow(); err != nil {
			e.logger.Warn("step rejected by open circuit",
				slog.String("workflow_id", req.Run.WorkflowID),
				slog.String("step_id", step.ID),
				slog.String("target", step.Target),
			)
			return e.fail(res, orchestra.KindCircuitOpen, attempt-1, err)
		}

		out, err := e.attempt(ctx, req, c, attempt)
		res.Attempts = attempt
		if err == nil {
			br.RecordSuccess()
			res.State = workflow.StateCompleted
			res.Output = out
			res.EndedAt = time.Now().UTC()
			return res
		}

		// The run was cancelled or timed out: the failure says nothing
		// about the target.
		if ctxErr := ctx.Err(); ctxErr != nil {
			br.Release()
			return e.fail(res, orchestra.Classify(ctxErr), attempt, err)
		}

		kind := orchestra.Classify(err)
		switch {
		case errors.Is(err, throttle.ErrThrottled):
			// Held back locally; the target was never called.
			br.Release()
		case kind.Retryable():
			br.RecordFailure()
		default:
			br.RecordSuccess()
		}

		if !kind.Retryable() || attempt >= maxAttempts {
			return e.fail(res, kind, attempt, err)
		}

		delay := strategy.Delay(attempt)
		e.extensions.EmitStepRetrying(ctx, req.Run, step.ID, attempt, delay, err)
		e.logger.Info("step scheduled for retry",
			slog.String("workflow_id", req.Run.WorkflowID),
			slog.String("step_id", step.ID),
			slog.String("target", step.Target),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.String("kind", string(kind)),
			slog.Duration("delay", delay),
		)

		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return e.fail(res, orchestra.Classify(sleepErr), attempt, fmt.Errorf("%w (last error: %v)", sleepErr, err))
		}
	}
}

// attempt performs one throttled invocation through the middleware chain.
func (e *Executor) attempt(ctx context.Context, req Request, c capability.Capability, attempt int) (any, error) {
	if e.throttle != nil {
		release, err := e.throttle.Acquire(ctx, req.Step.Target)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	inv := &middleware.Invocation{
		RunID:      req.Run.ID,
		WorkflowID: req.Run.WorkflowID,
		StepID:     req.Step.ID,
		Target:     req.Step.Target,
		Attempt:    attempt,
		Timeout:    req.Timeout,
		Input:      req.Input,
	}
	return e.mw(ctx, inv, func(ctx context.Context) (any, error) {
		return c.Invoke(ctx, req.Input)
	})
}

func (e *Executor) fail(res workflow.StepResult, kind orchestra.ErrorKind, attempts int, err error) workflow.StepResult {
	res.State = workflow.StateFailed
	res.Attempts = attempts
	res.SetErr(&orchestra.StepError{
		StepID:   res.StepID,
		Target:   res.Target,
		Kind:     kind,
		Attempts: attempts,
		Err:      err,
	})
	res.EndedAt = time.Now().UTC()
	return res
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
