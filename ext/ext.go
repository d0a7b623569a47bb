// Package ext defines the progress sink of the orchestration engine.
// Extensions are notified of lifecycle events (run started, step retried,
// circuit opened, etc.) and can react to them: logging, metrics,
// streaming, persistence.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/orchestra/breaker"
	"github.com/xraph/orchestra/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Workflow lifecycle hooks
// ──────────────────────────────────────────────────

// WorkflowStarted is called after a definition passed validation and its
// run began.
type WorkflowStarted interface {
	OnWorkflowStarted(ctx context.Context, r *workflow.Run) error
}

// WorkflowCompleted is called when a run ends Completed or
// PartiallyCompleted.
type WorkflowCompleted interface {
	OnWorkflowCompleted(ctx context.Context, r *workflow.Run, res *workflow.Result) error
}

// WorkflowFailed is called when a run ends Failed, including cancelled
// and timed out runs.
type WorkflowFailed interface {
	OnWorkflowFailed(ctx context.Context, r *workflow.Run, res *workflow.Result, err error) error
}

// ──────────────────────────────────────────────────
// Step lifecycle hooks
// ──────────────────────────────────────────────────

// StepStarted is called when a step moves to Running, with its resolved
// input.
type StepStarted interface {
	OnStepStarted(ctx context.Context, r *workflow.Run, step workflow.StepResult) error
}

// StepRetrying is called after a retryable failure, before the backoff
// delay.
type StepRetrying interface {
	OnStepRetrying(ctx context.Context, r *workflow.Run, stepID string, attempt int, delay time.Duration, err error) error
}

// StepCompleted is called after a step completes.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, r *workflow.Run, step workflow.StepResult) error
}

// StepFailed is called after a step fails terminally.
type StepFailed interface {
	OnStepFailed(ctx context.Context, r *workflow.Run, step workflow.StepResult) error
}

// StepSkipped is called when a step is skipped without running.
type StepSkipped interface {
	OnStepSkipped(ctx context.Context, r *workflow.Run, step workflow.StepResult) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// CircuitStateChanged is called when a target's circuit breaker moves
// between states. A move to breaker.StateOpen is the circuit-opened event.
type CircuitStateChanged interface {
	OnCircuitStateChanged(ctx context.Context, target string, from, to breaker.State) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
