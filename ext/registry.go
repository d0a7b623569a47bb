package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/orchestra/breaker"
	"github.com/xraph/orchestra/workflow"
)

// entry pairs a hook implementation with the extension name captured at
// registration time. This avoids type-asserting back to Extension inside
// the emit methods.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register all extensions before the engine starts running workflows;
// emits are safe for concurrent use once registration is done.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	workflowStarted     []entry[WorkflowStarted]
	workflowCompleted   []entry[WorkflowCompleted]
	workflowFailed      []entry[WorkflowFailed]
	stepStarted         []entry[StepStarted]
	stepRetrying        []entry[StepRetrying]
	stepCompleted       []entry[StepCompleted]
	stepFailed          []entry[StepFailed]
	stepSkipped         []entry[StepSkipped]
	circuitStateChanged []entry[CircuitStateChanged]
	shutdown            []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(WorkflowStarted); ok {
		r.workflowStarted = append(r.workflowStarted, entry[WorkflowStarted]{name, h})
	}
	if h, ok := e.(WorkflowCompleted); ok {
		r.workflowCompleted = append(r.workflowCompleted, entry[WorkflowCompleted]{name, h})
	}
	if h, ok := e.(WorkflowFailed); ok {
		r.workflowFailed = append(r.workflowFailed, entry[WorkflowFailed]{name, h})
	}
	if h, ok := e.(StepStarted); ok {
		r.stepStarted = append(r.stepStarted, entry[StepStarted]{name, h})
	}
	if h, ok := e.(StepRetrying); ok {
		r.stepRetrying = append(r.stepRetrying, entry[StepRetrying]{name, h})
	}
	if h, ok := e.(StepCompleted); ok {
		r.stepCompleted = append(r.stepCompleted, entry[StepCompleted]{name, h})
	}
	if h, ok := e.(StepFailed); ok {
		r.stepFailed = append(r.stepFailed, entry[StepFailed]{name, h})
	}
	if h, ok := e.(StepSkipped); ok {
		r.stepSkipped = append(r.stepSkipped, entry[StepSkipped]{name, h})
	}
	if h, ok := e.(CircuitStateChanged); ok {
		r.circuitStateChanged = append(r.circuitStateChanged, entry[CircuitStateChanged]{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, entry[Shutdown]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Workflow event emitters
// ──────────────────────────────────────────────────

// EmitWorkflowStarted notifies all extensions that implement WorkflowStarted.
func (r *Registry) EmitWorkflowStarted(ctx context.Context, run *workflow.Run) {
	for _, e := range r.workflowStarted {
		if err := e.hook.OnWorkflowStarted(ctx, run); err != nil {
			r.logHookError("OnWorkflowStarted", e.name, err)
		}
	}
}

// EmitWorkflowCompleted notifies all extensions that implement WorkflowCompleted.
func (r *Registry) EmitWorkflowCompleted(ctx context.Context, run *workflow.Run, res *workflow.Result) {
	for _, e := range r.workflowCompleted {
		if err := e.hook.OnWorkflowCompleted(ctx, run, res); err != nil {
			r.logHookError("OnWorkflowCompleted", e.name, err)
		}
	}
}

// EmitWorkflowFailed notifies all extensions that implement WorkflowFailed.
func (r *Registry) EmitWorkflowFailed(ctx context.Context, run *workflow.Run, res *workflow.Result, runErr error) {
	for _, e := range r.workflowFailed {
		if err := e.hook.OnWorkflowFailed(ctx, run, res, runErr); err != nil {
			r.logHookError("OnWorkflowFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Step event emitters
// ──────────────────────────────────────────────────

// EmitStepStarted notifies all extensions that implement StepStarted.
func (r *Registry) EmitStepStarted(ctx context.Context, run *workflow.Run, step workflow.StepResult) {
	for _, e := range r.stepStarted {
		if err := e.hook.OnStepStarted(ctx, run, step); err != nil {
			r.logHookError("OnStepStarted", e.name, err)
		}
	}
}

// EmitStepRetrying notifies all extensions that implement StepRetrying.
func (r *Registry) EmitStepRetrying(ctx context.Context, run *workflow.Run, stepID string, attempt int, delay time.Duration, stepErr error) {
	for _, e := range r.stepRetrying {
		if err := e.hook.OnStepRetrying(ctx, run, stepID, attempt, delay, stepErr); err != nil {
			r.logHookError("OnStepRetrying", e.name, err)
		}
	}
}

// EmitStepCompleted notifies all extensions that implement StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, run *workflow.Run, step workflow.StepResult) {
	for _, e := range r.stepCompleted {
		if err := e.hook.OnStepCompleted(ctx, run, step); err != nil {
			r.logHookError("OnStepCompleted", e.name, err)
		}
	}
}

// EmitStepFailed notifies all extensions that implement StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, run *workflow.Run, step workflow.StepResult) {
	for _, e := range r.stepFailed {
		if err := e.hook.OnStepFailed(ctx, run, step); err != nil {
			r.logHookError("OnStepFailed", e.name, err)
		}
	}
}

// EmitStepSkipped notifies all extensions that implement StepSkipped.
func (r *Registry) EmitStepSkipped(ctx context.Context, run *workflow.Run, step workflow.StepResult) {
	for _, e := range r.stepSkipped {
		if err := e.hook.OnStepSkipped(ctx, run, step); err != nil {
			r.logHookError("OnStepSkipped", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitCircuitStateChanged notifies all extensions that implement
// CircuitStateChanged.
func (r *Registry) EmitCircuitStateChanged(ctx context.Context, target string, from, to breaker.State) {
	for _, e := range r.circuitStateChanged {
		if err := e.hook.OnCircuitStateChanged(ctx, target, from, to); err != nil {
			r.logHookError("OnCircuitStateChanged", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
