package audithook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/orchestra/breaker"
	"github.com/xraph/orchestra/ext"
	"github.com/xraph/orchestra/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension           = (*Extension)(nil)
	_ ext.WorkflowStarted     = (*Extension)(nil)
	_ ext.WorkflowCompleted   = (*Extension)(nil)
	_ ext.WorkflowFailed      = (*Extension)(nil)
	_ ext.StepCompleted       = (*Extension)(nil)
	_ ext.StepFailed          = (*Extension)(nil)
	_ ext.StepRetrying        = (*Extension)(nil)
	_ ext.StepSkipped         = (*Extension)(nil)
	_ ext.CircuitStateChanged = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string    `json:"action"`
	Resource string    `json:"resource"`
	Category string    `json:"category"`
	Time     time.Time `json:"time"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// JSONRecorder writes each event as one JSON line. Safe for concurrent use.
type JSONRecorder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONRecorder returns a Recorder writing JSON lines to w.
func NewJSONRecorder(w io.Writer) *JSONRecorder {
	return &JSONRecorder{enc: json.NewEncoder(w)}
}

// Record implements Recorder.
func (r *JSONRecorder) Record(_ context.Context, event *AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enc.Encode(event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges orchestra lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Workflow lifecycle hooks ────────────────────────

// OnWorkflowStarted implements ext.WorkflowStarted.
func (e *Extension) OnWorkflowStarted(ctx context.Context, r *workflow.Run) error {
	return e.record(ctx, ActionWorkflowStarted, SeverityInfo, OutcomeSuccess,
		ResourceWorkflow, r.ID.String(), CategoryWorkflow, nil,
		"workflow_id", r.WorkflowID,
		"workflow_name", r.Name,
		"mode", string(r.Mode),
		"step_count", r.StepCount,
	)
}

// OnWorkflowCompleted implements ext.WorkflowCompleted.
func (e *Extension) OnWorkflowCompleted(ctx context.Context, r *workflow.Run, res *workflow.Result) error {
	return e.record(ctx, ActionWorkflowCompleted, SeverityInfo, OutcomeSuccess,
		ResourceWorkflow, r.ID.String(), CategoryWorkflow, nil,
		"workflow_id", r.WorkflowID,
		"status", string(res.Status),
		"elapsed_ms", res.Elapsed.Milliseconds(),
		"failed_steps", res.Count(workflow.StateFailed),
		"skipped_steps", res.Count(workflow.StateSkipped),
	)
}

// OnWorkflowFailed implements ext.WorkflowFailed.
func (e *Extension) OnWorkflowFailed(ctx context.Context, r *workflow.Run, res *workflow.Result, runErr error) error {
	return e.record(ctx, ActionWorkflowFailed, SeverityCritical, OutcomeFailure,
		ResourceWorkflow, r.ID.String(), CategoryWorkflow, runErr,
		"workflow_id", r.WorkflowID,
		"elapsed_ms", res.Elapsed.Milliseconds(),
		"failed_steps", res.Count(workflow.StateFailed),
	)
}

// ── Step lifecycle hooks ────────────────────────────

// OnStepCompleted implements ext.StepCompleted.
func (e *Extension) OnStepCompleted(ctx context.Context, r *workflow.Run, step workflow.StepResult) error {
	return e.record(ctx, ActionStepCompleted, SeverityInfo, OutcomeSuccess,
		ResourceStep, step.StepID, CategoryStep, nil,
		"run_id", r.ID.String(),
		"target", step.Target,
		"attempts", step.Attempts,
		"elapsed_ms", step.Elapsed().Milliseconds(),
	)
}

// OnStepFailed implements ext.StepFailed.
func (e *Extension) OnStepFailed(ctx context.Context, r *workflow.Run, step workflow.StepResult) error {
	return e.record(ctx, ActionStepFailed, SeverityWarning, OutcomeFailure,
		ResourceStep, step.StepID, CategoryStep, step.Err,
		"run_id", r.ID.String(),
		"target", step.Target,
		"attempts", step.Attempts,
	)
}

// OnStepRetrying implements ext.StepRetrying.
func (e *Extension) OnStepRetrying(ctx context.Context, r *workflow.Run, stepID string, attempt int, delay time.Duration, stepErr error) error {
	return e.record(ctx, ActionStepRetrying, SeverityWarning, OutcomeFailure,
		ResourceStep, stepID, CategoryStep, stepErr,
		"run_id", r.ID.String(),
		"attempt", attempt,
		"delay_ms", delay.Milliseconds(),
	)
}

// OnStepSkipped implements ext.StepSkipped.
func (e *Extension) OnStepSkipped(ctx context.Context, r *workflow.Run, step workflow.StepResult) error {
	return e.record(ctx, ActionStepSkipped, SeverityWarning, OutcomeFailure,
		ResourceStep, step.StepID, CategoryStep, step.Err,
		"run_id", r.ID.String(),
		"target", step.Target,
	)
}

// ── Circuit hooks ───────────────────────────────────

// OnCircuitStateChanged implements ext.CircuitStateChanged. Only moves to
// open and back to closed are audited.
func (e *Extension) OnCircuitStateChanged(ctx context.Context, target string, from, to breaker.State) error {
	switch to {
	case breaker.StateOpen:
		return e.record(ctx, ActionCircuitOpened, SeverityCritical, OutcomeFailure,
			ResourceTarget, target, CategoryCircuit, nil,
			"from", string(from),
		)
	case breaker.StateClosed:
		return e.record(ctx, ActionCircuitClosed, SeverityInfo, OutcomeSuccess,
			ResourceTarget, target, CategoryCircuit, nil,
			"from", string(from),
		)
	default:
		return nil
	}
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		Time:       e.now().UTC(),
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
