package orchestra

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// Definition errors.
	ErrValidation         = errors.New("orchestra: invalid workflow definition")
	ErrTemplateResolution = errors.New("orchestra: template resolution failed")
	ErrInvalidConfig      = errors.New("orchestra: invalid configuration")

	// Execution errors.
	ErrStepExecution      = errors.New("orchestra: step execution failed")
	ErrCircuitOpen        = errors.New("orchestra: circuit open")
	ErrStepSkipped        = errors.New("orchestra: step skipped")
	ErrCapabilityNotFound = errors.New("orchestra: capability not found")

	// Run errors.
	ErrRunNotFound   = errors.New("orchestra: run not found")
	ErrRunInFlight   = errors.New("orchestra: run already in flight")
	ErrCancelled     = errors.New("orchestra: run cancelled")
	ErrEngineStopped = errors.New("orchestra: engine stopped")
)

// ValidationError describes why a workflow definition was rejected before
// any step executed.
type ValidationError struct {
	WorkflowID string
	StepID     string
	Reason     string

	// Cycle holds the step ids forming a dependency cycle, first id
	// repeated at the end. Empty for other problems.
	Cycle []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("orchestra: invalid workflow")
	if e.WorkflowID != "" {
		fmt.Fprintf(&b, " %q", e.WorkflowID)
	}
	if e.StepID != "" {
		fmt.Fprintf(&b, ": step %q", e.StepID)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if len(e.Cycle) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Cycle, " -> "))
		b.WriteString(")")
	}
	return b.String()
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TemplateError reports a placeholder that could not be resolved.
type TemplateError struct {
	StepID string
	Token  string
	Reason string
}

func (e *TemplateError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("orchestra: step %q: resolve input: %s", e.StepID, e.Reason)
	}
	return fmt.Sprintf("orchestra: step %q: resolve {{%s}}: %s", e.StepID, e.Token, e.Reason)
}

// Is reports whether target is ErrTemplateResolution.
func (e *TemplateError) Is(target error) bool { return target == ErrTemplateResolution }

// CircuitOpenError is returned when a target's circuit breaker rejects a
// call. The capability is never invoked.
type CircuitOpenError struct {
	Target string

	// RetryAfter is the remaining cool-down. Zero while a half-open trial
	// call is in flight.
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("orchestra: circuit open for target %q (retry after %s)", e.Target, e.RetryAfter)
	}
	return fmt.Sprintf("orchestra: circuit open for target %q", e.Target)
}

// Is reports whether target is ErrCircuitOpen.
func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// StepError is the final failure of a step after the retry loop gave up.
type StepError struct {
	StepID   string
	Target   string
	Kind     ErrorKind
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("orchestra: step %q (target %q) failed after %d attempt(s): %s: %v",
		e.StepID, e.Target, e.Attempts, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Is reports whether target is ErrStepExecution.
func (e *StepError) Is(target error) bool { return target == ErrStepExecution }

// Retryable reports whether the underlying failure was classified as
// retryable.
func (e *StepError) Retryable() bool { return e.Kind.Retryable() }

// SkippedError is recorded on steps that never ran.
type SkippedError struct {
	StepID string

	// Cause is the id of the step whose failure triggered the skip, empty
	// when the run itself was cancelled.
	Cause  string
	Reason string
}

func (e *SkippedError) Error() string {
	if e.Cause != "" {
		return fmt.Sprintf("orchestra: step %q skipped: %s (dependency %q)", e.StepID, e.Reason, e.Cause)
	}
	return fmt.Sprintf("orchestra: step %q skipped: %s", e.StepID, e.Reason)
}

// Is reports whether target is ErrStepSkipped.
func (e *SkippedError) Is(target error) bool { return target == ErrStepSkipped }
