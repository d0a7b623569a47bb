package workflow

import (
	"time"

	"github.com/xraph/orchestra/id"
)

// StepResult is the outcome of one step. Every step of a finished run has
// exactly one, including skipped steps.
type StepResult struct {
	StepID string    `json:"step_id"`
	Target string    `json:"target"`
	Order  int       `json:"order"`
	State  StepState `json:"state"`

	// Input is the resolved input passed to the capability.
	Input  string `json:"input,omitempty"`
	Output any    `json:"output,omitempty"`

	// Err is the failure or skip cause. Error mirrors it for encoding.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`

	Attempts  int       `json:"attempts"`
	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
}

// SetErr records err on the result.
func (r *StepResult) SetErr(err error) {
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	} else {
		r.Error = ""
	}
}

// Elapsed returns the time between start and end, zero if the step never
// started.
func (r *StepResult) Elapsed() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Run identifies an execution of a definition. It is the payload of
// lifecycle events.
type Run struct {
	ID         id.RunID  `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	Name       string    `json:"name"`
	Mode       Mode      `json:"mode"`
	StepCount  int       `json:"step_count"`
	StartedAt  time.Time `json:"started_at"`
}

// Result is the immutable outcome of a finished run.
type Result struct {
	WorkflowID string        `json:"workflow_id"`
	RunID      id.RunID      `json:"run_id"`
	Name       string        `json:"name"`
	Mode       Mode          `json:"mode"`
	Status     Status        `json:"status"`
	Steps      []StepResult  `json:"steps"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    time.Time     `json:"ended_at"`
	Elapsed    time.Duration `json:"elapsed"`

	// Err is set when the run itself was cancelled or timed out.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// Step returns the result of the given step.
func (r *Result) Step(stepID string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.StepID == stepID {
			return s, true
		}
	}
	return StepResult{}, false
}

// Outputs returns the outputs of completed steps keyed by step id.
func (r *Result) Outputs() map[string]any {
	out := make(map[string]any, len(r.Steps))
	for _, s := range r.Steps {
		if s.State == StateCompleted {
			out[s.StepID] = s.Output
		}
	}
	return out
}

// Count returns how many steps ended in state.
func (r *Result) Count(state StepState) int {
	n := 0
	for _, s := range r.Steps {
		if s.State == state {
			n++
		}
	}
	return n
}

// Snapshot is a point-in-time copy of a run's step-state table.
type Snapshot struct {
	WorkflowID string       `json:"workflow_id"`
	RunID      id.RunID     `json:"run_id"`
	Status     Status       `json:"status"`
	Steps      []StepResult `json:"steps"`
	StartedAt  time.Time    `json:"started_at"`
	TakenAt    time.Time    `json:"taken_at"`
}

// State returns the state of a step in the snapshot.
func (s *Snapshot) State(stepID string) (StepState, bool) {
	for _, r := range s.Steps {
		if r.StepID == stepID {
			return r.State, true
		}
	}
	return "", false
}

// SnapshotOf converts a finished result into a snapshot.
func SnapshotOf(r *Result) *Snapshot {
	steps := make([]StepResult, len(r.Steps))
	copy(steps, r.Steps)
	return &Snapshot{
		WorkflowID: r.WorkflowID,
		RunID:      r.RunID,
		Status:     r.Status,
		Steps:      steps,
		StartedAt:  r.StartedAt,
		TakenAt:    r.EndedAt,
	}
}
