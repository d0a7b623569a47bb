package workflow

// StepState is the lifecycle state of one step within a run.
type StepState string

const (
	StatePending   StepState = "pending"
	StateReady     StepState = "ready"
	StateRunning   StepState = "running"
	StateCompleted StepState = "completed"
	StateFailed    StepState = "failed"
	StateSkipped   StepState = "skipped"
)

// Terminal reports whether no further transitions are possible.
func (s StepState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateSkipped
}

// CanTransition reports whether moving from s to next is a legal step
// transition.
func (s StepState) CanTransition(next StepState) bool {
	switch s {
	case StatePending:
		return next == StateReady || next == StateSkipped
	case StateReady:
		return next == StateRunning || next == StateSkipped || next == StateFailed
	case StateRunning:
		return next == StateCompleted || next == StateFailed
	default:
		return false
	}
}

// Status is the overall outcome of a run.
type Status string

const (
	// StatusRunning is reported by snapshots of in-flight runs.
	StatusRunning Status = "running"
	// StatusCompleted means every step completed.
	StatusCompleted Status = "completed"
	// StatusPartiallyCompleted means some steps failed or were skipped but
	// every failure was tolerated.
	StatusPartiallyCompleted Status = "partially_completed"
	// StatusFailed means an intolerable step failure occurred or the run
	// was cancelled.
	StatusFailed Status = "failed"
)
