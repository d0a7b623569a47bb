package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionWorkflowStarted   = "workflow.started"
	ActionWorkflowCompleted = "workflow.completed"
	ActionWorkflowFailed    = "workflow.failed"
	ActionStepCompleted     = "step.completed"
	ActionStepFailed        = "step.failed"
	ActionStepRetrying      = "step.retrying"
	ActionStepSkipped       = "step.skipped"
	ActionCircuitOpened     = "circuit.opened"
	ActionCircuitClosed     = "circuit.closed"
)

// Audit event categories group related actions.
const (
	CategoryWorkflow = "orchestra.workflow"
	CategoryStep     = "orchestra.step"
	CategoryCircuit  = "orchestra.circuit"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceWorkflow = "workflow_run"
	ResourceStep     = "step"
	ResourceTarget   = "target"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionWorkflowStarted,
		ActionWorkflowCompleted,
		ActionWorkflowFailed,
		ActionStepCompleted,
		ActionStepFailed,
		ActionStepRetrying,
		ActionStepSkipped,
		ActionCircuitOpened,
		ActionCircuitClosed,
	}
}
