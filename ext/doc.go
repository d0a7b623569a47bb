// Package ext defines the progress sink of the orchestration engine.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, streaming progress to a UI, writing audit logs.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about. An engine without extensions behaves
// exactly like one with them.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnStepCompleted(ctx context.Context, r *workflow.Run, step workflow.StepResult) error {
//	    log.Printf("step %s of %s completed in %s", step.StepID, r.WorkflowID, step.Elapsed())
//	    return nil
//	}
//
// # Workflow Lifecycle Hooks
//
//   - [WorkflowStarted]: run began
//   - [WorkflowCompleted]: run finished Completed or PartiallyCompleted
//   - [WorkflowFailed]: run finished Failed, cancelled or timed out
//
// # Step Lifecycle Hooks
//
//   - [StepStarted]: step began running with its resolved input
//   - [StepRetrying]: a retryable failure will be retried after a delay
//   - [StepCompleted]: step finished successfully
//   - [StepFailed]: step failed terminally
//   - [StepSkipped]: step was skipped without running
//
// # Other Hooks
//
//   - [CircuitStateChanged]: a target's circuit breaker changed state
//   - [Shutdown]: the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never interrupt a run.
package ext
