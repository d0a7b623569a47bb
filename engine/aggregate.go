package engine

import (
	"errors"
	"time"

	"github.com/xraph/orchestra"
	"github.com/xraph/orchestra/template"
	"github.com/xraph/orchestra/workflow"
)

// aggregate builds the immutable result of a finished run. runErr is the
// cancellation or timeout cause, nil for runs that ended on their own.
func aggregate(r *run, runErr error) *workflow.Result {
	end := time.Now().UTC()
	steps := r.results()
	res := &workflow.Result{
		WorkflowID: r.info.WorkflowID,
		RunID:      r.info.ID,
		Name:       r.info.Name,
		Mode:       r.info.Mode,
		Status:     overallStatus(r, steps, runErr),
		Steps:      steps,
		StartedAt:  r.info.StartedAt,
		EndedAt:    end,
		Elapsed:    end.Sub(r.info.StartedAt),
		Err:        runErr,
	}
	if runErr != nil {
		res.Error = runErr.Error()
	}
	return res
}

// overallStatus is Completed when every step completed and Failed when
// the run was interrupted or a step that does not tolerate failure
// failed. Everything else is PartiallyCompleted.
func overallStatus(r *run, steps []workflow.StepResult, runErr error) workflow.Status {
	if runErr != nil {
		return workflow.StatusFailed
	}
	allCompleted := true
	for _, s := range steps {
		switch s.State {
		case workflow.StateCompleted:
		case workflow.StateFailed:
			if !r.steps[s.StepID].ContinueOnFailure {
				return workflow.StatusFailed
			}
			allCompleted = false
		default:
			allCompleted = false
		}
	}
	if allCompleted {
		return workflow.StatusCompleted
	}
	return workflow.StatusPartiallyCompleted
}

// failureCause returns the error reported with a Failed run: the run
// error if any, otherwise the first intolerable step failure.
func failureCause(r *run, res *workflow.Result) error {
	if res.Err != nil {
		return res.Err
	}
	for _, s := range res.Steps {
		if s.State == workflow.StateFailed && !r.steps[s.StepID].ContinueOnFailure {
			return s.Err
		}
	}
	return errors.New("orchestra: workflow failed")
}

// AllPreviousOutputs renders the outputs of every completed step declared
// before stepID the way {{all_previous_outputs}} does. An empty stepID
// selects every completed step of the run.
func AllPreviousOutputs(res *workflow.Result, stepID string) (string, error) {
	var prev []workflow.StepResult
	for _, s := range res.Steps {
		if s.StepID == stepID {
			return template.JoinOutputs(prev), nil
		}
		if s.State == workflow.StateCompleted {
			prev = append(prev, s)
		}
	}
	if stepID != "" {
		return "", &orchestra.TemplateError{StepID: stepID, Token: "all_previous_outputs", Reason: "unknown step"}
	}
	return template.JoinOutputs(prev), nil
}
