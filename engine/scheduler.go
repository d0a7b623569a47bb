package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/xraph/orchestra"
	"github.com/xraph/orchestra/worker"
	"github.com/xraph/orchestra/workflow"
)

// scheduler drives one run. It is the single writer of the run's step
// table: workers report completions over done and every state change
// happens on the loop goroutine.
type scheduler struct {
	eng  *Engine
	run  *run
	pool *worker.Pool
	done chan workflow.StepResult

	// remaining counts the non-terminal dependencies of each step.
	remaining map[string]int
	ready     []string
	running   int
}

func newScheduler(eng *Engine, r *run) *scheduler {
	limit := eng.config.MaxConcurrency
	if r.def.Mode == workflow.ModeSequential {
		limit = 1
	}
	s := &scheduler{
		eng:       eng,
		run:       r,
		pool:      worker.NewPool(eng.logger, worker.WithPoolConcurrency(limit)),
		done:      make(chan workflow.StepResult),
		remaining: make(map[string]int, len(r.order)),
	}
	for _, stepID := range r.order {
		s.remaining[stepID] = len(r.graph.Dependencies(stepID))
	}
	return s
}

// loop executes the run until no step is ready or running. It returns
// the cancellation cause when ctx ended the run early.
func (s *scheduler) loop(ctx context.Context) error {
	emitCtx := context.WithoutCancel(ctx)

	for _, stepID := range s.run.order {
		if s.remaining[stepID] == 0 {
			s.markReady(stepID)
		}
	}

	cancelled := ctx.Done()
	for {
		if ctx.Err() == nil {
			s.dispatch(ctx, emitCtx)
		}
		if s.running == 0 && (len(s.ready) == 0 || ctx.Err() != nil) {
			break
		}

		select {
		case res := <-s.done:
			s.running--
			s.complete(emitCtx, res)
		case <-cancelled:
			// Workers see the same ctx; keep collecting their results.
			cancelled = nil
		}
	}

	// Every result has been collected, so this only retires the goroutines.
	_ = s.pool.Stop(emitCtx)
	if ctx.Err() == nil {
		return nil
	}

	cause := context.Cause(ctx)
	reason := "run cancelled"
	if errors.Is(cause, context.DeadlineExceeded) || orchestra.Classify(cause) == orchestra.KindTimeout {
		reason = "run timed out"
	}
	for _, stepID := range s.run.unfinished() {
		s.skip(emitCtx, stepID, "", reason)
	}
	return cause
}

// hasSlot reports whether another step may start. The pool frees a slot
// before the result reaches done, so a received result always leaves room.
func (s *scheduler) hasSlot() bool {
	return s.pool.Available()
}

// dispatch starts ready steps while a slot is free.
func (s *scheduler) dispatch(ctx, emitCtx context.Context) {
	for len(s.ready) > 0 && s.hasSlot() {
		stepID := s.ready[0]
		s.ready = s.ready[1:]
		step := s.run.steps[stepID]

		input, err := s.run.resolver.Resolve(stepID, step.Input, s.run)
		if err != nil {
			s.failUnstarted(emitCtx, step, orchestra.KindTemplate, err)
			continue
		}

		started := s.run.start(stepID, input)
		s.eng.extensions.EmitStepStarted(emitCtx, s.run.info, started)

		req := worker.Request{
			Run:     s.run.info,
			Step:    step,
			Input:   input,
			Timeout: workflow.EffectiveTimeout(step, s.eng.config.DefaultStepTimeout),
			Retry:   s.run.def.EffectiveRetry(step, s.eng.config.Retry),
		}
		err = s.pool.Go(ctx, stepID,
			func(ctx context.Context) workflow.StepResult { return s.eng.executor.Execute(ctx, req) },
			func(res workflow.StepResult) { s.done <- res },
		)
		if err != nil {
			// The pool is private to this loop; fail the step rather than lose it.
			s.complete(emitCtx, s.failed(step, started, orchestra.KindCancelled, err))
			continue
		}
		s.running++
		s.eng.logger.Debug("step dispatched",
			slog.String("workflow_id", s.run.info.WorkflowID),
			slog.String("step_id", stepID),
			slog.Int("in_flight", s.pool.Active()),
		)
	}
}

// complete records a terminal step result and releases its dependents.
func (s *scheduler) complete(emitCtx context.Context, res workflow.StepResult) {
	res = s.run.finish(res)

	switch res.State {
	case workflow.StateCompleted:
		s.eng.logger.Debug("step completed",
			slog.String("workflow_id", s.run.info.WorkflowID),
			slog.String("step_id", res.StepID),
			slog.Int("attempts", res.Attempts),
			slog.Duration("elapsed", res.Elapsed()),
		)
		s.eng.extensions.EmitStepCompleted(emitCtx, s.run.info, res)
	case workflow.StateFailed:
		s.eng.logger.Warn("step failed",
			slog.String("workflow_id", s.run.info.WorkflowID),
			slog.String("step_id", res.StepID),
			slog.String("target", res.Target),
			slog.Int("attempts", res.Attempts),
			slog.String("error", res.Error),
		)
		s.eng.extensions.EmitStepFailed(emitCtx, s.run.info, res)
	}

	s.release(emitCtx, res.StepID)
}

// release decrements the pending count of every dependent and evaluates
// those whose dependencies are now all terminal.
func (s *scheduler) release(emitCtx context.Context, stepID string) {
	for _, dep := range s.run.graph.Dependents(stepID) {
		s.remaining[dep]--
		if s.remaining[dep] > 0 || s.run.state(dep) != workflow.StatePending {
			continue
		}
		if cause, reason := s.blocked(dep); cause != "" {
			s.skip(emitCtx, dep, cause, reason)
			continue
		}
		s.markReady(dep)
	}
}

// blocked reports the first dependency that prevents stepID from running.
// Only a Completed dependency is satisfied, unless stepID itself tolerates
// failures, in which case any terminal dependency is.
func (s *scheduler) blocked(stepID string) (cause, reason string) {
	if s.run.steps[stepID].ContinueOnFailure {
		return "", ""
	}
	for _, dep := range s.run.graph.Dependencies(stepID) {
		st := s.run.state(dep)
		if st == workflow.StateCompleted {
			continue
		}
		if st == workflow.StateSkipped {
			return dep, "dependency skipped"
		}
		return dep, "dependency failed"
	}
	return "", ""
}

func (s *scheduler) markReady(stepID string) {
	if !s.run.transition(stepID, workflow.StateReady) {
		return
	}
	s.ready = append(s.ready, stepID)
	slices.SortStableFunc(s.ready, func(a, b string) int {
		return s.run.steps[a].Order - s.run.steps[b].Order
	})
}

// skip marks a step that never ran as Skipped and cascades to its
// dependents through release.
func (s *scheduler) skip(emitCtx context.Context, stepID, cause, reason string) {
	step := s.run.steps[stepID]
	res := workflow.StepResult{
		StepID:  stepID,
		Target:  step.Target,
		Order:   step.Order,
		State:   workflow.StateSkipped,
		EndedAt: time.Now().UTC(),
	}
	res.SetErr(&orchestra.SkippedError{StepID: stepID, Cause: cause, Reason: reason})
	if !s.run.skip(res) {
		return
	}

	s.eng.logger.Debug("step skipped",
		slog.String("workflow_id", s.run.info.WorkflowID),
		slog.String("step_id", stepID),
		slog.String("reason", reason),
		slog.String("cause", cause),
	)
	s.eng.extensions.EmitStepSkipped(emitCtx, s.run.info, res)
	if cause != "" {
		s.release(emitCtx, stepID)
	}
}

// failUnstarted fails a Ready step without invoking its capability.
func (s *scheduler) failUnstarted(emitCtx context.Context, step workflow.Step, kind orchestra.ErrorKind, err error) {
	now := time.Now().UTC()
	res := workflow.StepResult{
		StepID:    step.ID,
		Target:    step.Target,
		Order:     step.Order,
		StartedAt: now,
	}
	s.complete(emitCtx, s.failed(step, res, kind, err))
}

func (s *scheduler) failed(step workflow.Step, res workflow.StepResult, kind orchestra.ErrorKind, err error) workflow.StepResult {
	res.State = workflow.StateFailed
	res.Attempts = 0
	res.EndedAt = time.Now().UTC()
	res.SetErr(&orchestra.StepError{StepID: step.ID, Target: step.Target, Kind: kind, Err: err})
	return res
}
