package engine

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/orchestra/graph"
	"github.com/xraph/orchestra/template"
	"github.com/xraph/orchestra/workflow"
)

// run is the in-flight state of one execution. The scheduler loop is the
// only writer of the step table; Status readers take the read lock.
type run struct {
	info     *workflow.Run
	def      *workflow.Definition
	graph    *graph.Graph
	resolver *template.Resolver
	steps    map[string]workflow.Step

	cancel context.CancelCauseFunc
	done   chan struct{}

	mu    sync.RWMutex
	order []string
	table map[string]*workflow.StepResult
}

var _ template.Source = (*run)(nil)

func newRun(info *workflow.Run, def *workflow.Definition, g *graph.Graph) *run {
	ordered := def.Ordered()
	r := &run{
		info:     info,
		def:      def,
		graph:    g,
		resolver: template.NewResolver(def),
		steps:    make(map[string]workflow.Step, len(ordered)),
		done:     make(chan struct{}),
		order:    make([]string, 0, len(ordered)),
		table:    make(map[string]*workflow.StepResult, len(ordered)),
	}
	for _, s := range ordered {
		r.steps[s.ID] = s
		r.order = append(r.order, s.ID)
		r.table[s.ID] = &workflow.StepResult{
			StepID: s.ID,
			Target: s.Target,
			Order:  s.Order,
			State:  workflow.StatePending,
		}
	}
	return r
}

// Step implements template.Source.
func (r *run) Step(stepID string) (workflow.StepResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.table[stepID]
	if !ok {
		return workflow.StepResult{}, false
	}
	return *res, true
}

// state returns the current state of a step.
func (r *run) state(stepID string) workflow.StepState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table[stepID].State
}

// transition moves a step to next. Illegal transitions are ignored and
// reported as false.
func (r *run) transition(stepID string, next workflow.StepState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.table[stepID]
	if !res.State.CanTransition(next) {
		return false
	}
	res.State = next
	return true
}

// start marks a Ready step Running with its resolved input.
func (r *run) start(stepID, input string) workflow.StepResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.table[stepID]
	res.State = workflow.StateRunning
	res.Input = input
	res.StartedAt = time.Now().UTC()
	return *res
}

// finish records the terminal result of a step. Results are write once.
func (r *run) finish(res workflow.StepResult) workflow.StepResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.table[res.StepID]
	if cur.State.Terminal() {
		return *cur
	}
	if res.EndedAt.IsZero() {
		res.EndedAt = time.Now().UTC()
	}
	*cur = res
	return res
}

// skip stores the record of a step that never ran. It reports false if
// the step already left Pending and Ready.
func (r *run) skip(res workflow.StepResult) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.table[res.StepID]
	if !cur.State.CanTransition(workflow.StateSkipped) {
		return false
	}
	*cur = res
	return true
}

// unfinished returns the ids of steps not yet terminal, in declared order.
func (r *run) unfinished() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, stepID := range r.order {
		if !r.table[stepID].State.Terminal() {
			out = append(out, stepID)
		}
	}
	return out
}

// results copies the table in declared order.
func (r *run) results() []workflow.StepResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]workflow.StepResult, 0, len(r.order))
	for _, stepID := range r.order {
		out = append(out, *r.table[stepID])
	}
	return out
}

// snapshot returns a point-in-time view for Status.
func (r *run) snapshot() *workflow.Snapshot {
	return &workflow.Snapshot{
		WorkflowID: r.info.WorkflowID,
		RunID:      r.info.ID,
		Status:     workflow.StatusRunning,
		Steps:      r.results(),
		StartedAt:  r.info.StartedAt,
		TakenAt:    time.Now().UTC(),
	}
}
