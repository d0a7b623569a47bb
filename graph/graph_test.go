package graph_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/orchestra"
	"github.com/xraph/orchestra/graph"
	"github.com/xraph/orchestra/workflow"
)

func def(steps ...workflow.Step) *workflow.Definition {
	return &workflow.Definition{ID: "wf", Steps: steps}
}

func step(id string, deps ...string) workflow.Step {
	return workflow.Step{ID: id, Target: "echo", DependsOn: deps}
}

func validationError(t *testing.T, err error) *orchestra.ValidationError {
	t.Helper()
	var ve *orchestra.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.True(t, errors.Is(err, orchestra.ErrValidation))
	return ve
}

func TestBuild_ExplicitAndInferredEdges(t *testing.T) {
	d := def(
		workflow.Step{ID: "A", Target: "echo", Input: "x"},
		workflow.Step{ID: "B", Target: "echo", Input: "{{A.output}}"},
		workflow.Step{ID: "C", Target: "echo", DependsOn: []string{"A"}, Input: "{{B.output}} {{A.output}}"},
	)

	g, err := graph.Build(d)
	require.NoError(t, err)

	assert.Equal(t, 3, g.Len())
	assert.Equal(t, []string{"A"}, g.Roots())
	assert.Equal(t, []string{"A", "B"}, g.Dependencies("C"))
	assert.Equal(t, []string{"B", "C"}, g.Dependents("A"))
	assert.Equal(t, []graph.Edge{
		{From: "A", To: "B", Source: graph.SourceInferred},
		{From: "A", To: "C", Source: graph.SourceExplicit},
		{From: "B", To: "C", Source: graph.SourceInferred},
	}, g.Edges())
}

func TestBuild_TopologicalOrder(t *testing.T) {
	d := def(
		step("report", "merge"),
		step("fetchA"),
		step("fetchB"),
		step("merge", "fetchA", "fetchB"),
	)
	g, err := graph.Build(d)
	require.NoError(t, err)

	order := g.TopologicalOrder()
	require.Len(t, order, 4)
	assert.Equal(t, []string{"fetchA", "fetchB", "merge", "report"}, order)
}

func TestBuild_CycleExplicit(t *testing.T) {
	_, err := graph.Build(def(step("A", "C"), step("B", "A"), step("C", "B")))
	ve := validationError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "A"}, ve.Cycle)
	assert.Contains(t, err.Error(), "A -> B -> C -> A")
}

func TestBuild_CycleThroughTemplate(t *testing.T) {
	// A depends on B explicitly, B refers to A's output.
	d := def(
		workflow.Step{ID: "A", Target: "echo", DependsOn: []string{"B"}},
		workflow.Step{ID: "B", Target: "echo", Input: "{{A.output}}"},
	)
	_, err := graph.Build(d)
	ve := validationError(t, err)
	assert.Len(t, ve.Cycle, 3)
	assert.Equal(t, ve.Cycle[0], ve.Cycle[2])
}

func TestBuild_SelfReference(t *testing.T) {
	_, err := graph.Build(def(step("A", "A")))
	ve := validationError(t, err)
	assert.Equal(t, []string{"A", "A"}, ve.Cycle)

	_, err = graph.Build(def(workflow.Step{ID: "A", Target: "echo", Input: "{{A.output}}"}))
	ve = validationError(t, err)
	assert.Equal(t, []string{"A", "A"}, ve.Cycle)
}

func TestBuild_Rejects(t *testing.T) {
	tests := []struct {
		name string
		def  *workflow.Definition
		step string
		msg  string
	}{
		{"missing workflow id", &workflow.Definition{Steps: []workflow.Step{step("A")}}, "", "workflow id"},
		{"unknown mode", &workflow.Definition{ID: "wf", Mode: "fanout"}, "", "execution mode"},
		{"empty step id", def(workflow.Step{Target: "echo"}), "", "no id"},
		{"duplicate id", def(step("A"), step("A")), "A", "duplicate step id"},
		{"missing target", def(workflow.Step{ID: "A"}), "A", "no target"},
		{"unknown dependency", def(step("A", "ghost")), "A", `unknown step "ghost"`},
		{"unknown template step", def(workflow.Step{ID: "A", Target: "echo", Input: "{{ghost.output}}"}), "A", "unknown step"},
		{"previous of first", def(workflow.Step{ID: "A", Target: "echo", Input: "{{previous_step_output}}"}), "A", "no preceding step"},
		{"duplicate order", def(
			workflow.Step{ID: "A", Target: "echo", Order: 1},
			workflow.Step{ID: "B", Target: "echo", Order: 1},
		), "B", "order index 1"},
		{"bad retry", def(workflow.Step{ID: "A", Target: "echo", Retry: &orchestra.RetryPolicy{Jitter: 2}}), "A", "jitter"},
		{"negative timeout", def(workflow.Step{ID: "A", Target: "echo", Timeout: -1}), "A", "negative timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := graph.Build(tt.def)
			ve := validationError(t, err)
			assert.Equal(t, tt.step, ve.StepID)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestBuild_WithTargets(t *testing.T) {
	known := func(target string) bool { return target == "echo" }

	_, err := graph.Build(def(step("A")), graph.WithTargets(known))
	require.NoError(t, err)

	_, err = graph.Build(def(workflow.Step{ID: "A", Target: "llm"}), graph.WithTargets(known))
	ve := validationError(t, err)
	assert.Contains(t, ve.Reason, `"llm"`)
}

func TestBuild_EmptyWorkflow(t *testing.T) {
	g, err := graph.Build(&workflow.Definition{ID: "empty"})
	require.NoError(t, err)
	assert.Zero(t, g.Len())
	assert.Empty(t, g.TopologicalOrder())
}

func TestBuild_DoesNotMutateDefinition(t *testing.T) {
	d := def(step("A"), step("B", "A"))
	_, err := graph.Build(d)
	require.NoError(t, err)
	assert.Equal(t, workflow.Mode(""), d.Mode)
	assert.Zero(t, d.Steps[0].Order)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, graph.Validate(def(step("A"), step("B", "A"))))
	assert.ErrorIs(t, graph.Validate(nil), orchestra.ErrValidation)
}
