package graph

import (
	"errors"
	"fmt"

	"github.com/xraph/orchestra"
	"github.com/xraph/orchestra/template"
	"github.com/xraph/orchestra/workflow"
)

// Option configures Build.
type Option func(*builder)

type builder struct {
	hasTarget func(string) bool
}

// WithTargets makes Build reject steps whose target is not known.
func WithTargets(has func(target string) bool) Option {
	return func(b *builder) { b.hasTarget = has }
}

// Build validates def and returns its dependency graph. Every problem is
// reported as *orchestra.ValidationError.
func Build(def *workflow.Definition, opts ...Option) (*Graph, error) {
	if def == nil {
		return nil, &orchestra.ValidationError{Reason: "nil definition"}
	}
	b := &builder{}
	for _, opt := range opts {
		opt(b)
	}

	def = def.Clone()
	invalid := func(stepID, format string, args ...any) error {
		return &orchestra.ValidationError{WorkflowID: def.ID, StepID: stepID, Reason: fmt.Sprintf(format, args...)}
	}

	if def.ID == "" {
		return nil, invalid("", "workflow id is required")
	}
	if _, err := workflow.ParseMode(string(def.Mode)); err != nil {
		return nil, invalid("", "unknown execution mode %q", def.Mode)
	}
	if def.Retry != nil {
		if err := def.Retry.Validate(); err != nil {
			return nil, invalid("", "%v", err)
		}
	}
	if def.Timeout < 0 {
		return nil, invalid("", "negative timeout")
	}

	g := newGraph()
	orders := make(map[int]string, len(def.Steps))
	for _, s := range def.Ordered() {
		switch {
		case s.ID == "":
			return nil, invalid("", "step at order %d has no id", s.Order)
		case g.nodes[s.ID] != nil:
			return nil, invalid(s.ID, "duplicate step id")
		case s.Target == "":
			return nil, invalid(s.ID, "no target capability")
		case b.hasTarget != nil && !b.hasTarget(s.Target):
			return nil, invalid(s.ID, "unknown target capability %q", s.Target)
		case s.Timeout < 0:
			return nil, invalid(s.ID, "negative timeout")
		}
		if other, dup := orders[s.Order]; dup {
			return nil, invalid(s.ID, "order index %d already used by step %q", s.Order, other)
		}
		if s.Retry != nil {
			if err := s.Retry.Validate(); err != nil {
				return nil, invalid(s.ID, "%v", err)
			}
		}
		orders[s.Order] = s.ID
		g.addNode(s.ID, s.Order)
	}

	if err := linkExplicit(g, def); err != nil {
		return nil, err
	}
	if err := linkInferred(g, def); err != nil {
		return nil, err
	}

	if cycle := g.detectCycle(); cycle != nil {
		return nil, &orchestra.ValidationError{
			WorkflowID: def.ID,
			StepID:     cycle[0],
			Reason:     "dependency cycle detected",
			Cycle:      cycle,
		}
	}
	return g, nil
}

// Validate is Build without the graph.
func Validate(def *workflow.Definition, opts ...Option) error {
	_, err := Build(def, opts...)
	return err
}

func linkExplicit(g *Graph, def *workflow.Definition) error {
	for _, s := range def.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return &orchestra.ValidationError{
					WorkflowID: def.ID,
					StepID:     s.ID,
					Reason:     fmt.Sprintf("depends on unknown step %q", dep),
				}
			}
			if dep == s.ID {
				return &orchestra.ValidationError{
					WorkflowID: def.ID,
					StepID:     s.ID,
					Reason:     "dependency cycle detected",
					Cycle:      []string{s.ID, s.ID},
				}
			}
			if err := g.addEdge(dep, s.ID, SourceExplicit); err != nil {
				return fmt.Errorf("link %s -> %s: %w", dep, s.ID, err)
			}
		}
	}
	return nil
}

func linkInferred(g *Graph, def *workflow.Definition) error {
	res := template.NewResolver(def)
	for _, s := range def.Steps {
		deps, err := res.Dependencies(s.ID, s.Input)
		if err != nil {
			var te *orchestra.TemplateError
			reason := err.Error()
			if errors.As(err, &te) {
				reason = "template reference: " + te.Reason
			}
			return &orchestra.ValidationError{WorkflowID: def.ID, StepID: s.ID, Reason: reason}
		}
		for _, dep := range deps {
			if dep == s.ID {
				return &orchestra.ValidationError{
					WorkflowID: def.ID,
					StepID:     s.ID,
					Reason:     "dependency cycle detected",
					Cycle:      []string{s.ID, s.ID},
				}
			}
			if err := g.addEdge(dep, s.ID, SourceInferred); err != nil {
				return fmt.Errorf("link %s -> %s: %w", dep, s.ID, err)
			}
		}
	}
	return nil
}
