package template

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/valyala/fasttemplate"

	"github.com/xraph/orchestra"
	"github.com/xraph/orchestra/workflow"
)

// Source gives the resolver read access to step results. *workflow.Result
// satisfies it, so finished runs can be rendered after the fact.
type Source interface {
	Step(stepID string) (workflow.StepResult, bool)
}

// Resolver maps placeholders onto the steps of one definition.
// It is immutable after construction and safe for concurrent use.
type Resolver struct {
	ordered  []string
	position map[string]int
	byOrder  map[int]string
}

// NewResolver indexes def's steps by declared order. Zero order indexes
// are taken as the 1-based slice position.
func NewResolver(def *workflow.Definition) *Resolver {
	steps := def.Clone().Ordered()
	r := &Resolver{
		ordered:  make([]string, 0, len(steps)),
		position: make(map[string]int, len(steps)),
		byOrder:  make(map[int]string, len(steps)),
	}
	for i, s := range steps {
		r.ordered = append(r.ordered, s.ID)
		r.position[s.ID] = i
		if _, dup := r.byOrder[s.Order]; !dup {
			r.byOrder[s.Order] = s.ID
		}
	}
	return r
}

// Dependencies returns the step ids that stepID's input refers to, in
// order of first appearance. {{all_previous_outputs}} refers to every step
// declared before stepID.
func (r *Resolver) Dependencies(stepID, input string) ([]string, error) {
	refs, err := Parse(input)
	if err != nil {
		return nil, &orchestra.TemplateError{StepID: stepID, Token: "", Reason: err.Error()}
	}

	var out []string
	seen := make(map[string]bool)
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	for _, ref := range refs {
		switch ref.Kind {
		case KindAllPrevious:
			for _, id := range r.preceding(stepID) {
				add(id)
			}
		default:
			id, err := r.target(stepID, ref)
			if err != nil {
				return nil, err
			}
			add(id)
		}
	}
	return out, nil
}

// Resolve substitutes every reference in input with the referenced output.
// A referenced step that has not completed fails the resolution with
// *orchestra.TemplateError.
func (r *Resolver) Resolve(stepID, input string, src Source) (string, error) {
	if !strings.Contains(input, startTag) {
		return input, nil
	}

	var b strings.Builder
	_, err := fasttemplate.ExecuteFunc(input, startTag, endTag, &b, func(w io.Writer, tag string) (int, error) {
		ref, ok := ParseToken(tag)
		if !ok {
			return w.Write([]byte(startTag + tag + endTag))
		}
		text, err := r.render(stepID, ref, src)
		if err != nil {
			return 0, err
		}
		return w.Write([]byte(text))
	})
	if err != nil {
		var te *orchestra.TemplateError
		if errors.As(err, &te) {
			return "", te
		}
		return "", &orchestra.TemplateError{StepID: stepID, Reason: err.Error()}
	}
	return b.String(), nil
}

// PreviousOutputs returns the completed results of every step declared
// before stepID, in declared order.
func (r *Resolver) PreviousOutputs(stepID string, src Source) []workflow.StepResult {
	var out []workflow.StepResult
	for _, id := range r.preceding(stepID) {
		if res, ok := src.Step(id); ok && res.State == workflow.StateCompleted {
			out = append(out, res)
		}
	}
	return out
}

// JoinOutputs renders results the way {{all_previous_outputs}} does.
func JoinOutputs(results []workflow.StepResult) string {
	parts := make([]string, 0, len(results))
	for _, res := range results {
		parts = append(parts, Format(res.Output))
	}
	return strings.Join(parts, "\n")
}

func (r *Resolver) render(stepID string, ref Reference, src Source) (string, error) {
	if ref.Kind == KindAllPrevious {
		return JoinOutputs(r.PreviousOutputs(stepID, src)), nil
	}

	id, err := r.target(stepID, ref)
	if err != nil {
		return "", err
	}
	res, ok := src.Step(id)
	if !ok || !res.State.Terminal() {
		return "", &orchestra.TemplateError{StepID: stepID, Token: ref.Token, Reason: fmt.Sprintf("step %q has not finished", id)}
	}
	if res.State != workflow.StateCompleted {
		return "", &orchestra.TemplateError{StepID: stepID, Token: ref.Token, Reason: fmt.Sprintf("step %q is %s", id, res.State)}
	}
	return Format(res.Output), nil
}

// target maps a single-step reference to a step id.
func (r *Resolver) target(stepID string, ref Reference) (string, error) {
	switch ref.Kind {
	case KindStepOutput:
		if _, ok := r.position[ref.StepID]; !ok {
			return "", &orchestra.TemplateError{StepID: stepID, Token: ref.Token, Reason: fmt.Sprintf("unknown step %q", ref.StepID)}
		}
		return ref.StepID, nil
	case KindStepIndex:
		id, ok := r.byOrder[ref.Index]
		if !ok {
			return "", &orchestra.TemplateError{StepID: stepID, Token: ref.Token, Reason: fmt.Sprintf("no step with order index %d", ref.Index)}
		}
		return id, nil
	case KindPrevious:
		pos, ok := r.position[stepID]
		if !ok || pos == 0 {
			return "", &orchestra.TemplateError{StepID: stepID, Token: ref.Token, Reason: "no preceding step"}
		}
		return r.ordered[pos-1], nil
	default:
		return "", &orchestra.TemplateError{StepID: stepID, Token: ref.Token, Reason: "unsupported reference"}
	}
}

func (r *Resolver) preceding(stepID string) []string {
	pos, ok := r.position[stepID]
	if !ok {
		return nil
	}
	return r.ordered[:pos]
}
