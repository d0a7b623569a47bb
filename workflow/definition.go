package workflow

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/xraph/orchestra"
)

// Mode is the run-wide policy governing concurrency among eligible steps.
type Mode string

const (
	// ModeSequential runs one step at a time in declared order.
	ModeSequential Mode = "sequential"
	// ModeParallel dispatches every unblocked step at once, bounded by the
	// concurrency limit.
	ModeParallel Mode = "parallel"
	// ModeDependency dispatches each step as soon as it becomes ready.
	ModeDependency Mode = "dependency"
)

// ParseMode parses a mode name. "hybrid" is accepted as an alias of
// dependency and the empty string selects dependency.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dependency", "hybrid":
		return ModeDependency, nil
	case "sequential":
		return ModeSequential, nil
	case "parallel":
		return ModeParallel, nil
	default:
		return "", fmt.Errorf("%w: unknown execution mode %q", orchestra.ErrValidation, s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Step is one invocation of a target capability.
type Step struct {
	// ID is unique within the workflow.
	ID string `json:"id" yaml:"id"`

	// Order is the declared order index. Zero means the 1-based position
	// in Definition.Steps.
	Order int `json:"order,omitempty" yaml:"order,omitempty"`

	// Target is the capability identifier the step invokes.
	Target string `json:"target" yaml:"target"`

	// Input is passed to the capability after placeholder resolution.
	Input string `json:"input,omitempty" yaml:"input,omitempty"`

	// DependsOn lists step ids that must be terminal before this step runs.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// ContinueOnFailure tolerates this step's failure and lets it run even
	// when its own dependencies failed or were skipped.
	ContinueOnFailure bool `json:"continue_on_failure,omitempty" yaml:"continue_on_failure,omitempty"`

	// Timeout overrides the default per-invocation timeout.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Retry overrides the definition or engine retry policy.
	Retry *orchestra.RetryPolicy `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// Definition is a graph of steps submitted as one execution unit.
// The engine copies it on submission; callers may reuse it afterwards.
type Definition struct {
	ID      string                 `json:"id" yaml:"id"`
	Name    string                 `json:"name,omitempty" yaml:"name,omitempty"`
	Mode    Mode                   `json:"mode,omitempty" yaml:"mode,omitempty"`
	Steps   []Step                 `json:"steps" yaml:"steps"`
	Timeout time.Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retry   *orchestra.RetryPolicy `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// Clone returns a deep copy with Mode and step Order defaults filled in.
func (d *Definition) Clone() *Definition {
	c := *d
	if c.Mode == "" {
		c.Mode = ModeDependency
	}
	if d.Retry != nil {
		r := *d.Retry
		c.Retry = &r
	}
	c.Steps = make([]Step, len(d.Steps))
	for i, s := range d.Steps {
		s.DependsOn = slices.Clone(s.DependsOn)
		if s.Retry != nil {
			r := *s.Retry
			s.Retry = &r
		}
		if s.Order == 0 {
			s.Order = i + 1
		}
		c.Steps[i] = s
	}
	return &c
}

// DisplayName returns Name, falling back to ID.
func (d *Definition) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// Ordered returns the steps sorted by declared order index. Steps sharing
// an index keep their slice position.
func (d *Definition) Ordered() []Step {
	out := slices.Clone(d.Steps)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Step returns the step with the given id.
func (d *Definition) Step(id string) (Step, bool) {
	for _, s := range d.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// EffectiveRetry resolves a step's retry policy: step override, then
// definition default, then fallback.
func (d *Definition) EffectiveRetry(s Step, fallback orchestra.RetryPolicy) orchestra.RetryPolicy {
	switch {
	case s.Retry != nil:
		return *s.Retry
	case d.Retry != nil:
		return *d.Retry
	default:
		return fallback
	}
}

// EffectiveTimeout resolves a step's invocation timeout.
func EffectiveTimeout(s Step, fallback time.Duration) time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return fallback
}
