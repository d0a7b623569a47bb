// Package template resolves {{placeholder}} references in step inputs.
//
// Recognised placeholders:
//
//	{{<step>.output}}          output of the named step
//	{{step_N_output}}          output of the step with declared order index N
//	{{previous_step_output}}   output of the step immediately preceding in declared order
//	{{all_previous_outputs}}   outputs of every completed preceding step, one per line
//
// Any other {{...}} text is left untouched.
package template

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/valyala/fasttemplate"
)

const (
	startTag = "{{"
	endTag   = "}}"

	tokenPrevious = "previous_step_output"
	tokenAll      = "all_previous_outputs"
	outputSuffix  = ".output"
)

// Kind is the form of a placeholder.
type Kind int

const (
	// KindStepOutput is {{<step>.output}}.
	KindStepOutput Kind = iota + 1
	// KindStepIndex is {{step_N_output}}.
	KindStepIndex
	// KindPrevious is {{previous_step_output}}.
	KindPrevious
	// KindAllPrevious is {{all_previous_outputs}}.
	KindAllPrevious
)

func (k Kind) String() string {
	switch k {
	case KindStepOutput:
		return "step-output"
	case KindStepIndex:
		return "step-index"
	case KindPrevious:
		return "previous"
	case KindAllPrevious:
		return "all-previous"
	default:
		return "unknown"
	}
}

// Reference is one recognised placeholder.
type Reference struct {
	// Token is the trimmed placeholder text without braces.
	Token string
	Kind  Kind

	// StepID is set for KindStepOutput.
	StepID string

	// Index is set for KindStepIndex.
	Index int
}

// ParseToken classifies a single placeholder body. ok is false for
// placeholders that are not references.
func ParseToken(tag string) (ref Reference, ok bool) {
	tok := strings.TrimSpace(tag)
	switch {
	case tok == tokenPrevious:
		return Reference{Token: tok, Kind: KindPrevious}, true
	case tok == tokenAll:
		return Reference{Token: tok, Kind: KindAllPrevious}, true
	case strings.HasPrefix(tok, "step_") && strings.HasSuffix(tok, "_output"):
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(tok, "step_"), "_output"))
		if err != nil || n < 0 {
			return Reference{}, false
		}
		return Reference{Token: tok, Kind: KindStepIndex, Index: n}, true
	case strings.HasSuffix(tok, outputSuffix) && len(tok) > len(outputSuffix):
		return Reference{Token: tok, Kind: KindStepOutput, StepID: strings.TrimSuffix(tok, outputSuffix)}, true
	}
	return Reference{}, false
}

// Parse returns every reference in input, in order of appearance.
func Parse(input string) ([]Reference, error) {
	if !strings.Contains(input, startTag) {
		return nil, nil
	}
	var refs []Reference
	_, err := fasttemplate.ExecuteFunc(input, startTag, endTag, io.Discard, func(_ io.Writer, tag string) (int, error) {
		if ref, ok := ParseToken(tag); ok {
			refs = append(refs, ref)
		}
		return 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("malformed placeholder: %w", err)
	}
	return refs, nil
}

// Format renders an output value as placeholder text. Strings pass
// through, byte slices, errors and Stringers use their text form, and
// other values are JSON encoded.
func Format(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(t)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
