package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xraph/orchestra"
)

// Capability is an invokable unit of work identified by a target name.
type Capability interface {
	Invoke(ctx context.Context, input string) (any, error)
}

// Func adapts an ordinary function to Capability.
type Func func(ctx context.Context, input string) (any, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, input string) (any, error) {
	return f(ctx, input)
}

// Typed returns a Capability that JSON-decodes its input into T. Empty
// input decodes to the zero value.
func Typed[T any](handler func(ctx context.Context, input T) (any, error)) Capability {
	return Func(func(ctx context.Context, input string) (any, error) {
		var v T
		if strings.TrimSpace(input) != "" {
			if err := json.Unmarshal([]byte(input), &v); err != nil {
				return nil, orchestra.InvalidInput(fmt.Errorf("decode input: %w", err))
			}
		}
		return handler(ctx, v)
	})
}
