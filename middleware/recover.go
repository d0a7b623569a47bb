package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// PanicError is returned by Recover when a capability panics.
type PanicError struct {
	Target string
	Value  any
	Stack  []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in target %s: %v", e.Target, e.Value)
}

// Recover turns a capability panic into a *PanicError and logs it with the
// stack. The attempt then fails like any other unclassified error.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) (out any, err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			pe := &PanicError{Target: inv.Target, Value: r, Stack: debug.Stack()}
			logger.Error("capability panicked",
				slog.String("workflow_id", inv.WorkflowID),
				slog.String("step_id", inv.StepID),
				slog.String("target", inv.Target),
				slog.Int("attempt", inv.Attempt),
				slog.Any("panic", r),
				slog.String("stack", string(pe.Stack)),
			)
			out, err = nil, pe
		}()
		return next(ctx)
	}
}
