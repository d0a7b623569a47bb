package middleware

import (
	"context"
	"time"

	"github.com/xraph/orchestra/id"
)

// Invocation describes one attempt of one step.
type Invocation struct {
	RunID      id.RunID
	WorkflowID string
	StepID     string
	Target     string

	// Attempt is 1-based.
	Attempt int

	// Timeout bounds this attempt. Zero means none.
	Timeout time.Duration

	// Input is the resolved step input.
	Input string
}

// Handler is the terminal function that invokes the capability.
type Handler func(ctx context.Context) (any, error)

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the invocation, and the next handler
// to call. Middleware MUST call next to continue the chain (unless
// short-circuiting).
type Middleware func(ctx context.Context, inv *Invocation, next Handler) (any, error)

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(recover, logging, timeout) executes as:
//
//	recover → logging → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) (any, error) {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) (any, error) {
				return mw(ctx, inv, prev)
			}
		}
		return h(ctx)
	}
}
