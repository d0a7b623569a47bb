package middleware

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/orchestra"
)

type outcome struct {
	out any
	err error
}

// Timeout returns middleware that enforces Invocation.Timeout. The rest of
// the chain runs in its own goroutine; when the deadline passes its
// context is cancelled and Timeout returns at once, even if the capability
// never looks at its context. The abandoned call's result is discarded.
//
// An elapsed attempt deadline is reported as a retryable
// orchestra.KindTimeout error. Cancellation of the parent context is
// reported as the parent's error.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) (any, error) {
		if inv.Timeout <= 0 {
			return next(ctx)
		}

		tctx, cancel := context.WithTimeout(ctx, inv.Timeout)
		defer cancel()

		done := make(chan outcome, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- outcome{err: fmt.Errorf("panic in target %s: %v", inv.Target, r)}
				}
			}()
			out, err := next(tctx)
			done <- outcome{out: out, err: err}
		}()

		select {
		case o := <-done:
			if o.err != nil && ctx.Err() == nil && tctx.Err() != nil {
				return nil, timeoutError(inv)
			}
			return o.out, o.err
		case <-tctx.Done():
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			logger.Warn("step attempt timed out",
				slog.String("step_id", inv.StepID),
				slog.String("target", inv.Target),
				slog.Int("attempt", inv.Attempt),
				slog.Duration("timeout", inv.Timeout),
			)
			return nil, timeoutError(inv)
		}
	}
}

func timeoutError(inv *Invocation) error {
	return orchestra.Timeout(fmt.Errorf("step %q timed out after %s: %w", inv.StepID, inv.Timeout, context.DeadlineExceeded))
}
