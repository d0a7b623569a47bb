// Package middleware provides composable middleware around capability
// invocations.
//
// A [Middleware] wraps one attempt of one step. Middleware are composed
// into a chain using [Chain] and applied by the step executor around every
// attempt. They are applied right-to-left: the first middleware in the
// slice is the outermost wrapper.
//
//	// recover → logging → timeout → capability
//	chain := middleware.Chain(middleware.Recover(logger), middleware.Logging(logger), middleware.Timeout(logger))
//
// # Built-in Middleware
//
//   - [Recover]: catches capability panics and converts them to errors
//   - [Logging]: logs step, target, attempt, duration and outcome
//   - [Timeout]: bounds the attempt by Invocation.Timeout and stops waiting on a capability that ignores cancellation
//   - [Tracing]: wraps the attempt in an OpenTelemetry span
//   - [Metrics]: records per-target duration and outcome counters
//   - [Context]: exposes the Invocation to the capability through its context
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, inv *middleware.Invocation, next middleware.Handler) (any, error) {
//	        // pre-processing
//	        out, err := next(ctx)
//	        // post-processing
//	        return out, err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., caching, input validation).
package middleware
