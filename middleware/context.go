package middleware

import "context"

type invocationKey struct{}

// Context returns middleware that stores the Invocation in the context
// handed to the capability, so it can read its step id, target and
// attempt number.
func Context() Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) (any, error) {
		return next(WithInvocation(ctx, inv))
	}
}

// WithInvocation returns a copy of ctx carrying inv.
func WithInvocation(ctx context.Context, inv *Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFrom returns the Invocation stored by Context, if any.
func InvocationFrom(ctx context.Context) (*Invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(*Invocation)
	return inv, ok && inv != nil
}
