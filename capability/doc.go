// Package capability defines the invokable units steps target, and the
// registry that maps target identifiers onto them.
//
// # Capability
//
// A [Capability] receives the step's resolved input string and returns an
// output value. Any Go function with the right shape can be adapted with
// [Func]:
//
//	caps.Register("summarize", capability.Func(func(ctx context.Context, in string) (any, error) {
//	    return llm.Summarize(ctx, in)
//	}))
//
// Capabilities should honour ctx. A capability that ignores cancellation
// still cannot hang a run, because the step executor abandons the call
// once its timeout elapses.
//
// # Typed capabilities
//
// [Typed] decodes the input as JSON into T before calling the handler.
// Malformed input is reported as orchestra.InvalidInput, which is never
// retried:
//
//	caps.Register("geocode", capability.Typed(
//	    func(ctx context.Context, q GeocodeQuery) (any, error) { ... },
//	))
//
// # Failure classification
//
// Return errors wrapped with orchestra.Unavailable, orchestra.RateLimited,
// orchestra.Transient, orchestra.InvalidInput or orchestra.Unauthorized to
// tell the retry loop how to treat them. Unclassified errors are retried.
package capability
