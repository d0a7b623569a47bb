// Package throttle enforces per-target rate limits and concurrency caps on
// capability invocations.
//
// Targets are the capability identifiers steps invoke. A flaky or metered
// backend can be protected independently of the run-wide concurrency
// limit:
//
//	throttle.Config{
//	    Target:         "llm",
//	    MaxConcurrency: 4,    // at most 4 calls in flight, across all runs
//	    RateLimit:      10,   // at most 10 calls/s sustained
//	    RateBurst:      20,   // allow bursts up to 20
//	}
//
// Pass configs when building the engine:
//
//	engine.Build(o, caps,
//	    engine.WithThrottle(
//	        throttle.Config{Target: "llm", MaxConcurrency: 4},
//	        throttle.Config{Target: "http.get", RateLimit: 5, RateBurst: 10},
//	    ),
//	)
//
// # Manager
//
// [Manager] uses a token-bucket rate limiter (golang.org/x/time/rate) and
// a weighted semaphore (golang.org/x/sync/semaphore) per target.
// [Manager.Acquire] blocks until both admit the call or ctx is done:
//
//	release, err := m.Acquire(ctx, target)
//	if err != nil {
//	    return err
//	}
//	defer release()
//
// [Manager.TryAcquire] is the non-blocking variant. Targets without a
// [Config] have no limits.
package throttle
