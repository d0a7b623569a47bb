// Package engine wires the orchestra subsystems together and provides the
// application-level API for executing workflow definitions.
//
// The engine package exists to break an import cycle: the root orchestra
// package defines the configuration and error taxonomy imported by every
// subsystem and therefore cannot import those packages back. Engine sits
// above all subsystem packages and below the application layer.
//
// # // Building an Engine
//
//	o, err := orchestra.New(
//	    orchestra.WithMaxConcurrency(4),
//	    orchestra.WithBreaker(5, 30*time.Second),
//	)
//
//	caps := capability.NewRegistry()
//	builtin.Register(caps)
//
//	eng, err := engine.Build(o, caps,
//	    engine.WithExtension(broker),
//	    engine.WithMiddleware(myMiddleware),
//	    engine.WithThrottle(throttle.Config{Target: "http.get", RateLimit: 10}),
//	)
//
// # Executing Workflows
//
//	res, err := eng.Execute(ctx, &workflow.Definition{
//	    ID:   "report",
//	    Mode: workflow.ModeDependency,
//	    Steps: []workflow.Step{
//	        {ID: "fetch", Target: "http.get", Input: "https://example.com"},
//	        {ID: "shout", Target: "upper", Input: "{{fetch.output}}"},
//	    },
//	})
//
// Execute blocks until every step is terminal. Step failures do not make
// it return an error; inspect res.Status and res.Steps instead.
//
// # Observing Runs
//
//   - [Engine.Status]: live step-state table of an in-flight run
//   - [Engine.Cancel]: cancel an in-flight run
//   - [Engine.Results]: stored results, newest first
//   - [Engine.BreakerState]: circuit state of a target
//
// # Options
//
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the invocation chain
//   - [WithThrottle]: per-target rate limits and concurrency
//   - [WithStore]: run-history store
//   - [WithBackoff]: map retry policies to delay strategies
//   - [WithBreakerClock]: circuit breaker time source
//   - [WithTracerProvider]: set the OpenTelemetry tracer provider
//   - [WithMeterProvider]: set the OpenTelemetry meter provider
package engine
