// Package orchestra provides an in-process workflow orchestration engine
// for Go. A workflow is a graph of steps; each step invokes a registered
// capability with an input that may reference the outputs of earlier
// steps through {{template}} placeholders.
//
// Orchestra is designed as a library, not a service. Register capabilities
// as ordinary Go functions, describe a workflow, and execute it.
//
// # Quick Start
//
//	o, err := orchestra.New(
//	    orchestra.WithMaxConcurrency(4),
//	    orchestra.WithStepTimeout(10*time.Second),
//	)
//
//	caps := capability.NewRegistry()
//	caps.Register("summarize", capability.Func(summarize))
//
//	eng, err := engine.Build(o, caps)
//	res, err := eng.Execute(ctx, def)
//
// # Architecture
//
// The root package holds the configuration bundle and the error taxonomy.
// Subsystems (graph validation, template resolution, circuit breaking,
// step execution, progress extensions) live in their own packages and the
// engine package wires them together.
//
// Run identifiers are prefix-qualified, K-sortable, UUIDv7-based strings.
package orchestra
