// Package workflow defines workflow definitions, step states, step and
// run results, and the run-history store interface.
//
// A [Definition] is caller-constructed data: an ordered list of [Step]s,
// each naming a target capability and an input string that may reference
// earlier outputs through placeholders such as {{fetch.output}}.
//
// # Defining a Workflow
//
//	def := &workflow.Definition{
//	    ID:   "digest",
//	    Mode: workflow.ModeDependency,
//	    Steps: []workflow.Step{
//	        {ID: "fetch", Target: "http.get", Input: "https://example.com/feed"},
//	        {ID: "summarize", Target: "llm", Input: "Summarize: {{fetch.output}}"},
//	    },
//	}
//
// Definitions can also be loaded from YAML with [LoadYAML].
//
// # Step State Machine
//
//	pending → ready → running → completed
//	                          → failed
//	pending/ready → skipped
//
// # Key Types
//
//   - [Definition]: the submitted graph of steps
//   - [StepResult]: the final outcome of one step
//   - [Result]: the final outcome of a run
//   - [Snapshot]: the live state table of an in-flight run
//   - [Store]: run history persistence
package workflow
