// Package audithook is an orchestra extension that bridges lifecycle
// events to an audit trail.
//
// Workflow, step and circuit hooks emit a structured audit event through
// the [Recorder] interface. Severity follows the outcome: info for normal
// operation, warning for retries, skips and step failures, critical for
// failed runs and opened circuits.
//
// # Writing JSON lines
//
//	f, _ := os.Create("audit.jsonl")
//	eng, _ := engine.Build(o, caps,
//	    engine.WithExtension(audithook.New(audithook.NewJSONRecorder(f))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionStepFailed,
//	        audithook.ActionWorkflowFailed,
//	    ),
//	)
package audithook
