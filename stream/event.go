// Package stream provides a real-time event broker for orchestra lifecycle
// events. It bridges the ext.Extension system to in-process consumers
// (such as the CLI's --watch printer) via topic-based pub/sub.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Workflow events.
	EventWorkflowStarted   EventType = "workflow.started"
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowFailed    EventType = "workflow.failed"

	// Step events.
	EventStepStarted   EventType = "step.started"
	EventStepRetrying  EventType = "step.retrying"
	EventStepCompleted EventType = "step.completed"
	EventStepFailed    EventType = "step.failed"
	EventStepSkipped   EventType = "step.skipped"

	// Circuit events.
	EventCircuitStateChanged EventType = "circuit.state_changed"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the entity topic of the event, such as workflow:<runID>.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// WorkflowEventData is the payload for workflow lifecycle events.
type WorkflowEventData struct {
	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
	Name       string `json:"name,omitempty"`
	Mode       string `json:"mode"`
	StepCount  int    `json:"step_count"`
	Status     string `json:"status,omitempty"`
	ElapsedMs  int64  `json:"elapsed_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// StepEventData is the payload for step lifecycle events.
type StepEventData struct {
	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
	StepID     string `json:"step_id"`
	Target     string `json:"target,omitempty"`
	State      string `json:"state,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
	DelayMs    int64  `json:"delay_ms,omitempty"`
	ElapsedMs  int64  `json:"elapsed_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CircuitEventData is the payload for circuit breaker events.
type CircuitEventData struct {
	Target string `json:"target"`
	From   string `json:"from"`
	To     string `json:"to"`
}
