package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/orchestra/breaker"
	"github.com/xraph/orchestra/ext"
	"github.com/xraph/orchestra/workflow"
)

var (
	_ ext.Extension           = (*Broker)(nil)
	_ ext.WorkflowStarted     = (*Broker)(nil)
	_ ext.WorkflowCompleted   = (*Broker)(nil)
	_ ext.WorkflowFailed      = (*Broker)(nil)
	_ ext.StepStarted         = (*Broker)(nil)
	_ ext.StepRetrying        = (*Broker)(nil)
	_ ext.StepCompleted       = (*Broker)(nil)
	_ ext.StepFailed          = (*Broker)(nil)
	_ ext.StepSkipped         = (*Broker)(nil)
	_ ext.CircuitStateChanged = (*Broker)(nil)
	_ ext.Shutdown            = (*Broker)(nil)
)

const (
	// DefaultBufferSize is the per-subscriber event buffer.
	DefaultBufferSize = 256

	// DefaultCredits is the initial credit count of a new subscriber.
	DefaultCredits int64 = 1000
)

// Broker is a progress sink that fans lifecycle events out to topic
// subscribers. Register it with engine.WithExtension.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	published atomic.Int64

	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers. Zero
// gives subscribers unlimited credits.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		subscribers:    make(map[string]*Subscriber),
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe registers a new subscriber on topics. An existing subscriber
// with the same id is closed and replaced.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)

	b.mu.Lock()
	old := b.subscribers[subscriberID]
	b.subscribers[subscriberID] = sub
	b.mu.Unlock()
	if old != nil {
		b.topics.UnsubscribeAll(subscriberID)
		old.Close()
	}

	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds topics to an existing subscriber. Unknown ids are
// ignored.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	sub, ok := b.GetSubscriber(subscriberID)
	if !ok {
		return
	}
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from the given topics only.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber detaches a subscriber from every topic and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)

	b.mu.Lock()
	sub := b.subscribers[subscriberID]
	delete(b.subscribers, subscriberID)
	b.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}

// GetSubscriber returns a subscriber by id.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sub, ok := b.subscribers[subscriberID]
	return sub, ok
}

// BrokerStats is a point-in-time view of a broker.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
}

// Stats returns the broker's counters. TotalPublished counts deliveries,
// not events.
func (b *Broker) Stats() BrokerStats {
	b.mu.RLock()
	n := len(b.subscribers)
	b.mu.RUnlock()
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: n,
		TotalPublished:  b.published.Load(),
	}
}

// emit encodes data into an event on topic and broadcasts it.
func (b *Broker) emit(typ EventType, topic string, data any, extra ...string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("stream: encode %s: %w", typ, err)
	}
	evt := &Event{Type: typ, Timestamp: time.Now().UTC(), Topic: topic, Data: raw}
	b.published.Add(int64(b.topics.Broadcast(resolveTopics(evt, extra...), evt)))
	return nil
}

func runData(r *workflow.Run) WorkflowEventData {
	return WorkflowEventData{
		RunID:      r.ID.String(),
		WorkflowID: r.WorkflowID,
		Name:       r.Name,
		Mode:       string(r.Mode),
		StepCount:  r.StepCount,
	}
}

func (b *Broker) emitRun(typ EventType, r *workflow.Run, data WorkflowEventData) error {
	return b.emit(typ, WorkflowTopic(r.ID.String()), data)
}

func (b *Broker) emitStep(typ EventType, r *workflow.Run, step workflow.StepResult) error {
	data := StepEventData{
		RunID:      r.ID.String(),
		WorkflowID: r.WorkflowID,
		StepID:     step.StepID,
		Target:     step.Target,
		State:      string(step.State),
		Attempt:    step.Attempts,
		ElapsedMs:  step.Elapsed().Milliseconds(),
		Error:      step.Error,
	}
	var extra []string
	if step.Target != "" {
		extra = append(extra, TargetTopic(step.Target))
	}
	return b.emit(typ, WorkflowTopic(r.ID.String()), data, extra...)
}

// ──────────────────────────────────────────────────
// Workflow hooks
// ──────────────────────────────────────────────────

func (b *Broker) OnWorkflowStarted(_ context.Context, r *workflow.Run) error {
	return b.emitRun(EventWorkflowStarted, r, runData(r))
}

func (b *Broker) OnWorkflowCompleted(_ context.Context, r *workflow.Run, res *workflow.Result) error {
	data := runData(r)
	data.Status = string(res.Status)
	data.ElapsedMs = res.Elapsed.Milliseconds()
	return b.emitRun(EventWorkflowCompleted, r, data)
}

func (b *Broker) OnWorkflowFailed(_ context.Context, r *workflow.Run, res *workflow.Result, runErr error) error {
	data := runData(r)
	data.Status = string(workflow.StatusFailed)
	if res != nil {
		data.ElapsedMs = res.Elapsed.Milliseconds()
	}
	if runErr != nil {
		data.Error = runErr.Error()
	}
	return b.emitRun(EventWorkflowFailed, r, data)
}

// ──────────────────────────────────────────────────
// Step hooks
// ──────────────────────────────────────────────────

func (b *Broker) OnStepStarted(_ context.Context, r *workflow.Run, step workflow.StepResult) error {
	return b.emitStep(EventStepStarted, r, step)
}

func (b *Broker) OnStepRetrying(_ context.Context, r *workflow.Run, stepID string, attempt int, delay time.Duration, stepErr error) error {
	data := StepEventData{
		RunID:      r.ID.String(),
		WorkflowID: r.WorkflowID,
		StepID:     stepID,
		Attempt:    attempt,
		DelayMs:    delay.Milliseconds(),
	}
	if stepErr != nil {
		data.Error = stepErr.Error()
	}
	return b.emit(EventStepRetrying, WorkflowTopic(r.ID.String()), data)
}

func (b *Broker) OnStepCompleted(_ context.Context, r *workflow.Run, step workflow.StepResult) error {
	return b.emitStep(EventStepCompleted, r, step)
}

func (b *Broker) OnStepFailed(_ context.Context, r *workflow.Run, step workflow.StepResult) error {
	return b.emitStep(EventStepFailed, r, step)
}

func (b *Broker) OnStepSkipped(_ context.Context, r *workflow.Run, step workflow.StepResult) error {
	return b.emitStep(EventStepSkipped, r, step)
}

// ──────────────────────────────────────────────────
// Circuit and shutdown hooks
// ──────────────────────────────────────────────────

func (b *Broker) OnCircuitStateChanged(_ context.Context, target string, from, to breaker.State) error {
	return b.emit(EventCircuitStateChanged, TargetTopic(target), CircuitEventData{
		Target: target,
		From:   string(from),
		To:     string(to),
	})
}

// OnShutdown closes every subscriber.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[string]*Subscriber)
	b.mu.Unlock()

	for id, sub := range subs {
		b.topics.UnsubscribeAll(id)
		sub.Close()
	}
	b.logger.Info("stream broker shut down", slog.Int("subscribers", len(subs)))
	return nil
}
