package stream

import (
	"fmt"
	"strings"
	"sync"
)

// Global topics. Entity topics are built with WorkflowTopic and
// TargetTopic:
//
//	workflow:<runID>   events of one run
//	target:<name>      step and circuit events of one capability target
const (
	TopicWorkflows = "workflows"
	TopicSteps     = "steps"
	TopicCircuits  = "circuits"
	TopicFirehose  = "firehose"
)

var (
	globalTopics = map[string]bool{
		TopicWorkflows: true,
		TopicSteps:     true,
		TopicCircuits:  true,
		TopicFirehose:  true,
	}
	entityKinds = map[string]bool{"workflow": true, "target": true}

	// family topic by event type prefix
	familyTopics = map[string]string{
		"workflow": TopicWorkflows,
		"step":     TopicSteps,
		"circuit":  TopicCircuits,
	}
)

// WorkflowTopic returns the topic of a single run.
func WorkflowTopic(runID string) string { return "workflow:" + runID }

// TargetTopic returns the topic of a capability target.
func TargetTopic(target string) string { return "target:" + target }

type subscriberSet map[string]*Subscriber

// TopicRegistry tracks which subscribers listen on which topic.
// It is safe for concurrent use.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]subscriberSet
}

// NewTopicRegistry creates an empty topic registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{topics: make(map[string]subscriberSet)}
}

// Subscribe attaches sub to topic.
func (tr *TopicRegistry) Subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	set := tr.topics[topic]
	if set == nil {
		set = make(subscriberSet)
		tr.topics[topic] = set
	}
	set[sub.ID()] = sub
	sub.addTopic(topic)
}

// Unsubscribe detaches a subscriber from one topic.
func (tr *TopicRegistry) Unsubscribe(topic, subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.detach(topic, subscriberID)
}

// UnsubscribeAll detaches a subscriber from every topic.
func (tr *TopicRegistry) UnsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for topic := range tr.topics {
		tr.detach(topic, subscriberID)
	}
}

// detach must be called with mu held. Empty topics are dropped.
func (tr *TopicRegistry) detach(topic, subscriberID string) {
	set, ok := tr.topics[topic]
	if !ok {
		return
	}
	if sub := set[subscriberID]; sub != nil {
		sub.removeTopic(topic)
		delete(set, subscriberID)
	}
	if len(set) == 0 {
		delete(tr.topics, topic)
	}
}

// Broadcast delivers evt to every subscriber of the given topics, once per
// subscriber, and reports how many accepted it.
func (tr *TopicRegistry) Broadcast(topics []string, evt *Event) int {
	tr.mu.RLock()
	targets := make(subscriberSet)
	for _, topic := range topics {
		for id, sub := range tr.topics[topic] {
			targets[id] = sub
		}
	}
	tr.mu.RUnlock()

	n := 0
	for _, sub := range targets {
		if sub.send(evt) {
			n++
		}
	}
	return n
}

// TopicCount returns the number of topics with at least one subscriber.
func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}

// SubscriberCount returns the number of subscribers on topic.
func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics[topic])
}

// resolveTopics lists the topics an event goes to: firehose, the family
// topic of its type, its own topic, then extra.
func resolveTopics(evt *Event, extra ...string) []string {
	topics := make([]string, 0, 3+len(extra))
	topics = append(topics, TopicFirehose)

	family, _, _ := strings.Cut(string(evt.Type), ".")
	if t, ok := familyTopics[family]; ok {
		topics = append(topics, t)
	}
	if evt.Topic != "" {
		topics = append(topics, evt.Topic)
	}
	return append(topics, extra...)
}

// ParseTopicEntity splits an entity topic: "workflow:run_abc" gives
// ("workflow", "run_abc"). Global topics give ("", "").
func ParseTopicEntity(topic string) (entityType, entityID string) {
	kind, id, ok := strings.Cut(topic, ":")
	if !ok {
		return "", ""
	}
	return kind, id
}

// ValidateTopic reports whether topic is a global topic or a well-formed
// entity topic.
func ValidateTopic(topic string) error {
	if globalTopics[topic] {
		return nil
	}
	kind, id := ParseTopicEntity(topic)
	if kind == "" || id == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}
	if !entityKinds[kind] {
		return fmt.Errorf("stream: unknown topic entity type %q", kind)
	}
	return nil
}
