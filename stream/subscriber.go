package stream

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
)

// Subscriber receives events from the topics it is subscribed to.
// Delivery is credit based: every delivered event consumes one credit and
// the broker skips a subscriber with none left. Delivery never blocks a
// run; an event that finds the buffer full is dropped.
type Subscriber struct {
	id string
	ch chan *Event

	credits   atomic.Int64
	unlimited bool

	mu     sync.RWMutex
	topics map[string]struct{}
	filter func(*Event) bool

	closed atomic.Bool
}

// NewSubscriber creates a subscriber with the given buffer size
// and initial credits. A non-positive credit count means unlimited.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{
		id:        id,
		ch:        make(chan *Event, bufferSize),
		topics:    make(map[string]struct{}),
		unlimited: initialCredits <= 0,
	}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel. It is closed when the
// subscriber is removed or the broker shuts down.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// Next blocks until an event arrives, the channel closes or ctx is done.
func (s *Subscriber) Next(ctx context.Context) (*Event, bool) {
	select {
	case evt, ok := <-s.ch:
		return evt, ok
	case <-ctx.Done():
		return nil, false
	}
}

// AddCredits replenishes flow-control credits.
func (s *Subscriber) AddCredits(n int64) {
	s.credits.Add(n)
}

// Credits returns the current credit count.
func (s *Subscriber) Credits() int64 {
	return s.credits.Load()
}

// SetFilter sets an optional event filter predicate.
func (s *Subscriber) SetFilter(fn func(*Event) bool) {
	s.mu.Lock()
	s.filter = fn
	s.mu.Unlock()
}

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// Topics returns the subscribed topic names, sorted.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// send attempts to deliver an event to the subscriber. It returns false if
// the event was dropped (closed, filtered out, no credits or full buffer).
func (s *Subscriber) send(evt *Event) bool {
	// Close takes the write lock, so the channel stays open while held.
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed.Load() {
		return false
	}
	if s.filter != nil && !s.filter(evt) {
		return false
	}

	if !s.unlimited {
		for {
			current := s.credits.Load()
			if current <= 0 {
				return false
			}
			if s.credits.CompareAndSwap(current, current-1) {
				break
			}
		}
	}

	select {
	case s.ch <- evt:
		return true
	default:
		if !s.unlimited {
			s.credits.Add(1)
		}
		return false
	}
}

// Close closes the subscriber channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
