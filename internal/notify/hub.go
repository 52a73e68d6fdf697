// Package notify implements the live-update fan-out: a topic-keyed
// broadcast hub with cancellable subscriptions and non-blocking,
// best-effort publishing. There is no queuing or replay; subscribers
// that connect after an event must read current state elsewhere.
package notify

import (
	"sync"
	"time"
)

// EventKind distinguishes status changes from log lines.
type EventKind string

const (
	KindStatus EventKind = "status"
	KindLog    EventKind = "log"
)

// Event is one notification delivered to subscribers.
type Event struct {
	Kind      EventKind
	PackageID string
	BuildID   string
	Status    string // set for KindStatus
	Level     string // set for KindLog
	Message   string
	Timestamp time.Time
}

// TopicAll receives every event, regardless of package.
const TopicAll = "builds"

// TopicPackage returns the topic carrying one package's events.
func TopicPackage(packageID string) string {
	return "package/" + packageID
}

// Subscription is a live feed of events for one topic. Events arrive on
// C in publish order; the feed drops events when the subscriber falls
// behind. Cancel must be called when done.
type Subscription struct {
	C     <-chan Event
	c     chan Event
	hub   *Hub
	topic string
	once  sync.Once
}

// Cancel detaches the subscription and closes C.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.remove(s.topic, s)
		close(s.c)
	})
}

// Hub fans events out to subscribers, one subscriber set per topic.
type Hub struct {
	mu     sync.Mutex
	topics map[string][]*Subscription
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string][]*Subscription)}
}

// Subscribe registers a subscriber for the given topic. The returned
// subscription buffers up to buffer events; a full buffer drops the
// oldest guarantee-free (per-subscriber in-order delivery only for the
// events that do arrive).
func (h *Hub) Subscribe(topic string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	c := make(chan Event, buffer)
	sub := &Subscription{C: c, c: c, hub: h, topic: topic}

	h.mu.Lock()
	h.topics[topic] = append(h.topics[topic], sub)
	h.mu.Unlock()
	return sub
}

// Publish delivers the event to every current subscriber of the topic.
// A slow or disconnected subscriber never blocks the publisher: when a
// subscription's buffer is full the event is dropped for that subscriber.
func (h *Hub) Publish(topic string, event Event) {
	// Sends happen under the lock so Cancel cannot close a channel
	// between the snapshot and the send. They are non-blocking, so the
	// lock is never held for longer than a buffered send.
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.topics[topic] {
		select {
		case sub.c <- event:
		default:
			// subscriber is behind; drop
		}
	}
}

// Subscribers returns the current subscriber count for a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

func (h *Hub) remove(topic string, sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.topics[topic]
	for i, s := range subs {
		if s == sub {
			h.topics[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.topics[topic]) == 0 {
		delete(h.topics, topic)
	}
}
