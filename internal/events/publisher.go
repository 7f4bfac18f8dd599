// Package events provides event publishing and subscription for thread
// lifecycle notifications.
package events

import (
	"sync"
	"time"
)

// Type categorizes thread lifecycle events.
type Type string

const (
	// TypeThreadCreated fires when a thread is registered, before its
	// channel exists.
	TypeThreadCreated Type = "thread.created"

	// TypeThreadReady fires once setup has finished and relay is
	// enabled.
	TypeThreadReady Type = "thread.ready"

	// TypeThreadClosed fires after a close batch completes.
	TypeThreadClosed Type = "thread.closed"

	// TypeCloseScheduled fires when a delayed close is armed.
	TypeCloseScheduled Type = "thread.close_scheduled"

	// TypeCloseCancelled fires when a pending close is cancelled.
	TypeCloseCancelled Type = "thread.close_cancelled"
)

// Event describes one thread lifecycle transition.
type Event struct {
	Type        Type
	ThreadID    int64
	ChannelID   int64
	RecipientID int64
	Time        time.Time
}

// Handler is a callback function invoked when an event matches a
// subscription.
type Handler func(event Event)

// Filter defines criteria for matching events.
type Filter struct {
	// Types filters by event type (nil = all types).
	Types []Type

	// ThreadID filters to a specific thread (0 = all threads).
	ThreadID int64
}

// Matches returns true if the event matches the filter criteria.
func (f *Filter) Matches(event Event) bool {
	if len(f.Types) > 0 {
		matched := false
		for _, t := range f.Types {
			if event.Type == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if f.ThreadID != 0 && event.ThreadID != f.ThreadID {
		return false
	}
	return true
}

// subscription represents an active event subscription.
type subscription struct {
	id      string
	filter  Filter
	handler Handler
}

// Publisher defines the interface for event publishing and subscription.
type Publisher interface {
	// Publish sends an event to all matching subscribers.
	Publish(event Event)

	// Subscribe registers a handler to receive events matching the
	// filter.
	Subscribe(id string, filter Filter, handler Handler)

	// Unsubscribe removes a subscription by ID.
	Unsubscribe(id string)
}

// InMemoryPublisher implements Publisher using in-process pub/sub.
type InMemoryPublisher struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
}

// NewInMemoryPublisher creates a new in-memory event publisher.
func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{
		subscriptions: make(map[string]*subscription),
	}
}

// Publish sends an event to all matching subscribers. Handlers run on
// the caller's goroutine; they must not block.
func (p *InMemoryPublisher) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	p.mu.RLock()
	var handlers []Handler
	for _, sub := range p.subscriptions {
		if sub.filter.Matches(event) {
			handlers = append(handlers, sub.handler)
		}
	}
	p.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Subscribe registers a handler under id, replacing any previous
// subscription with the same id.
func (p *InMemoryPublisher) Subscribe(id string, filter Filter, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions[id] = &subscription{id: id, filter: filter, handler: handler}
}

// Unsubscribe removes a subscription by ID.
func (p *InMemoryPublisher) Unsubscribe(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subscriptions, id)
}

// Discard is a Publisher that drops all events.
type Discard struct{}

func (Discard) Publish(Event)                     {}
func (Discard) Subscribe(string, Filter, Handler) {}
func (Discard) Unsubscribe(string)                {}
