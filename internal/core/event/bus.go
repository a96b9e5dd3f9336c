// Package event provides the in-process bus record mutations are
// published on. The realtime transport subscribes to stream changes to
// connected clients.
package event

import (
	"sync"
)

// Record mutation kinds
const (
	TypeCreate = "create"
	TypeUpdate = "update"
	TypeRemove = "remove"
)

// Event describes a single record mutation
type Event struct {
	Collection string         `json:"collection"`
	Type       string         `json:"type"`
	Record     map[string]any `json:"record"`
}

// Bus is a fan-out publisher. Publishing never blocks: subscribers that
// fall behind drop events rather than stalling the request path.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty event bus
func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]chan Event),
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// removes the subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribers returns the current subscriber count
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
