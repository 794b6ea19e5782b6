// Package bus is the in-process publish/subscribe channel the engine
// components communicate over. The engine has no dependency on any
// global scope: components receive events through subscriptions and emit
// results the same way, which keeps them unit-testable in isolation.
package bus

import (
	"strings"
	"sync"
	"time"
)

// Bus fans events out to subscribers by namespace prefix.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]subscriber
}

type subscriber struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]subscriber)}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
// Delivery is non-blocking: a subscriber that cannot keep up loses events
// rather than stalling the publisher.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// Emit is shorthand for publishing a kind/payload pair stamped with the
// current time.
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// Subscribe registers interest in events whose Kind starts with prefix.
// bufSize bounds the subscriber's channel. The returned func removes the
// subscription; the channel is not closed, pending events may still be
// drained.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
