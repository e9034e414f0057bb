package events

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultRingSize is the ring buffer capacity when none is configured.
const DefaultRingSize = 256

// Bus is the in-process event fan-out. One instance per process.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscription
	nextSubID   int

	// Ring buffer of recent events for introspection. Rotation happens
	// under ringMu; dispatch runs outside all locks.
	ringMu   sync.Mutex
	ring     []Event
	ringHead int
	ringLen  int
}

type subscription struct {
	id      int
	handler Handler
}

// NewBus creates a Bus with the given ring buffer capacity.
// Non-positive sizes fall back to DefaultRingSize.
func NewBus(ringSize int) *Bus {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	return &Bus{
		subscribers: make(map[string][]subscription),
		ring:        make([]Event, ringSize),
	}
}

// Subscribe registers a handler for the given event type (or Wildcard).
// It returns an unsubscribe function.
func (b *Bus) Subscribe(eventType string, h Handler) func() {
	b.mu.Lock()
	b.nextSubID++
	id := b.nextSubID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[eventType]
		for i, s := range subs {
			if s.id == id {
				b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Publish records the event in the ring buffer and delivers it to typed
// subscribers, then wildcard subscribers, in registration order.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.ringMu.Lock()
	b.ring[(b.ringHead+b.ringLen)%len(b.ring)] = evt
	if b.ringLen < len(b.ring) {
		b.ringLen++
	} else {
		b.ringHead = (b.ringHead + 1) % len(b.ring)
	}
	b.ringMu.Unlock()

	// Snapshot handlers under the lock, dispatch outside it so a slow
	// or re-entrant subscriber cannot deadlock the bus.
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers[evt.Type])+len(b.subscribers[Wildcard]))
	for _, s := range b.subscribers[evt.Type] {
		handlers = append(handlers, s.handler)
	}
	for _, s := range b.subscribers[Wildcard] {
		handlers = append(handlers, s.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, evt)
	}
}

// dispatch invokes one handler, containing panics so a bad subscriber
// does not block siblings.
func (b *Bus) dispatch(h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event subscriber panicked",
				"event_type", evt.Type, "panic", r)
		}
	}()
	h(evt)
}

// Recent returns up to n most recent events, oldest first.
func (b *Bus) Recent(n int) []Event {
	b.ringMu.Lock()
	defer b.ringMu.Unlock()

	if n <= 0 || n > b.ringLen {
		n = b.ringLen
	}
	out := make([]Event, 0, n)
	start := b.ringLen - n
	for i := start; i < b.ringLen; i++ {
		out = append(out, b.ring[(b.ringHead+i)%len(b.ring)])
	}
	return out
}
