// Package events implements the two-tier event bus: a per-session
// synchronous pub/sub and a process-wide agent bus that forwards session
// events with the session id injected, plus the static visibility tiers
// transport adapters filter by.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/cadenza-ai/cadenza/pkg/models"
)

// Wildcard subscribes a handler to every event on a bus.
const Wildcard models.EventName = "*"

// Handler receives an event during synchronous dispatch. Handlers must
// not block; long work belongs on the handler's own goroutine.
type Handler func(models.Event)

type subscription struct {
	id      uint64
	handler Handler
}

// SessionBus is a synchronous-dispatch pub/sub scoped to one session.
//
// Emit invokes all handlers registered for the event's name, then all
// wildcard handlers, in registration order, and returns when the last
// handler returns. There is no buffering or replay: a handler registered
// after an emission never sees the past event. The handler list is
// snapshotted before dispatch, so handlers may subscribe, unsubscribe
// or emit re-entrantly without corrupting iteration.
type SessionBus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[models.EventName][]subscription
	seq      atomic.Uint64
}

// NewSessionBus creates an empty bus.
func NewSessionBus() *SessionBus {
	return &SessionBus{handlers: make(map[models.EventName][]subscription)}
}

// On registers a handler for an event name (or Wildcard) and returns a
// function that removes it. Unsubscribing twice is a no-op.
func (b *SessionBus) On(name models.EventName, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[name] = append(b.handlers[name], subscription{id: id, handler: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[name]
		for i, s := range subs {
			if s.id == id {
				b.handlers[name] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Emit assigns the event's sequence number and dispatches it
// synchronously. Handlers run in registration order, name-specific
// handlers before wildcard handlers.
func (b *SessionBus) Emit(ev models.Event) {
	ev.Sequence = b.seq.Add(1)

	b.mu.Lock()
	named := b.handlers[ev.Name]
	wild := b.handlers[Wildcard]
	snapshot := make([]subscription, 0, len(named)+len(wild))
	snapshot = append(snapshot, named...)
	snapshot = append(snapshot, wild...)
	b.mu.Unlock()

	for _, s := range snapshot {
		s.handler(ev)
	}
}
