package events

import (
	"log/slog"
	"sync"

	"github.com/cadenza-ai/cadenza/pkg/models"
)

// AgentBus is the process-wide bus for one agent instance.
//
// It carries agent-scoped events emitted directly (MCP connectivity,
// state changes, approvals) and re-emits every event from attached
// session buses with the session's id injected into the envelope.
// Construct one per agent; never share across agents.
type AgentBus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[models.EventName][]subscription
	detach   map[string]func()
	logger   *slog.Logger
}

// NewAgentBus creates an empty agent bus.
func NewAgentBus(logger *slog.Logger) *AgentBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentBus{
		handlers: make(map[models.EventName][]subscription),
		detach:   make(map[string]func()),
		logger:   logger.With("component", "agent_bus"),
	}
}

// On registers a handler for an event name (or Wildcard) and returns an
// unsubscribe function. Handlers may mutate subscriptions or emit from
// within dispatch.
func (b *AgentBus) On(name models.EventName, h Handler) func() {
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

// Emit dispatches an agent-scoped event synchronously. The handler list
// is snapshotted before iteration.
func (b *AgentBus) Emit(ev models.Event) {
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

// AttachSession subscribes the agent bus to a session bus, forwarding
// every event with the session id set on a copy of the envelope. The
// session bus never sets SessionID itself. Attaching an already attached
// session replaces the previous forwarder.
func (b *AgentBus) AttachSession(sessionID string, sb *SessionBus) {
	unsub := sb.On(Wildcard, func(ev models.Event) {
		ev.SessionID = sessionID
		b.Emit(ev)
	})

	b.mu.Lock()
	if prev, ok := b.detach[sessionID]; ok {
		b.logger.Warn("session already attached, replacing forwarder", "session_id", sessionID)
		defer prev()
	}
	b.detach[sessionID] = unsub
	b.mu.Unlock()
}

// DetachSession stops forwarding for a session. Unknown ids are a no-op.
func (b *AgentBus) DetachSession(sessionID string) {
	b.mu.Lock()
	unsub, ok := b.detach[sessionID]
	delete(b.detach, sessionID)
	b.mu.Unlock()
	if ok {
		unsub()
	}
}
