package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cadenza-ai/cadenza/internal/events"
	"github.com/cadenza-ai/cadenza/internal/mcp"
	"github.com/cadenza-ai/cadenza/pkg/models"
)

// ToolSource supplies the current tool catalog for a run.
// *mcp.Registry satisfies it.
type ToolSource interface {
	AllTools(ctx context.Context) map[string]*mcp.ToolDefinition
}

// Session is one live conversation: its own event bus, history, queue
// of messages that arrived mid-run, and at most one active run.
type Session struct {
	ID        string
	Bus       *events.SessionBus
	CreatedAt time.Time

	queue *messageQueue

	mu           sync.Mutex
	title        string
	lastActivity time.Time
	history      []CompletionMessage
	running      bool
	cancelRun    context.CancelFunc
}

// Title returns the session title.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// Snapshot returns the session's summary view.
func (s *Session) Snapshot() models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.Session{
		ID:           s.ID,
		Title:        s.title,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.lastActivity,
		MessageCount: len(s.history),
	}
}

// Running reports whether a run is in flight.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// QueuedMessages reports how many messages await the next run.
func (s *Session) QueuedMessages() int { return s.queue.Len() }

// Manager owns session lifecycle and drives runs: one active run per
// session, messages arriving mid-run queued and coalesced into the
// next turn.
type Manager struct {
	agentBus *events.AgentBus
	runner   *Runner
	tools    ToolSource
	logger   *slog.Logger

	queueLimit int

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager. Tools may be nil when no
// registry is wired; queueLimit <= 0 uses DefaultQueueLimit.
func NewManager(agentBus *events.AgentBus, runner *Runner, tools ToolSource, queueLimit int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		agentBus:   agentBus,
		runner:     runner,
		tools:      tools,
		logger:     logger.With("component", "session_manager"),
		queueLimit: queueLimit,
		sessions:   make(map[string]*Session),
	}
}

// CreateSession builds a session with its own bus, attaches the bus to
// the agent bus for cross-session forwarding, and emits session:created.
func (m *Manager) CreateSession() *Session {
	bus := events.NewSessionBus()
	s := &Session{
		ID:           uuid.NewString(),
		Bus:          bus,
		CreatedAt:    time.Now().UTC(),
		lastActivity: time.Now().UTC(),
		queue:        newMessageQueue(bus, m.queueLimit),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	if m.agentBus != nil {
		m.agentBus.AttachSession(s.ID, bus)
	}

	bus.Emit(models.NewEvent(models.EventSessionCreated))
	m.logger.Info("session created", "session_id", s.ID)
	return s
}

// Session looks up a session by id.
func (m *Manager) Session(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Sessions returns summary views of all sessions.
func (m *Manager) Sessions() []models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// SetTitle updates the session title and emits session:title-updated.
func (m *Manager) SetTitle(sessionID, title string) error {
	s, ok := m.Session(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	s.mu.Lock()
	s.title = title
	s.mu.Unlock()

	ev := models.NewEvent(models.EventSessionTitleUpdated)
	ev.Text = &models.TextPayload{Text: title}
	s.Bus.Emit(ev)
	return nil
}

// ResetSession clears the session's history and queue, emitting
// session:reset. A running session cannot be reset.
func (m *Manager) ResetSession(sessionID string) error {
	s, ok := m.Session(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrRunActive
	}
	s.history = nil
	s.lastActivity = time.Now().UTC()
	s.mu.Unlock()

	for {
		if _, ok := s.queue.Dequeue(); !ok {
			break
		}
	}

	s.Bus.Emit(models.NewEvent(models.EventSessionReset))
	m.logger.Info("session reset", "session_id", sessionID)
	return nil
}

// RemoveSession detaches the session from the agent bus and drops it.
func (m *Manager) RemoveSession(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	cancel := s.cancelRun
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if m.agentBus != nil {
		m.agentBus.DetachSession(sessionID)
	}
	m.logger.Info("session removed", "session_id", sessionID)
	return nil
}

// SendMessage submits a user turn. If no run is active it starts one
// and blocks until the run completes, then drains any messages queued
// meanwhile into follow-up runs. If a run is active the message queues
// for the next turn and SendMessage returns immediately.
func (m *Manager) SendMessage(ctx context.Context, sessionID, content string) (*RunResult, error) {
	s, ok := m.Session(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, s.queue.Enqueue(content)
	}
	s.running = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.running = false
		s.cancelRun = nil
		s.lastActivity = time.Now().UTC()
		s.mu.Unlock()
	}()

	result := m.runTurn(runCtx, s, content)

	// Turns that queued while this run was streaming coalesce into
	// follow-up runs on the same call.
	for result.FinishReason != models.FinishCancelled && result.Err == nil {
		next, ok := s.queue.Dequeue()
		if !ok {
			break
		}
		result = m.runTurn(runCtx, s, next)
	}

	return result, nil
}

// CancelRun requests cooperative cancellation of the active run. The
// run finishes with reason cancelled; results arriving afterwards are
// discarded.
func (m *Manager) CancelRun(sessionID string) error {
	s, ok := m.Session(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	cancel := s.cancelRun
	s.mu.Unlock()

	if cancel == nil {
		return ErrNoActiveRun
	}
	cancel()
	return nil
}

// runTurn appends the user message and drives one run, persisting the
// run's resulting history back onto the session.
func (m *Manager) runTurn(ctx context.Context, s *Session, content string) *RunResult {
	s.mu.Lock()
	history := append(append([]CompletionMessage(nil), s.history...), CompletionMessage{Role: "user", Content: content})
	s.mu.Unlock()

	result := m.runner.Run(ctx, s.Bus, s.ID, history, m.toolSpecs(ctx))

	// A cancelled run's partial history is discarded so the session
	// state matches what the user last confirmed.
	if result.FinishReason != models.FinishCancelled {
		s.mu.Lock()
		s.history = result.History
		s.lastActivity = time.Now().UTC()
		s.mu.Unlock()
	}
	return result
}

// toolSpecs converts the registry catalog into provider tool specs.
func (m *Manager) toolSpecs(ctx context.Context) []ToolSpec {
	if m.tools == nil {
		return nil
	}
	catalog := m.tools.AllTools(ctx)
	specs := make([]ToolSpec, 0, len(catalog))
	for _, def := range catalog {
		specs = append(specs, ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}
	return specs
}
