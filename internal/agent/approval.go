package agent

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cadenza-ai/cadenza/internal/events"
	"github.com/cadenza-ai/cadenza/internal/observability"
	"github.com/cadenza-ai/cadenza/pkg/models"
)

// DefaultApprovalTimeout bounds how long a gated action waits for an
// external decision before resolving as cancelled.
const DefaultApprovalTimeout = 2 * time.Minute

// Resolution is the terminal outcome delivered to an approval waiter.
type Resolution struct {
	Status models.ApprovalStatus
	// Data carries response extras (elicitation answers etc).
	Data map[string]string
	// RememberChoice asks the approval policy to persist the decision
	// for subsequent calls in the session. The gate only forwards it.
	RememberChoice bool
}

type waiter struct {
	ch    chan Resolution
	timer *time.Timer
}

// Gate synchronizes pending tool/command actions with an external
// decision-maker. Each request registers an independent waiter keyed by
// approval id with its own timeout; resolution is exactly-once, and
// late or duplicate resolutions are logged no-ops.
type Gate struct {
	bus     *events.AgentBus
	metrics *observability.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]*waiter
}

// NewGate creates an approval gate emitting on the given bus.
// Bus and metrics may be nil.
func NewGate(bus *events.AgentBus, metrics *observability.Metrics, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		bus:     bus,
		metrics: metrics,
		logger:  logger.With("component", "approval_gate"),
		pending: make(map[string]*waiter),
	}
}

// RequestApproval emits approval:request and registers a waiter. The
// returned channel delivers exactly one Resolution: the explicit
// response, or cancelled when the timeout elapses first. A zero timeout
// means DefaultApprovalTimeout.
func (g *Gate) RequestApproval(typ models.ApprovalType, metadata map[string]string, sessionID string, timeout time.Duration) (string, <-chan Resolution) {
	if timeout <= 0 {
		timeout = DefaultApprovalTimeout
	}

	id := uuid.NewString()
	w := &waiter{ch: make(chan Resolution, 1)}
	w.timer = time.AfterFunc(timeout, func() {
		g.expire(id)
	})

	g.mu.Lock()
	g.pending[id] = w
	g.mu.Unlock()

	if g.bus != nil {
		ev := models.NewEvent(models.EventApprovalRequest)
		ev.SessionID = sessionID
		ev.Approval = &models.ApprovalPayload{
			ApprovalID:    id,
			Type:          typ,
			TimeoutMillis: timeout.Milliseconds(),
			Metadata:      metadata,
		}
		g.bus.Emit(ev)
	}

	g.logger.Debug("approval requested", "approval_id", id, "type", typ, "timeout", timeout)
	return id, w.ch
}

// Resolve fulfills a pending waiter. Unknown ids (late responses,
// duplicates) are logged and ignored.
func (g *Gate) Resolve(approvalID string, status models.ApprovalStatus, data map[string]string, rememberChoice bool) {
	g.mu.Lock()
	w, ok := g.pending[approvalID]
	if ok {
		delete(g.pending, approvalID)
	}
	g.mu.Unlock()

	if !ok {
		g.logger.Warn("resolution for unknown approval ignored", "approval_id", approvalID, "status", status)
		return
	}

	w.timer.Stop()
	w.ch <- Resolution{Status: status, Data: data, RememberChoice: rememberChoice}

	if g.bus != nil {
		ev := models.NewEvent(models.EventApprovalResponse)
		ev.Approval = &models.ApprovalPayload{
			ApprovalID:     approvalID,
			Status:         status,
			RememberChoice: rememberChoice,
		}
		g.bus.Emit(ev)
	}
	if g.metrics != nil {
		g.metrics.RecordApproval(string(status))
	}
	g.logger.Debug("approval resolved", "approval_id", approvalID, "status", status)
}

// expire self-resolves a waiter as cancelled when its timer fires.
func (g *Gate) expire(approvalID string) {
	g.mu.Lock()
	w, ok := g.pending[approvalID]
	if ok {
		delete(g.pending, approvalID)
	}
	g.mu.Unlock()

	if !ok {
		return
	}

	w.ch <- Resolution{Status: models.ApprovalCancelled}
	if g.metrics != nil {
		g.metrics.RecordApproval(string(models.ApprovalCancelled))
	}
	g.logger.Info("approval timed out", "approval_id", approvalID)
}

// PendingCount reports how many waiters are outstanding.
func (g *Gate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
