package agent

import (
	"sync"

	"github.com/cadenza-ai/cadenza/pkg/models"
)

// ApprovalPolicy decides which tool calls must pass the approval gate.
// The engine defines the suspend/resolve protocol; the gating decision
// itself is a collaborator concern.
type ApprovalPolicy interface {
	// RequiresApproval reports whether the call needs confirmation.
	RequiresApproval(sessionID string, call *models.ToolCall) bool

	// Remember records a resolution flagged with rememberChoice so
	// subsequent identical calls in the session can skip the gate.
	Remember(sessionID string, call *models.ToolCall, status models.ApprovalStatus)
}

// AllowAllPolicy never gates anything.
type AllowAllPolicy struct{}

func (AllowAllPolicy) RequiresApproval(string, *models.ToolCall) bool { return false }

func (AllowAllPolicy) Remember(string, *models.ToolCall, models.ApprovalStatus) {}

// ListPolicy gates by tool name: denied names always require approval,
// allowed names never do, everything else follows RequireByDefault.
// Remembered approvals are scoped per session and tool name.
type ListPolicy struct {
	Allowed          map[string]bool
	Denied           map[string]bool
	RequireByDefault bool

	mu         sync.Mutex
	remembered map[string]models.ApprovalStatus
}

func (p *ListPolicy) RequiresApproval(sessionID string, call *models.ToolCall) bool {
	if p.Denied[call.Name] {
		return true
	}
	if p.Allowed[call.Name] {
		return false
	}

	p.mu.Lock()
	status, ok := p.remembered[sessionID+"\x00"+call.Name]
	p.mu.Unlock()
	if ok && status == models.ApprovalApproved {
		return false
	}
	return p.RequireByDefault
}

func (p *ListPolicy) Remember(sessionID string, call *models.ToolCall, status models.ApprovalStatus) {
	p.mu.Lock()
	if p.remembered == nil {
		p.remembered = make(map[string]models.ApprovalStatus)
	}
	p.remembered[sessionID+"\x00"+call.Name] = status
	p.mu.Unlock()
}
