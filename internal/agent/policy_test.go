package agent

import (
	"testing"

	"github.com/cadenza-ai/cadenza/pkg/models"
)

func TestListPolicyGating(t *testing.T) {
	p := &ListPolicy{
		Allowed:          map[string]bool{"read_file": true},
		Denied:           map[string]bool{"delete_file": true},
		RequireByDefault: true,
	}

	tests := []struct {
		tool string
		want bool
	}{
		{"read_file", false},
		{"delete_file", true},
		{"unlisted_tool", true},
	}
	for _, tc := range tests {
		call := &models.ToolCall{Name: tc.tool}
		if got := p.RequiresApproval("s1", call); got != tc.want {
			t.Errorf("RequiresApproval(%s) = %v, want %v", tc.tool, got, tc.want)
		}
	}
}

func TestListPolicyRememberedApprovalSkipsGate(t *testing.T) {
	p := &ListPolicy{RequireByDefault: true}
	call := &models.ToolCall{Name: "search"}

	if !p.RequiresApproval("s1", call) {
		t.Fatal("unremembered call should gate")
	}
	p.Remember("s1", call, models.ApprovalApproved)
	if p.RequiresApproval("s1", call) {
		t.Error("remembered approval should skip the gate")
	}

	// Scoped per session and per tool.
	if !p.RequiresApproval("s2", call) {
		t.Error("memory leaked across sessions")
	}
	if !p.RequiresApproval("s1", &models.ToolCall{Name: "other"}) {
		t.Error("memory leaked across tools")
	}
}

func TestListPolicyRememberedDenialStillGates(t *testing.T) {
	p := &ListPolicy{RequireByDefault: true}
	call := &models.ToolCall{Name: "search"}
	p.Remember("s1", call, models.ApprovalDenied)
	if !p.RequiresApproval("s1", call) {
		t.Error("remembered denial must keep gating")
	}
}

func TestListPolicyDeniedOverridesMemory(t *testing.T) {
	p := &ListPolicy{
		Denied:           map[string]bool{"rm": true},
		RequireByDefault: false,
	}
	call := &models.ToolCall{Name: "rm"}
	p.Remember("s1", call, models.ApprovalApproved)
	if !p.RequiresApproval("s1", call) {
		t.Error("denied list must override remembered approval")
	}
}
