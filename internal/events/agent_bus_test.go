package events

import (
	"testing"

	"github.com/cadenza-ai/cadenza/pkg/models"
)

func TestAgentBusInjectsSessionID(t *testing.T) {
	agent := NewAgentBus(nil)
	session := NewSessionBus()
	agent.AttachSession("sess-1", session)

	var forwarded []models.Event
	agent.On(models.EventLLMChunk, func(ev models.Event) {
		forwarded = append(forwarded, ev)
	})

	var onSession models.Event
	session.On(models.EventLLMChunk, func(ev models.Event) { onSession = ev })

	session.Emit(chunkEvent("hi"))

	if len(forwarded) != 1 {
		t.Fatalf("expected 1 forwarded event, got %d", len(forwarded))
	}
	if forwarded[0].SessionID != "sess-1" {
		t.Errorf("forwarded SessionID = %q, want %q", forwarded[0].SessionID, "sess-1")
	}
	if onSession.SessionID != "" {
		t.Errorf("session bus event mutated: SessionID = %q, want empty", onSession.SessionID)
	}
}

func TestAgentBusForwardingPreservesOrder(t *testing.T) {
	agent := NewAgentBus(nil)
	session := NewSessionBus()
	agent.AttachSession("sess-1", session)

	var texts []string
	agent.On(models.EventLLMChunk, func(ev models.Event) {
		texts = append(texts, ev.Chunk.Text)
	})

	for _, s := range []string{"a", "b", "c"} {
		session.Emit(chunkEvent(s))
	}

	if len(texts) != 3 || texts[0] != "a" || texts[1] != "b" || texts[2] != "c" {
		t.Errorf("forwarded order = %v", texts)
	}
}

func TestAgentBusDetachStopsForwarding(t *testing.T) {
	agent := NewAgentBus(nil)
	session := NewSessionBus()
	agent.AttachSession("sess-1", session)

	count := 0
	agent.On(Wildcard, func(models.Event) { count++ })

	session.Emit(chunkEvent("a"))
	agent.DetachSession("sess-1")
	session.Emit(chunkEvent("b"))

	if count != 1 {
		t.Errorf("expected 1 forwarded event after detach, got %d", count)
	}

	// Detaching an unknown session must not panic.
	agent.DetachSession("nope")
}

func TestAgentBusDirectEmit(t *testing.T) {
	agent := NewAgentBus(nil)

	var got models.Event
	agent.On(models.EventMCPServerConnected, func(ev models.Event) { got = ev })

	ev := models.NewEvent(models.EventMCPServerConnected)
	ev.MCP = &models.MCPPayload{Server: "fs", ToolCount: 3}
	agent.Emit(ev)

	if got.MCP == nil || got.MCP.Server != "fs" {
		t.Fatalf("direct agent emission not delivered: %+v", got)
	}
	if got.SessionID != "" {
		t.Errorf("agent-scoped event should not carry a session id")
	}
}
