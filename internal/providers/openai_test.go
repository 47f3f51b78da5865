package providers

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cadenza-ai/cadenza/internal/agent"
	"github.com/cadenza-ai/cadenza/pkg/models"
)

func TestNewOpenAIProviderRequiresKey(t *testing.T) {
	if _, err := NewOpenAIProvider(""); err == nil {
		t.Fatal("expected error for missing API key")
	}
	p, err := NewOpenAIProvider("sk-test")
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("Name = %q", p.Name())
	}
	if !p.SupportsTools() {
		t.Error("SupportsTools = false")
	}
}

func TestConvertOpenAIMessages(t *testing.T) {
	messages := []agent.CompletionMessage{
		{Role: "user", Content: "check the weather"},
		{
			Role:    "assistant",
			Content: "on it",
			ToolCalls: []models.ToolCall{
				{ID: "tc1", Name: "weather", Input: json.RawMessage(`{"city":"Oslo"}`)},
			},
		},
		{
			Role: "tool",
			ToolResults: []models.ToolResult{
				{ToolCallID: "tc1", Name: "weather", Content: "rain"},
				{ToolCallID: "tc2", Name: "weather", Content: "sun"},
			},
		},
	}

	out := convertOpenAIMessages(messages, "be brief")

	// System prompt leads; each tool result is its own message.
	if len(out) != 5 {
		t.Fatalf("len = %d, want 5", len(out))
	}
	if out[0].Role != openai.ChatMessageRoleSystem || out[0].Content != "be brief" {
		t.Errorf("leading message = %+v", out[0])
	}
	if out[1].Role != openai.ChatMessageRoleUser {
		t.Errorf("message 1 role = %s", out[1].Role)
	}
	if len(out[2].ToolCalls) != 1 || out[2].ToolCalls[0].Function.Name != "weather" {
		t.Errorf("assistant tool calls = %+v", out[2].ToolCalls)
	}
	if out[3].Role != openai.ChatMessageRoleTool || out[3].ToolCallID != "tc1" {
		t.Errorf("tool message = %+v", out[3])
	}
	if out[4].ToolCallID != "tc2" {
		t.Errorf("second tool message = %+v", out[4])
	}
}

func TestConvertOpenAIMessagesNoSystem(t *testing.T) {
	out := convertOpenAIMessages([]agent.CompletionMessage{{Role: "user", Content: "hi"}}, "")
	if len(out) != 1 || out[0].Role != openai.ChatMessageRoleUser {
		t.Fatalf("out = %+v", out)
	}
}

func TestConvertOpenAITools(t *testing.T) {
	tools := []agent.ToolSpec{
		{
			Name:        "search",
			Description: "web search",
			InputSchema: json.RawMessage(`{"type":"object"}`),
		},
	}
	out := convertOpenAITools(tools)
	if len(out) != 1 {
		t.Fatalf("len = %d", len(out))
	}
	if out[0].Type != openai.ToolTypeFunction || out[0].Function.Name != "search" {
		t.Errorf("tool = %+v", out[0])
	}
}
