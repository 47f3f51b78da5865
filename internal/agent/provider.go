// Package agent implements the session/run orchestration engine: the
// run state machine driving LLM turns through streaming and tool
// execution, the approval gate, per-session message queueing, result
// sanitization and session lifecycle management.
package agent

import (
	"context"
	"encoding/json"

	"github.com/cadenza-ai/cadenza/internal/mcp"
	"github.com/cadenza-ai/cadenza/pkg/models"
)

// LLMProvider is the uniform capability the orchestrator consumes: a
// session service that accepts a turn and streams step-level outcomes.
//
// Implementations must be safe for concurrent use; each Complete call
// owns an independent stream and must honor context cancellation.
type LLMProvider interface {
	// Complete sends a turn and returns a channel of streamed chunks.
	// The channel closes when the step finishes or fails.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the stable provider identifier ("anthropic", ...).
	Name() string

	// Models returns available model metadata.
	Models() []Model

	// SupportsTools reports whether the provider can do tool calling.
	SupportsTools() bool
}

// CompletionRequest carries one LLM step: history, system prompt, tool
// definitions and generation limits.
type CompletionRequest struct {
	Model     string              `json:"model"`
	System    string              `json:"system,omitempty"`
	Messages  []CompletionMessage `json:"messages"`
	Tools     []ToolSpec          `json:"tools,omitempty"`
	MaxTokens int                 `json:"max_tokens,omitempty"`

	// EnableThinking turns on extended reasoning for providers that
	// support it; reasoning streams as separate chunks.
	EnableThinking       bool `json:"enable_thinking,omitempty"`
	ThinkingBudgetTokens int  `json:"thinking_budget_tokens,omitempty"`
}

// CompletionMessage is one entry of conversation history.
// Role is "user", "assistant" or "tool".
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// ToolSpec describes one callable tool to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// CompletionChunk is one streamed fragment of a step. Exactly one of
// the content fields is meaningful per chunk; Done closes the step and
// carries the finish reason plus token usage.
type CompletionChunk struct {
	Text string `json:"text,omitempty"`

	// Reasoning streams extended-thinking output separately from text.
	Reasoning      string `json:"reasoning,omitempty"`
	ReasoningStart bool   `json:"reasoning_start,omitempty"`
	ReasoningEnd   bool   `json:"reasoning_end,omitempty"`

	// ToolCall is a complete tool invocation request.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	Done         bool                `json:"done,omitempty"`
	FinishReason models.FinishReason `json:"finish_reason,omitempty"`
	InputTokens  int                 `json:"input_tokens,omitempty"`
	OutputTokens int                 `json:"output_tokens,omitempty"`

	Error error `json:"-"`
}

// Model describes an available LLM model.
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ContextSize    int    `json:"context_size"`
	SupportsVision bool   `json:"supports_vision"`
}

// ToolExecutor is the slice of the connection registry the runner
// needs. *mcp.Registry satisfies it.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, toolName string, args json.RawMessage) (*mcp.ToolCallResult, error)
}
