package models

import "time"

// EventName identifies an event on the session or agent bus.
// Names follow the namespace:kebab-case convention (e.g. "llm:chunk").
type EventName string

const (
	// LLM lifecycle events emitted while a run streams.
	EventLLMThinking EventName = "llm:thinking"
	EventLLMChunk    EventName = "llm:chunk"
	EventLLMResponse EventName = "llm:response"
	EventLLMError    EventName = "llm:error"
	EventLLMSwitched EventName = "llm:switched"

	// Tool events. tool:call fires when the model requests a tool,
	// tool:running when execution actually begins post-approval.
	EventToolCall    EventName = "tool:call"
	EventToolRunning EventName = "tool:running"
	EventToolResult  EventName = "tool:result"

	// Run lifecycle.
	EventRunComplete EventName = "run:complete"

	// Approval handshake.
	EventApprovalRequest  EventName = "approval:request"
	EventApprovalResponse EventName = "approval:response"

	// Session lifecycle.
	EventSessionCreated      EventName = "session:created"
	EventSessionReset        EventName = "session:reset"
	EventSessionTitleUpdated EventName = "session:title-updated"

	// MCP connectivity.
	EventMCPServerConnected    EventName = "mcp:server-connected"
	EventMCPServerDisconnected EventName = "mcp:server-disconnected"
	EventMCPServerFailed       EventName = "mcp:server-failed"
	EventMCPServerAdded        EventName = "mcp:server-added"
	EventMCPServerRemoved      EventName = "mcp:server-removed"
	EventMCPToolsChanged       EventName = "mcp:tools-changed"

	// State and context management.
	EventStateChanged      EventName = "state:changed"
	EventStateExported     EventName = "state:exported"
	EventStateReset        EventName = "state:reset"
	EventContextCompressed EventName = "context:compressed"
	EventContextPruned     EventName = "context:pruned"

	// Message queueing while a run is in flight.
	EventMessageQueued   EventName = "message:queued"
	EventMessageDequeued EventName = "message:dequeued"

	// Inputs the engine cannot process (unknown attachment types etc).
	EventInputUnsupported EventName = "input:unsupported"

	// Per-session configuration overrides.
	EventSessionOverrideSet     EventName = "session:override-set"
	EventSessionOverrideCleared EventName = "session:override-cleared"
)

// EventSchemaVersion is bumped when the Event envelope changes shape.
const EventSchemaVersion = 1

// Event is the immutable envelope carried by both bus tiers.
//
// Exactly one payload pointer is set, matching the event name. SessionID
// is empty on the session bus; the agent bus injects it when forwarding.
// Sequence is a per-session monotonic counter assigned at emission.
type Event struct {
	Version   int       `json:"v"`
	Name      EventName `json:"name"`
	Time      time.Time `json:"time"`
	Sequence  uint64    `json:"seq,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`

	Chunk    *ChunkPayload    `json:"chunk,omitempty"`
	Text     *TextPayload     `json:"text,omitempty"`
	Tool     *ToolPayload     `json:"tool,omitempty"`
	Run      *RunPayload      `json:"run,omitempty"`
	Error    *ErrorPayload    `json:"error,omitempty"`
	Approval *ApprovalPayload `json:"approval,omitempty"`
	MCP      *MCPPayload      `json:"mcp,omitempty"`
	Queue    *QueuePayload    `json:"queue,omitempty"`
	Context  *ContextPayload  `json:"context,omitempty"`
	State    *StatePayload    `json:"state,omitempty"`
}

// ChunkType discriminates streamed chunk content.
type ChunkType string

const (
	ChunkText      ChunkType = "text"
	ChunkReasoning ChunkType = "reasoning"
)

// ChunkPayload carries one streamed fragment of model output.
type ChunkPayload struct {
	ChunkType ChunkType `json:"chunkType"`
	Text      string    `json:"text"`
}

// TextPayload carries whole-text events (llm:response, title updates).
// For llm:response, Text is authoritative for the turn and supersedes
// the concatenation of prior chunks.
type TextPayload struct {
	Text string `json:"text"`
}

// ToolPayload carries tool:call, tool:running and tool:result events.
// Result content is the raw provider output; context filtering happens
// before history append, not here.
type ToolPayload struct {
	CallID  string `json:"callId"`
	Name    string `json:"name"`
	Input   string `json:"input,omitempty"`
	Content string `json:"content,omitempty"`
	Success bool   `json:"success"`
}

// FinishReason is the terminal outcome of a run.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishToolCalls     FinishReason = "tool-calls"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content-filter"
	FinishError         FinishReason = "error"
	FinishCancelled     FinishReason = "cancelled"
	FinishMaxSteps      FinishReason = "max-steps"
)

// RunPayload summarizes a completed run. Emitted exactly once per run.
type RunPayload struct {
	RunID        string       `json:"runId"`
	FinishReason FinishReason `json:"finishReason"`
	Steps        int          `json:"steps"`
	Error        string       `json:"error,omitempty"`
	InputTokens  int          `json:"inputTokens,omitempty"`
	OutputTokens int          `json:"outputTokens,omitempty"`
}

// ErrorPayload carries llm:error and input:unsupported events.
type ErrorPayload struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// ApprovalType classifies what kind of decision is being requested.
type ApprovalType string

const (
	ApprovalToolConfirmation    ApprovalType = "tool_confirmation"
	ApprovalCommandConfirmation ApprovalType = "command_confirmation"
	ApprovalElicitation         ApprovalType = "elicitation"
)

// ApprovalStatus is a terminal resolution of an approval request.
type ApprovalStatus string

const (
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalDenied    ApprovalStatus = "denied"
	ApprovalCancelled ApprovalStatus = "cancelled"
)

// ApprovalPayload carries approval:request and approval:response events.
type ApprovalPayload struct {
	ApprovalID     string            `json:"approvalId"`
	Type           ApprovalType      `json:"type"`
	Status         ApprovalStatus    `json:"status,omitempty"`
	TimeoutMillis  int64             `json:"timeoutMs,omitempty"`
	RememberChoice bool              `json:"rememberChoice,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// MCPPayload carries mcp:* connectivity events.
type MCPPayload struct {
	Server    string `json:"server"`
	Error     string `json:"error,omitempty"`
	ToolCount int    `json:"toolCount,omitempty"`
}

// QueuePayload carries message:queued and message:dequeued events.
type QueuePayload struct {
	Position  int  `json:"position,omitempty"`
	Coalesced bool `json:"coalesced,omitempty"`
	Count     int  `json:"count,omitempty"`
}

// ContextPayload carries context:compressed and context:pruned events
// with before/after message counts. Informational only.
type ContextPayload struct {
	Before int `json:"before"`
	After  int `json:"after"`
}

// StatePayload carries state:* and session override events.
type StatePayload struct {
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`
}

// NewEvent builds an event envelope with the current time.
func NewEvent(name EventName) Event {
	return Event{
		Version: EventSchemaVersion,
		Name:    name,
		Time:    time.Now().UTC(),
	}
}
