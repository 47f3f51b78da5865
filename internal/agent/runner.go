package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cadenza-ai/cadenza/internal/events"
	"github.com/cadenza-ai/cadenza/internal/observability"
	"github.com/cadenza-ai/cadenza/pkg/models"
)

// DefaultMaxSteps bounds LLM round trips per run.
const DefaultMaxSteps = 8

// RunnerConfig carries the orchestrator's tunables.
type RunnerConfig struct {
	Model           string
	System          string
	MaxTokens       int
	MaxSteps        int
	ApprovalTimeout time.Duration
	EnableThinking  bool
}

// Runner drives one user turn through potentially many LLM and tool
// round trips, emitting the session's event sequence and terminating
// with exactly one run:complete.
type Runner struct {
	provider  LLMProvider
	executor  ToolExecutor
	gate      *Gate
	policy    ApprovalPolicy
	sanitizer *Sanitizer
	compactor Compactor
	metrics   *observability.Metrics
	logger    *slog.Logger
	cfg       RunnerConfig
}

// NewRunner wires an orchestrator. Executor, gate, metrics and
// compactor may be nil; a nil policy gates nothing.
func NewRunner(provider LLMProvider, executor ToolExecutor, gate *Gate, policy ApprovalPolicy, cfg RunnerConfig, metrics *observability.Metrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == nil {
		policy = AllowAllPolicy{}
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	return &Runner{
		provider:  provider,
		executor:  executor,
		gate:      gate,
		policy:    policy,
		sanitizer: &Sanitizer{},
		compactor: &WindowCompactor{},
		metrics:   metrics,
		logger:    logger.With("component", "runner"),
		cfg:       cfg,
	}
}

// SetCompactor replaces the history compactor. Nil disables compaction.
func (r *Runner) SetCompactor(c Compactor) { r.compactor = c }

// RunResult summarizes one completed run.
type RunResult struct {
	RunID        string
	FinishReason models.FinishReason
	Text         string
	Steps        int
	History      []CompletionMessage
	Err          error
}

// runState tracks one in-flight run.
type runState struct {
	runID     string
	sessionID string
	bus       *events.SessionBus
	history   []CompletionMessage
	steps     int
	started   time.Time
	completed bool

	inputTokens  int
	outputTokens int
}

// Run executes one turn. The supplied history must already end with the
// user's message. Exactly one run:complete is emitted on the session
// bus on every path, including error and cancellation.
func (r *Runner) Run(ctx context.Context, bus *events.SessionBus, sessionID string, history []CompletionMessage, tools []ToolSpec) *RunResult {
	st := &runState{
		runID:     uuid.NewString(),
		sessionID: sessionID,
		bus:       bus,
		history:   history,
		started:   time.Now(),
	}

	if r.provider == nil {
		return r.complete(st, models.FinishError, "", ErrNoProvider)
	}

	for {
		if ctx.Err() != nil {
			return r.complete(st, models.FinishCancelled, "", nil)
		}
		if st.steps >= r.cfg.MaxSteps {
			return r.complete(st, models.FinishMaxSteps, "", nil)
		}

		st.history = compactHistory(st.bus, r.compactor, st.history)

		r.emit(st, models.Event{Name: models.EventLLMThinking})
		st.steps++

		step, err := r.streamStep(ctx, st, tools)
		if ctx.Err() != nil {
			// Errors surfaced by a cancelled stream are cancellation.
			return r.complete(st, models.FinishCancelled, "", nil)
		}
		if err != nil {
			r.emitLLMError(st, err)
			return r.complete(st, models.FinishError, "", err)
		}

		if len(step.toolCalls) == 0 {
			st.history = append(st.history, CompletionMessage{Role: "assistant", Content: step.text})

			ev := models.NewEvent(models.EventLLMResponse)
			ev.Text = &models.TextPayload{Text: step.text}
			r.emit(st, ev)

			reason := step.finishReason
			if reason == "" {
				reason = models.FinishStop
			}
			return r.complete(st, reason, step.text, nil)
		}

		st.history = append(st.history, CompletionMessage{
			Role:      "assistant",
			Content:   step.text,
			ToolCalls: step.toolCalls,
		})

		results, err := r.runTools(ctx, st, step.toolCalls)
		if err != nil {
			// Only cancellation surfaces here; tool failures become
			// failed results and the loop continues.
			return r.complete(st, models.FinishCancelled, "", nil)
		}
		st.history = append(st.history, CompletionMessage{Role: "tool", ToolResults: results})
	}
}

// stepOutcome is what one streamed LLM call produced.
type stepOutcome struct {
	text         string
	toolCalls    []models.ToolCall
	finishReason models.FinishReason
}

// streamStep performs one provider call, forwarding chunks to the bus
// in arrival order and collecting any tool calls.
func (r *Runner) streamStep(ctx context.Context, st *runState, tools []ToolSpec) (*stepOutcome, error) {
	req := &CompletionRequest{
		Model:          r.cfg.Model,
		System:         r.cfg.System,
		Messages:       st.history,
		MaxTokens:      r.cfg.MaxTokens,
		EnableThinking: r.cfg.EnableThinking,
	}
	if r.provider.SupportsTools() {
		req.Tools = tools
	}

	chunks, err := r.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	out := &stepOutcome{}
	var text strings.Builder
	var streamErr error

	// Drain the channel fully even after cancellation or error so the
	// producer goroutine can exit; suppress emissions once cancelled.
	for chunk := range chunks {
		cancelled := ctx.Err() != nil

		switch {
		case chunk.Error != nil:
			if streamErr == nil {
				streamErr = chunk.Error
			}

		case chunk.Text != "":
			text.WriteString(chunk.Text)
			if !cancelled {
				ev := models.NewEvent(models.EventLLMChunk)
				ev.Chunk = &models.ChunkPayload{ChunkType: models.ChunkText, Text: chunk.Text}
				r.emit(st, ev)
			}

		case chunk.Reasoning != "":
			if !cancelled {
				ev := models.NewEvent(models.EventLLMChunk)
				ev.Chunk = &models.ChunkPayload{ChunkType: models.ChunkReasoning, Text: chunk.Reasoning}
				r.emit(st, ev)
			}

		case chunk.ToolCall != nil:
			out.toolCalls = append(out.toolCalls, *chunk.ToolCall)
			if !cancelled {
				ev := models.NewEvent(models.EventToolCall)
				ev.Tool = &models.ToolPayload{
					CallID: chunk.ToolCall.ID,
					Name:   chunk.ToolCall.Name,
					Input:  string(chunk.ToolCall.Input),
				}
				r.emit(st, ev)
			}

		case chunk.Done:
			out.finishReason = chunk.FinishReason
			st.inputTokens += chunk.InputTokens
			st.outputTokens += chunk.OutputTokens
		}
	}

	if streamErr != nil {
		return nil, streamErr
	}
	out.text = text.String()
	return out, nil
}

// runTools executes each requested call through its own approval and
// execution sub-sequence, emitting tool:result as each completes.
// Results correlate by call id regardless of completion order. The only
// error returned is run cancellation.
func (r *Runner) runTools(ctx context.Context, st *runState, calls []models.ToolCall) ([]models.ToolResult, error) {
	results := make([]models.ToolResult, 0, len(calls))

	for i := range calls {
		call := &calls[i]

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if r.policy.RequiresApproval(st.sessionID, call) && r.gate != nil {
			status, err := r.awaitApproval(ctx, st, call)
			if err != nil {
				return nil, err
			}
			if status != models.ApprovalApproved {
				msg := "tool call " + string(status) + " by approval gate"
				results = append(results, r.failResult(st, call, msg))
				continue
			}
		}

		ev := models.NewEvent(models.EventToolRunning)
		ev.Tool = &models.ToolPayload{CallID: call.ID, Name: call.Name}
		r.emit(st, ev)

		if r.executor == nil {
			results = append(results, r.failResult(st, call, "no tool executor configured"))
			continue
		}

		output, err := r.executor.ExecuteTool(ctx, call.Name, call.Input)

		// A result arriving after cancellation is discarded, not acted on.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if err != nil {
			toolErr := NewToolError(call.Name, err).WithToolCallID(call.ID)
			r.logger.Warn("tool execution failed",
				"tool", call.Name, "call_id", call.ID, "error_type", toolErr.Type, "error", err)
			results = append(results, r.failResult(st, call, r.sanitizer.Apply(toolErr.Message)))
			continue
		}

		raw := output.Text()
		rev := models.NewEvent(models.EventToolResult)
		rev.Tool = &models.ToolPayload{
			CallID:  call.ID,
			Name:    call.Name,
			Content: raw,
			Success: !output.IsError,
		}
		r.emit(st, rev)

		// The context copy is filtered; the event above carried the raw
		// result for display.
		results = append(results, models.ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Content:    r.sanitizer.Apply(raw),
			IsError:    output.IsError,
		})
	}

	return results, nil
}

// awaitApproval suspends the call on the gate until resolution or run
// cancellation.
func (r *Runner) awaitApproval(ctx context.Context, st *runState, call *models.ToolCall) (models.ApprovalStatus, error) {
	_, ch := r.gate.RequestApproval(
		models.ApprovalToolConfirmation,
		map[string]string{"tool": call.Name, "callId": call.ID},
		st.sessionID,
		r.cfg.ApprovalTimeout,
	)

	select {
	case res := <-ch:
		if res.RememberChoice {
			r.policy.Remember(st.sessionID, call, res.Status)
		}
		return res.Status, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// failResult emits a failed tool:result and returns the matching
// history entry.
func (r *Runner) failResult(st *runState, call *models.ToolCall, msg string) models.ToolResult {
	ev := models.NewEvent(models.EventToolResult)
	ev.Tool = &models.ToolPayload{
		CallID:  call.ID,
		Name:    call.Name,
		Content: msg,
		Success: false,
	}
	r.emit(st, ev)

	return models.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    msg,
		IsError:    true,
	}
}

func (r *Runner) emitLLMError(st *runState, err error) {
	ev := models.NewEvent(models.EventLLMError)
	ev.Error = &models.ErrorPayload{
		Message:     err.Error(),
		Recoverable: recoverableLLMError(err),
	}
	r.emit(st, ev)
}

// recoverableLLMError reports whether a provider failure is transient
// enough that a caller may retry the turn.
func recoverableLLMError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "503")
}

// complete emits the run's single run:complete and builds the result.
func (r *Runner) complete(st *runState, reason models.FinishReason, text string, err error) *RunResult {
	if st.completed {
		// Defensive: every path calls complete exactly once.
		r.logger.Error("duplicate run completion suppressed", "run_id", st.runID)
		return nil
	}
	st.completed = true

	payload := &models.RunPayload{
		RunID:        st.runID,
		FinishReason: reason,
		Steps:        st.steps,
		InputTokens:  st.inputTokens,
		OutputTokens: st.outputTokens,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	ev := models.NewEvent(models.EventRunComplete)
	ev.Run = payload
	r.emit(st, ev)

	if r.metrics != nil {
		r.metrics.RecordRun(string(reason), time.Since(st.started).Seconds(), st.steps)
	}
	r.logger.Info("run complete",
		"run_id", st.runID, "finish_reason", reason, "steps", st.steps)

	return &RunResult{
		RunID:        st.runID,
		FinishReason: reason,
		Text:         text,
		Steps:        st.steps,
		History:      st.history,
		Err:          err,
	}
}

func (r *Runner) emit(st *runState, ev models.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
		ev.Version = models.EventSchemaVersion
	}
	if st.bus != nil {
		st.bus.Emit(ev)
	}
	if r.metrics != nil {
		r.metrics.RecordEvent(string(ev.Name))
	}
}
