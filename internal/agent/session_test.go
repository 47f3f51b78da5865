package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cadenza-ai/cadenza/internal/events"
	"github.com/cadenza-ai/cadenza/pkg/models"
)

// blockingProvider parks every step until release is closed, signaling
// started once per Complete call.
type blockingProvider struct {
	started chan struct{}
	release chan struct{}
	text    string
}

func newBlockingProvider(text string) *blockingProvider {
	return &blockingProvider{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
		text:    text,
	}
}

func (p *blockingProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.started <- struct{}{}
	ch := make(chan *CompletionChunk, 2)
	go func() {
		defer close(ch)
		select {
		case <-p.release:
			ch <- &CompletionChunk{Text: p.text}
			ch <- &CompletionChunk{Done: true, FinishReason: models.FinishStop}
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func (p *blockingProvider) Name() string        { return "blocking" }
func (p *blockingProvider) Models() []Model     { return nil }
func (p *blockingProvider) SupportsTools() bool { return false }

func newTestManager(p LLMProvider) (*Manager, *events.AgentBus) {
	agentBus := events.NewAgentBus(testLogger())
	runner := NewRunner(p, nil, nil, nil, RunnerConfig{Model: "m"}, nil, testLogger())
	return NewManager(agentBus, runner, nil, 0, testLogger()), agentBus
}

func TestManagerCreateSessionAttachesBus(t *testing.T) {
	m, agentBus := newTestManager(&scriptedProvider{})

	var mu sync.Mutex
	var seen []models.Event
	agentBus.On(events.Wildcard, func(ev models.Event) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	})

	s := m.CreateSession()
	if s.ID == "" {
		t.Fatal("empty session id")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0].Name != models.EventSessionCreated {
		t.Fatalf("agent bus events = %+v", seen)
	}
	if seen[0].SessionID != s.ID {
		t.Errorf("forwarded sessionId = %q, want %q", seen[0].SessionID, s.ID)
	}
}

func TestManagerSendMessageCompletesRun(t *testing.T) {
	provider := &scriptedProvider{steps: [][]*CompletionChunk{
		textStep(models.FinishStop, "hello there"),
	}}
	m, _ := newTestManager(provider)
	s := m.CreateSession()

	result, err := m.SendMessage(context.Background(), s.ID, "hi")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if result == nil || result.FinishReason != models.FinishStop {
		t.Fatalf("result = %+v", result)
	}

	snap := s.Snapshot()
	if snap.MessageCount != 2 {
		t.Errorf("message count = %d, want user+assistant", snap.MessageCount)
	}
	if s.Running() {
		t.Error("session still marked running")
	}
}

func TestManagerQueuesDuringActiveRun(t *testing.T) {
	provider := newBlockingProvider("ok")
	m, _ := newTestManager(provider)
	s := m.CreateSession()
	c := collect(s.Bus)

	type outcome struct {
		result *RunResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := m.SendMessage(context.Background(), s.ID, "first")
		done <- outcome{res, err}
	}()

	<-provider.started

	// Second message arrives mid-run: queued, not run.
	result, err := m.SendMessage(context.Background(), s.ID, "second")
	if err != nil {
		t.Fatalf("queueing SendMessage: %v", err)
	}
	if result != nil {
		t.Fatal("queued message must not return a run result")
	}
	if got := s.QueuedMessages(); got != 1 {
		t.Fatalf("queued = %d, want 1", got)
	}

	close(provider.release)
	<-provider.started // follow-up run for the queued message

	out := <-done
	if out.err != nil {
		t.Fatalf("SendMessage: %v", out.err)
	}
	if out.result.FinishReason != models.FinishStop {
		t.Fatalf("final finish reason = %s", out.result.FinishReason)
	}

	if got := c.count(models.EventRunComplete); got != 2 {
		t.Errorf("run:complete count = %d, want 2 (original + drained)", got)
	}
	if got := c.count(models.EventMessageQueued); got != 1 {
		t.Errorf("message:queued count = %d, want 1", got)
	}
	if got := c.count(models.EventMessageDequeued); got != 1 {
		t.Errorf("message:dequeued count = %d, want 1", got)
	}
	if got := s.QueuedMessages(); got != 0 {
		t.Errorf("queued after drain = %d", got)
	}
}

func TestManagerCancelRun(t *testing.T) {
	provider := newBlockingProvider("never")
	m, _ := newTestManager(provider)
	s := m.CreateSession()
	c := collect(s.Bus)

	done := make(chan *RunResult, 1)
	go func() {
		res, _ := m.SendMessage(context.Background(), s.ID, "long task")
		done <- res
	}()

	<-provider.started
	if err := m.CancelRun(s.ID); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}

	select {
	case result := <-done:
		if result.FinishReason != models.FinishCancelled {
			t.Fatalf("finish reason = %s, want cancelled", result.FinishReason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not cancel")
	}

	if got := c.count(models.EventRunComplete); got != 1 {
		t.Errorf("run:complete count = %d, want 1", got)
	}
	// Cancelled runs do not advance session history.
	if snap := s.Snapshot(); snap.MessageCount != 0 {
		t.Errorf("message count after cancel = %d, want 0", snap.MessageCount)
	}
	if s.Running() {
		t.Error("session still marked running")
	}
}

func TestManagerCancelWithoutRun(t *testing.T) {
	m, _ := newTestManager(&scriptedProvider{})
	s := m.CreateSession()
	if err := m.CancelRun(s.ID); !errors.Is(err, ErrNoActiveRun) {
		t.Fatalf("err = %v, want ErrNoActiveRun", err)
	}
}

func TestManagerTitleAndReset(t *testing.T) {
	provider := &scriptedProvider{steps: [][]*CompletionChunk{
		textStep(models.FinishStop, "answer"),
	}}
	m, _ := newTestManager(provider)
	s := m.CreateSession()
	c := collect(s.Bus)

	if err := m.SetTitle(s.ID, "research"); err != nil {
		t.Fatalf("SetTitle: %v", err)
	}
	if s.Title() != "research" {
		t.Errorf("title = %q", s.Title())
	}
	titled := c.byName(models.EventSessionTitleUpdated)
	if len(titled) != 1 || titled[0].Text.Text != "research" {
		t.Errorf("title events = %+v", titled)
	}

	if _, err := m.SendMessage(context.Background(), s.ID, "q"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := m.ResetSession(s.ID); err != nil {
		t.Fatalf("ResetSession: %v", err)
	}
	if snap := s.Snapshot(); snap.MessageCount != 0 {
		t.Errorf("message count after reset = %d", snap.MessageCount)
	}
	if got := c.count(models.EventSessionReset); got != 1 {
		t.Errorf("session:reset count = %d", got)
	}
}

func TestManagerRemoveSessionDetaches(t *testing.T) {
	m, agentBus := newTestManager(&scriptedProvider{})
	s := m.CreateSession()

	var mu sync.Mutex
	forwarded := 0
	agentBus.On(events.Wildcard, func(models.Event) {
		mu.Lock()
		forwarded++
		mu.Unlock()
	})

	if err := m.RemoveSession(s.ID); err != nil {
		t.Fatalf("RemoveSession: %v", err)
	}
	if _, ok := m.Session(s.ID); ok {
		t.Fatal("session still present")
	}

	s.Bus.Emit(models.NewEvent(models.EventLLMThinking))
	mu.Lock()
	defer mu.Unlock()
	if forwarded != 0 {
		t.Errorf("detached session still forwarded %d events", forwarded)
	}
}

func TestManagerUnknownSession(t *testing.T) {
	m, _ := newTestManager(&scriptedProvider{})
	if _, err := m.SendMessage(context.Background(), "nope", "hi"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("SendMessage err = %v", err)
	}
	if err := m.SetTitle("nope", "t"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("SetTitle err = %v", err)
	}
	if err := m.ResetSession("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("ResetSession err = %v", err)
	}
	if err := m.RemoveSession("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("RemoveSession err = %v", err)
	}
	if err := m.CancelRun("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("CancelRun err = %v", err)
	}
}
