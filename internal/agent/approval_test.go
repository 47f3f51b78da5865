package agent

import (
	"sync"
	"testing"
	"time"

	"github.com/cadenza-ai/cadenza/internal/events"
	"github.com/cadenza-ai/cadenza/pkg/models"
)

func TestApprovalResolveDeliversOnce(t *testing.T) {
	gate := NewGate(nil, nil, testLogger())

	id, ch := gate.RequestApproval(models.ApprovalToolConfirmation, nil, "s1", time.Minute)
	gate.Resolve(id, models.ApprovalApproved, map[string]string{"note": "ok"}, true)

	res := <-ch
	if res.Status != models.ApprovalApproved {
		t.Fatalf("status = %s, want approved", res.Status)
	}
	if !res.RememberChoice || res.Data["note"] != "ok" {
		t.Errorf("resolution = %+v", res)
	}

	select {
	case extra := <-ch:
		t.Fatalf("second resolution delivered: %+v", extra)
	case <-time.After(20 * time.Millisecond):
	}
	if gate.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0", gate.PendingCount())
	}
}

func TestApprovalDuplicateResolveIgnored(t *testing.T) {
	gate := NewGate(nil, nil, testLogger())

	id, ch := gate.RequestApproval(models.ApprovalCommandConfirmation, nil, "s1", time.Minute)
	gate.Resolve(id, models.ApprovalDenied, nil, false)
	gate.Resolve(id, models.ApprovalApproved, nil, false)

	res := <-ch
	if res.Status != models.ApprovalDenied {
		t.Fatalf("status = %s, want denied (first resolution wins)", res.Status)
	}
	select {
	case <-ch:
		t.Fatal("duplicate resolution reached the waiter")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestApprovalUnknownIDIsNoOp(t *testing.T) {
	gate := NewGate(nil, nil, testLogger())
	gate.Resolve("no-such-id", models.ApprovalApproved, nil, false)
	if gate.PendingCount() != 0 {
		t.Errorf("pending = %d", gate.PendingCount())
	}
}

func TestApprovalTimeoutResolvesCancelled(t *testing.T) {
	gate := NewGate(nil, nil, testLogger())

	start := time.Now()
	_, ch := gate.RequestApproval(models.ApprovalToolConfirmation, nil, "s1", 100*time.Millisecond)

	select {
	case res := <-ch:
		if res.Status != models.ApprovalCancelled {
			t.Fatalf("status = %s, want cancelled", res.Status)
		}
		if elapsed := time.Since(start); elapsed < 100*time.Millisecond || elapsed > 500*time.Millisecond {
			t.Errorf("timeout fired after %v", elapsed)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never resolved")
	}
	if gate.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0", gate.PendingCount())
	}
}

func TestApprovalResolveAfterTimeoutIgnored(t *testing.T) {
	gate := NewGate(nil, nil, testLogger())

	id, ch := gate.RequestApproval(models.ApprovalToolConfirmation, nil, "s1", 20*time.Millisecond)
	res := <-ch
	if res.Status != models.ApprovalCancelled {
		t.Fatalf("status = %s, want cancelled", res.Status)
	}

	// Late explicit answer after self-cancellation.
	gate.Resolve(id, models.ApprovalApproved, nil, false)
	select {
	case extra := <-ch:
		t.Fatalf("late resolution delivered: %+v", extra)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestApprovalConcurrentWaitersIndependent(t *testing.T) {
	gate := NewGate(nil, nil, testLogger())

	idA, chA := gate.RequestApproval(models.ApprovalToolConfirmation, map[string]string{"tool": "a"}, "s1", time.Minute)
	idB, chB := gate.RequestApproval(models.ApprovalToolConfirmation, map[string]string{"tool": "b"}, "s2", time.Minute)

	if idA == idB {
		t.Fatal("approval ids collide")
	}

	// Resolve in reverse order of issue.
	gate.Resolve(idB, models.ApprovalDenied, nil, false)
	gate.Resolve(idA, models.ApprovalApproved, nil, false)

	if res := <-chA; res.Status != models.ApprovalApproved {
		t.Errorf("waiter A status = %s, want approved", res.Status)
	}
	if res := <-chB; res.Status != models.ApprovalDenied {
		t.Errorf("waiter B status = %s, want denied", res.Status)
	}
}

func TestApprovalRacingResolversDeliverOne(t *testing.T) {
	gate := NewGate(nil, nil, testLogger())
	id, ch := gate.RequestApproval(models.ApprovalToolConfirmation, nil, "s1", 50*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gate.Resolve(id, models.ApprovalApproved, nil, false)
		}()
	}
	wg.Wait()

	// Exactly one value, even with the timeout racing the resolvers.
	delivered := 0
	timeout := time.After(200 * time.Millisecond)
	for delivered == 0 {
		select {
		case <-ch:
			delivered++
		case <-timeout:
			t.Fatal("no resolution delivered")
		}
	}
	select {
	case <-ch:
		t.Fatal("more than one resolution delivered")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestApprovalEventsOnAgentBus(t *testing.T) {
	bus := events.NewAgentBus(testLogger())
	gate := NewGate(bus, nil, testLogger())

	var mu sync.Mutex
	var seen []models.Event
	bus.On(events.Wildcard, func(ev models.Event) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	})

	id, ch := gate.RequestApproval(models.ApprovalToolConfirmation, map[string]string{"tool": "rm"}, "sess-9", time.Minute)
	gate.Resolve(id, models.ApprovalApproved, nil, false)
	<-ch

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("events = %d, want request+response", len(seen))
	}
	req := seen[0]
	if req.Name != models.EventApprovalRequest || req.SessionID != "sess-9" {
		t.Errorf("request event = %+v", req)
	}
	if req.Approval.ApprovalID != id || req.Approval.Metadata["tool"] != "rm" {
		t.Errorf("request payload = %+v", req.Approval)
	}
	if req.Approval.TimeoutMillis != time.Minute.Milliseconds() {
		t.Errorf("timeoutMillis = %d", req.Approval.TimeoutMillis)
	}
	resp := seen[1]
	if resp.Name != models.EventApprovalResponse || resp.Approval.Status != models.ApprovalApproved {
		t.Errorf("response event = %+v", resp)
	}
}

func TestApprovalDefaultTimeoutApplied(t *testing.T) {
	bus := events.NewAgentBus(testLogger())
	gate := NewGate(bus, nil, testLogger())

	var got int64
	bus.On(models.EventApprovalRequest, func(ev models.Event) {
		got = ev.Approval.TimeoutMillis
	})

	id, _ := gate.RequestApproval(models.ApprovalElicitation, nil, "s1", 0)
	defer gate.Resolve(id, models.ApprovalDenied, nil, false)

	if got != DefaultApprovalTimeout.Milliseconds() {
		t.Errorf("timeoutMillis = %d, want %d", got, DefaultApprovalTimeout.Milliseconds())
	}
}
