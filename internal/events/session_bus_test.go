package events

import (
	"strings"
	"testing"

	"github.com/cadenza-ai/cadenza/pkg/models"
)

func chunkEvent(text string) models.Event {
	ev := models.NewEvent(models.EventLLMChunk)
	ev.Chunk = &models.ChunkPayload{ChunkType: models.ChunkText, Text: text}
	return ev
}

func TestSessionBusDispatchOrder(t *testing.T) {
	bus := NewSessionBus()

	var got []string
	bus.On(models.EventLLMChunk, func(ev models.Event) {
		got = append(got, "first:"+ev.Chunk.Text)
	})
	bus.On(models.EventLLMChunk, func(ev models.Event) {
		got = append(got, "second:"+ev.Chunk.Text)
	})

	bus.Emit(chunkEvent("a"))

	want := []string{"first:a", "second:a"}
	if len(got) != len(want) {
		t.Fatalf("expected %d invocations, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("invocation %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSessionBusWildcardAfterNamed(t *testing.T) {
	bus := NewSessionBus()

	var order []string
	bus.On(Wildcard, func(models.Event) { order = append(order, "wildcard") })
	bus.On(models.EventLLMChunk, func(models.Event) { order = append(order, "named") })

	bus.Emit(chunkEvent("x"))

	if len(order) != 2 || order[0] != "named" || order[1] != "wildcard" {
		t.Errorf("expected named handler before wildcard, got %v", order)
	}
}

func TestSessionBusNoReplay(t *testing.T) {
	bus := NewSessionBus()
	bus.Emit(chunkEvent("missed"))

	called := false
	bus.On(models.EventLLMChunk, func(models.Event) { called = true })
	if called {
		t.Error("handler saw an event emitted before registration")
	}
}

func TestSessionBusUnsubscribeDuringDispatch(t *testing.T) {
	bus := NewSessionBus()

	calls := 0
	var unsub func()
	unsub = bus.On(models.EventLLMChunk, func(models.Event) {
		calls++
		unsub()
	})
	other := 0
	bus.On(models.EventLLMChunk, func(models.Event) { other++ })

	bus.Emit(chunkEvent("a"))
	bus.Emit(chunkEvent("b"))

	if calls != 1 {
		t.Errorf("self-unsubscribing handler ran %d times, want 1", calls)
	}
	if other != 2 {
		t.Errorf("sibling handler ran %d times, want 2", other)
	}
}

func TestSessionBusReentrantEmit(t *testing.T) {
	bus := NewSessionBus()

	var seen []string
	bus.On(models.EventLLMChunk, func(ev models.Event) {
		seen = append(seen, ev.Chunk.Text)
		if ev.Chunk.Text == "outer" {
			bus.Emit(chunkEvent("inner"))
		}
	})

	bus.Emit(chunkEvent("outer"))

	if len(seen) != 2 || seen[0] != "outer" || seen[1] != "inner" {
		t.Errorf("re-entrant emit produced %v", seen)
	}
}

func TestSessionBusSequenceMonotonic(t *testing.T) {
	bus := NewSessionBus()

	var seqs []uint64
	bus.On(models.EventLLMChunk, func(ev models.Event) {
		seqs = append(seqs, ev.Sequence)
	})

	for i := 0; i < 5; i++ {
		bus.Emit(chunkEvent("x"))
	}

	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("sequence not monotonic: %v", seqs)
		}
	}
}

// Chunks stream in order and the response payload is authoritative for
// the final text, independent of chunk concatenation.
func TestChunksThenAuthoritativeResponse(t *testing.T) {
	bus := NewSessionBus()

	var streamed strings.Builder
	var final string
	bus.On(models.EventLLMChunk, func(ev models.Event) {
		streamed.WriteString(ev.Chunk.Text)
	})
	bus.On(models.EventLLMResponse, func(ev models.Event) {
		final = ev.Text.Text
	})

	for _, part := range []string{"Hel", "lo", " ", "wor", "ld"} {
		bus.Emit(chunkEvent(part))
	}
	resp := models.NewEvent(models.EventLLMResponse)
	resp.Text = &models.TextPayload{Text: "Hello world"}
	bus.Emit(resp)

	if final != "Hello world" {
		t.Errorf("final text = %q, want %q", final, "Hello world")
	}
	if streamed.String() != "Hello world" {
		t.Errorf("streamed chunks = %q, want in-order delivery", streamed.String())
	}
}
