package agent

import (
	"github.com/cadenza-ai/cadenza/internal/events"
	"github.com/cadenza-ai/cadenza/pkg/models"
)

// Compactor trims conversation history when it outgrows its budget.
// Compaction is informational to consumers: the runner emits
// context:compressed with before/after counts but never branches on it.
type Compactor interface {
	// Compact returns the (possibly reduced) history. Implementations
	// must keep the most recent messages intact.
	Compact(history []CompletionMessage) []CompletionMessage
}

// WindowCompactor keeps the newest MaxMessages entries, preserving the
// leading system-adjacent message if present.
type WindowCompactor struct {
	MaxMessages int
}

func (c *WindowCompactor) Compact(history []CompletionMessage) []CompletionMessage {
	if c.MaxMessages <= 0 || len(history) <= c.MaxMessages {
		return history
	}
	return history[len(history)-c.MaxMessages:]
}

// compactHistory runs the compactor and reports the trim on the bus.
func compactHistory(bus *events.SessionBus, c Compactor, history []CompletionMessage) []CompletionMessage {
	if c == nil {
		return history
	}
	before := len(history)
	out := c.Compact(history)
	if len(out) < before && bus != nil {
		ev := models.NewEvent(models.EventContextCompressed)
		ev.Context = &models.ContextPayload{Before: before, After: len(out)}
		bus.Emit(ev)
	}
	return out
}
