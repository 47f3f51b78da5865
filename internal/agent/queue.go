package agent

import (
	"strings"
	"sync"

	"github.com/cadenza-ai/cadenza/internal/events"
	"github.com/cadenza-ai/cadenza/pkg/models"
)

// DefaultQueueLimit caps queued messages per session.
const DefaultQueueLimit = 16

// messageQueue holds user messages that arrive while a run is in
// flight. Dequeue coalesces everything queued so far into one combined
// content block so the next run sees a single turn.
type messageQueue struct {
	bus   *events.SessionBus
	limit int

	mu    sync.Mutex
	items []string
}

func newMessageQueue(bus *events.SessionBus, limit int) *messageQueue {
	if limit <= 0 {
		limit = DefaultQueueLimit
	}
	return &messageQueue{bus: bus, limit: limit}
}

// Enqueue appends a message and emits message:queued with its 1-based
// position. Returns ErrQueueFull at capacity.
func (q *messageQueue) Enqueue(content string) error {
	q.mu.Lock()
	if len(q.items) >= q.limit {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.items = append(q.items, content)
	position := len(q.items)
	q.mu.Unlock()

	if q.bus != nil {
		ev := models.NewEvent(models.EventMessageQueued)
		ev.Queue = &models.QueuePayload{Position: position}
		q.bus.Emit(ev)
	}
	return nil
}

// Dequeue drains the queue into one combined content block. The second
// return is false when nothing was queued. Emits message:dequeued with
// the coalesced flag when more than one message merged.
func (q *messageQueue) Dequeue() (string, bool) {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	if len(items) == 0 {
		return "", false
	}

	if q.bus != nil {
		ev := models.NewEvent(models.EventMessageDequeued)
		ev.Queue = &models.QueuePayload{Coalesced: len(items) > 1, Count: len(items)}
		q.bus.Emit(ev)
	}
	return strings.Join(items, "\n\n"), true
}

// Len reports the queued message count.
func (q *messageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
