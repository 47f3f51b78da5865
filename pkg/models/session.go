package models

import "time"

// Session is an isolated conversation context. Conversation history and
// run state live with the owning session manager; this struct is the
// externally visible summary.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
}
