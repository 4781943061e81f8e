package domain

import (
	"time"
)

// Message is one chat line. Append-only, never mutated or deleted.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats is the public aggregate returned to unauthenticated status callers.
type Stats struct {
	Agents         int64 `json:"agents"`
	Bots           int64 `json:"bots"`
	ActiveSessions int64 `json:"active_sessions"`
	WaitingAgents  int64 `json:"waiting_agents"`
}
