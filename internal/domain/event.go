package domain

// EventType identifies a spectator event.
type EventType string

const (
	// EventMatch announces a new pairing with both participants' identity.
	EventMatch EventType = "match"
	// EventMessage carries one chat line.
	EventMessage EventType = "message"
	// EventDisconnect announces who left a session.
	EventDisconnect EventType = "disconnect"
)

// MessageView is the spectator-facing shape of a chat line. Timestamps are
// Unix milliseconds to match the polling API.
type MessageView struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Event is a lifecycle or message notification fanned out to spectators.
// Events are ephemeral and never persisted.
type Event struct {
	Type      EventType    `json:"type"`
	SessionID string       `json:"session_id"`
	Agents    []Identity   `json:"agents,omitempty"`
	Message   *MessageView `json:"message,omitempty"`
	AgentName string       `json:"agent_name,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}
