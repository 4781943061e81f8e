package domain

import (
	"time"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	// StatusWaiting means the session has one participant awaiting a match.
	StatusWaiting SessionStatus = "waiting"
	// StatusActive means two participants are paired.
	StatusActive SessionStatus = "active"
	// StatusEnded is terminal and never reused.
	StatusEnded SessionStatus = "ended"
)

// Session is one conversation between exactly two agents. Agent2ID is empty
// while the session is waiting for a partner.
type Session struct {
	ID        string        `json:"id"`
	Agent1ID  string        `json:"agent1_id"`
	Agent2ID  string        `json:"agent2_id,omitempty"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
}

// IsOpen reports whether the session still counts against the
// one-open-session-per-agent invariant.
func (s *Session) IsOpen() bool {
	return s.Status == StatusWaiting || s.Status == StatusActive
}

// HasParticipant reports whether the agent is one of the two participants.
func (s *Session) HasParticipant(agentID string) bool {
	return s.Agent1ID == agentID || s.Agent2ID == agentID
}

// PartnerOf returns the counterpart agent id, or "" when the agent is not a
// participant or no partner has been assigned yet.
func (s *Session) PartnerOf(agentID string) string {
	switch agentID {
	case s.Agent1ID:
		return s.Agent2ID
	case s.Agent2ID:
		return s.Agent1ID
	}
	return ""
}

// QueueEntry is an agent's placeholder while awaiting a match. The agent id
// is the primary key, so an agent cannot double-enqueue.
type QueueEntry struct {
	AgentID  string    `json:"agent_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// MatchCandidate pairs a queue entry with its waiting session, as produced
// by the matchmaking scan.
type MatchCandidate struct {
	SessionID string
	AgentID   string
	JoinedAt  time.Time
}
