// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/agent-roulette/internal/domain"
)

// ErrNameTaken is returned when registering an agent with a display name
// that already exists.
var ErrNameTaken = errors.New("agent name already taken")

// Repository defines the interface for persisting agents, sessions, queue
// entries, and messages. Implementations provide per-statement atomicity;
// multi-step matchmaking relies on ClaimWaitingSession's conditional update.
type Repository interface {
	// CreateAgent inserts a new agent. Returns ErrNameTaken when the
	// display name is already registered.
	CreateAgent(ctx context.Context, agent *domain.Agent) error

	// GetAgent retrieves an agent by id. Returns nil, nil when not found.
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)

	// GetAgentByToken retrieves an agent by its bearer credential.
	GetAgentByToken(ctx context.Context, token string) (*domain.Agent, error)

	// GetAgentByClaimToken retrieves an agent by its one-time claim token.
	GetAgentByClaimToken(ctx context.Context, claimToken string) (*domain.Agent, error)

	// ClaimAgent marks an unclaimed agent as claimed by the given handle.
	// Returns false when the agent was already claimed.
	ClaimAgent(ctx context.Context, id, ownerHandle string) (bool, error)

	// UpdateAgentAvatar sets the avatar URL.
	UpdateAgentAvatar(ctx context.Context, id, avatarURL string) error

	// UpdateAgentWebhook sets the webhook URL; empty clears it.
	UpdateAgentWebhook(ctx context.Context, id, webhookURL string) error

	// CreateSession inserts a new session.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session by id. Returns nil, nil when not found.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// OpenSessionForAgent returns the single session where the agent is a
	// participant and the status is waiting or active, or nil, nil.
	OpenSessionForAgent(ctx context.Context, agentID string) (*domain.Session, error)

	// ClaimWaitingSession atomically assigns the second participant and
	// flips the session to active, but only if it is still an unmatched
	// waiting session. Returns false when another joiner won the race.
	ClaimWaitingSession(ctx context.Context, sessionID, agentID string) (bool, error)

	// EndSession transitions a session to ended with the given timestamp.
	// Ending an already-ended session is a no-op.
	EndSession(ctx context.Context, sessionID string, endedAt time.Time) error

	// ListActiveSessions returns the most recently created active sessions.
	ListActiveSessions(ctx context.Context, limit int) ([]*domain.Session, error)

	// StaleActiveSessions returns active sessions created before the window
	// with no message newer than the window.
	StaleActiveSessions(ctx context.Context, window time.Duration) ([]*domain.Session, error)

	// StaleWaitingSessions returns waiting sessions older than maxAge.
	StaleWaitingSessions(ctx context.Context, maxAge time.Duration) ([]*domain.Session, error)

	// ActiveBotSessions returns active sessions with a house-bot participant.
	ActiveBotSessions(ctx context.Context) ([]*domain.Session, error)

	// Enqueue inserts a queue entry for the agent. Inserting an already
	// queued agent is a no-op.
	Enqueue(ctx context.Context, agentID string, joinedAt time.Time) error

	// RemoveQueueEntry deletes the agent's queue entry if present.
	RemoveQueueEntry(ctx context.Context, agentID string) error

	// HasQueueEntry reports whether the agent is currently queued.
	HasQueueEntry(ctx context.Context, agentID string) (bool, error)

	// MatchCandidates returns queued agents with a corresponding waiting
	// session, oldest first, excluding the given agent.
	MatchCandidates(ctx context.Context, excludeAgentID string, limit int) ([]*domain.MatchCandidate, error)

	// OldestWaitingNonBot returns the longest-waiting queued non-bot agent
	// that has waited at least minWait, or nil, nil.
	OldestWaitingNonBot(ctx context.Context, minWait time.Duration) (*domain.MatchCandidate, error)

	// AvailableBots returns house bots not participating in any open session.
	AvailableBots(ctx context.Context) ([]*domain.Agent, error)

	// ReapQueue deletes queue entries older than maxAge.
	ReapQueue(ctx context.Context, maxAge time.Duration) (int64, error)

	// CreateMessage appends a chat line.
	CreateMessage(ctx context.Context, msg *domain.Message) error

	// ListMessages returns a session's messages created strictly after
	// since, ordered by creation time ascending. A zero since returns all.
	ListMessages(ctx context.Context, sessionID string, since time.Time) ([]*domain.Message, error)

	// LatestMessage returns the most recent message in a session, or nil, nil.
	LatestMessage(ctx context.Context, sessionID string) (*domain.Message, error)

	// Stats returns public aggregate counters.
	Stats(ctx context.Context) (*domain.Stats, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
