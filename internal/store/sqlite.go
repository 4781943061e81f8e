package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/agent-roulette/internal/domain"
	"github.com/ashureev/agent-roulette/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeRetries    = 3
	writeRetryDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		token TEXT NOT NULL UNIQUE,
		claim_token TEXT NOT NULL UNIQUE,
		verification_code TEXT NOT NULL,
		claimed INTEGER NOT NULL DEFAULT 0,
		owner_handle TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		webhook_url TEXT NOT NULL DEFAULT '',
		is_bot INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		agent1_id TEXT NOT NULL,
		agent2_id TEXT,
		status TEXT NOT NULL CHECK (status IN ('waiting', 'active', 'ended')),
		created_at INTEGER NOT NULL,
		ended_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	CREATE INDEX IF NOT EXISTS idx_sessions_agent1 ON sessions(agent1_id) WHERE status != 'ended';
	CREATE INDEX IF NOT EXISTS idx_sessions_agent2 ON sessions(agent2_id) WHERE status != 'ended';

	CREATE TABLE IF NOT EXISTS queue (
		agent_id TEXT PRIMARY KEY,
		joined_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// execRetry runs a write, retrying a few times on SQLite concurrency errors
// that survive the driver's busy timeout.
func (s *SQLiteStore) execRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	var err error
	for attempt := 0; attempt < writeRetries; attempt++ {
		result, err = s.db.ExecContext(ctx, query, args...)
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return result, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(writeRetryDelay):
		}
	}
	return result, err
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const agentColumns = `id, name, description, token, claim_token, verification_code,
	claimed, owner_handle, avatar_url, webhook_url, is_bot, created_at`

// CreateAgent inserts a new agent.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *domain.Agent) error {
	query := `
	INSERT INTO agents (` + agentColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.execRetry(ctx, query,
		agent.ID, agent.Name, agent.Description, agent.Token,
		agent.ClaimToken, agent.VerificationCode,
		agent.Claimed, agent.OwnerHandle, agent.AvatarURL, agent.WebhookURL,
		agent.IsBot, agent.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: agents.name") {
			return ErrNameTaken
		}
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func scanAgent(row interface{ Scan(...any) error }) (*domain.Agent, error) {
	var agent domain.Agent
	var createdAt int64

	err := row.Scan(
		&agent.ID, &agent.Name, &agent.Description, &agent.Token,
		&agent.ClaimToken, &agent.VerificationCode,
		&agent.Claimed, &agent.OwnerHandle, &agent.AvatarURL, &agent.WebhookURL,
		&agent.IsBot, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent row: %w", err)
	}

	agent.CreatedAt = time.UnixMilli(createdAt)
	return &agent, nil
}

// GetAgent retrieves an agent by id.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

// GetAgentByToken retrieves an agent by its bearer credential.
func (s *SQLiteStore) GetAgentByToken(ctx context.Context, token string) (*domain.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE token = ?`, token)
	return scanAgent(row)
}

// GetAgentByClaimToken retrieves an agent by its one-time claim token.
func (s *SQLiteStore) GetAgentByClaimToken(ctx context.Context, claimToken string) (*domain.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE claim_token = ?`, claimToken)
	return scanAgent(row)
}

// ClaimAgent marks an unclaimed agent as claimed by the given handle.
func (s *SQLiteStore) ClaimAgent(ctx context.Context, id, ownerHandle string) (bool, error) {
	result, err := s.execRetry(ctx,
		`UPDATE agents SET claimed = 1, owner_handle = ? WHERE id = ? AND claimed = 0`,
		ownerHandle, id)
	if err != nil {
		return false, fmt.Errorf("claim agent: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// UpdateAgentAvatar sets the avatar URL.
func (s *SQLiteStore) UpdateAgentAvatar(ctx context.Context, id, avatarURL string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE agents SET avatar_url = ? WHERE id = ?`, avatarURL, id); err != nil {
		return fmt.Errorf("update avatar: %w", err)
	}
	return nil
}

// UpdateAgentWebhook sets the webhook URL.
func (s *SQLiteStore) UpdateAgentWebhook(ctx context.Context, id, webhookURL string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE agents SET webhook_url = ? WHERE id = ?`, webhookURL, id); err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	return nil
}

const sessionColumns = `id, agent1_id, agent2_id, status, created_at, ended_at`

// CreateSession inserts a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	var agent2 interface{}
	if session.Agent2ID != "" {
		agent2 = session.Agent2ID
	}
	var endedAt interface{}
	if session.EndedAt != nil {
		endedAt = session.EndedAt.UnixMilli()
	}

	_, err := s.execRetry(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.Agent1ID, agent2, string(session.Status),
		session.CreatedAt.UnixMilli(), endedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func scanSession(row interface{ Scan(...any) error }) (*domain.Session, error) {
	var session domain.Session
	var agent2 sql.NullString
	var status string
	var createdAt int64
	var endedAt sql.NullInt64

	err := row.Scan(&session.ID, &session.Agent1ID, &agent2, &status, &createdAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.Agent2ID = agent2.String
	session.Status = domain.SessionStatus(status)
	session.CreatedAt = time.UnixMilli(createdAt)
	if endedAt.Valid {
		t := time.UnixMilli(endedAt.Int64)
		session.EndedAt = &t
	}
	return &session, nil
}

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...any) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// OpenSessionForAgent returns the agent's waiting or active session, if any.
func (s *SQLiteStore) OpenSessionForAgent(ctx context.Context, agentID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status IN ('waiting', 'active') AND (agent1_id = ? OR agent2_id = ?)
		ORDER BY created_at DESC LIMIT 1`,
		agentID, agentID)
	return scanSession(row)
}

// ClaimWaitingSession atomically assigns the second participant. The
// conditional update is what prevents two concurrent joiners from claiming
// the same waiting session.
func (s *SQLiteStore) ClaimWaitingSession(ctx context.Context, sessionID, agentID string) (bool, error) {
	result, err := s.execRetry(ctx, `
		UPDATE sessions SET agent2_id = ?, status = 'active'
		WHERE id = ? AND status = 'waiting' AND agent2_id IS NULL`,
		agentID, sessionID)
	if err != nil {
		return false, fmt.Errorf("claim waiting session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// EndSession transitions a session to ended.
func (s *SQLiteStore) EndSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	if _, err := s.execRetry(ctx, `
		UPDATE sessions SET status = 'ended', ended_at = ?
		WHERE id = ? AND status != 'ended'`,
		endedAt.UnixMilli(), sessionID); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// ListActiveSessions returns the most recently created active sessions.
func (s *SQLiteStore) ListActiveSessions(ctx context.Context, limit int) ([]*domain.Session, error) {
	return s.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = 'active'
		ORDER BY created_at DESC LIMIT ?`, limit)
}

// StaleActiveSessions returns active sessions created before the window with
// no message inside it. A session with a recent message is never stale,
// regardless of its own age.
func (s *SQLiteStore) StaleActiveSessions(ctx context.Context, window time.Duration) ([]*domain.Session, error) {
	cutoff := time.Now().Add(-window).UnixMilli()
	return s.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM sessions s
		WHERE s.status = 'active' AND s.created_at < ?
		AND NOT EXISTS (
			SELECT 1 FROM messages m WHERE m.session_id = s.id AND m.created_at > ?
		)`, cutoff, cutoff)
}

// StaleWaitingSessions returns waiting sessions older than maxAge.
func (s *SQLiteStore) StaleWaitingSessions(ctx context.Context, maxAge time.Duration) ([]*domain.Session, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	return s.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = 'waiting' AND created_at < ?`, cutoff)
}

// ActiveBotSessions returns active sessions with a house-bot participant.
func (s *SQLiteStore) ActiveBotSessions(ctx context.Context) ([]*domain.Session, error) {
	return s.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM sessions s
		WHERE s.status = 'active' AND EXISTS (
			SELECT 1 FROM agents a
			WHERE a.is_bot = 1 AND (a.id = s.agent1_id OR a.id = s.agent2_id)
		)`)
}

// Enqueue inserts a queue entry for the agent.
func (s *SQLiteStore) Enqueue(ctx context.Context, agentID string, joinedAt time.Time) error {
	if _, err := s.execRetry(ctx,
		`INSERT OR IGNORE INTO queue (agent_id, joined_at) VALUES (?, ?)`,
		agentID, joinedAt.UnixMilli()); err != nil {
		return fmt.Errorf("enqueue agent: %w", err)
	}
	return nil
}

// RemoveQueueEntry deletes the agent's queue entry if present.
func (s *SQLiteStore) RemoveQueueEntry(ctx context.Context, agentID string) error {
	if _, err := s.execRetry(ctx,
		`DELETE FROM queue WHERE agent_id = ?`, agentID); err != nil {
		return fmt.Errorf("remove queue entry: %w", err)
	}
	return nil
}

// HasQueueEntry reports whether the agent is currently queued.
func (s *SQLiteStore) HasQueueEntry(ctx context.Context, agentID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM queue WHERE agent_id = ?`, agentID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query queue entry: %w", err)
	}
	return n > 0, nil
}

func scanCandidate(row interface{ Scan(...any) error }) (*domain.MatchCandidate, error) {
	var cand domain.MatchCandidate
	var joinedAt int64

	err := row.Scan(&cand.SessionID, &cand.AgentID, &joinedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan candidate row: %w", err)
	}

	cand.JoinedAt = time.UnixMilli(joinedAt)
	return &cand, nil
}

// MatchCandidates returns queued agents with a waiting session, FIFO by join
// time with insertion order as the stable tiebreaker.
func (s *SQLiteStore) MatchCandidates(ctx context.Context, excludeAgentID string, limit int) ([]*domain.MatchCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sess.id, q.agent_id, q.joined_at
		FROM queue q
		JOIN sessions sess ON sess.agent1_id = q.agent_id AND sess.status = 'waiting'
		WHERE q.agent_id != ?
		ORDER BY q.joined_at ASC, q.rowid ASC
		LIMIT ?`, excludeAgentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query match candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*domain.MatchCandidate
	for rows.Next() {
		cand, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, cand)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate match candidates: %w", err)
	}
	return candidates, nil
}

// OldestWaitingNonBot returns the longest-waiting queued non-bot agent that
// has waited at least minWait.
func (s *SQLiteStore) OldestWaitingNonBot(ctx context.Context, minWait time.Duration) (*domain.MatchCandidate, error) {
	cutoff := time.Now().Add(-minWait).UnixMilli()
	row := s.db.QueryRowContext(ctx, `
		SELECT sess.id, q.agent_id, q.joined_at
		FROM queue q
		JOIN sessions sess ON sess.agent1_id = q.agent_id AND sess.status = 'waiting'
		JOIN agents a ON a.id = q.agent_id
		WHERE a.is_bot = 0 AND q.joined_at <= ?
		ORDER BY q.joined_at ASC, q.rowid ASC
		LIMIT 1`, cutoff)
	return scanCandidate(row)
}

// AvailableBots returns house bots not participating in any open session.
func (s *SQLiteStore) AvailableBots(ctx context.Context) ([]*domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+agentColumns+` FROM agents a
		WHERE a.is_bot = 1 AND NOT EXISTS (
			SELECT 1 FROM sessions s
			WHERE s.status IN ('waiting', 'active')
			AND (s.agent1_id = a.id OR s.agent2_id = a.id)
		)`)
	if err != nil {
		return nil, fmt.Errorf("query available bots: %w", err)
	}
	defer rows.Close()

	var bots []*domain.Agent
	for rows.Next() {
		bot, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, bot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate available bots: %w", err)
	}
	return bots, nil
}

// ReapQueue deletes queue entries older than maxAge.
func (s *SQLiteStore) ReapQueue(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	result, err := s.execRetry(ctx,
		`DELETE FROM queue WHERE joined_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap queue: %w", err)
	}
	return result.RowsAffected()
}

// CreateMessage appends a chat line.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	_, err := s.execRetry(ctx, `
		INSERT INTO messages (id, session_id, sender_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.SenderID, msg.Content, msg.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func scanMessage(row interface{ Scan(...any) error }) (*domain.Message, error) {
	var msg domain.Message
	var createdAt int64

	err := row.Scan(&msg.ID, &msg.SessionID, &msg.SenderID, &msg.Content, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan message row: %w", err)
	}

	msg.CreatedAt = time.UnixMilli(createdAt)
	return &msg, nil
}

// ListMessages returns a session's messages created strictly after since.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, since time.Time) ([]*domain.Message, error) {
	var sinceMs int64
	if !since.IsZero() {
		sinceMs = since.UnixMilli()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, sender_id, content, created_at
		FROM messages
		WHERE session_id = ? AND created_at > ?
		ORDER BY created_at ASC, rowid ASC`,
		sessionID, sinceMs)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// LatestMessage returns the most recent message in a session.
func (s *SQLiteStore) LatestMessage(ctx context.Context, sessionID string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, sender_id, content, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, sessionID)
	return scanMessage(row)
}

// Stats returns public aggregate counters.
func (s *SQLiteStore) Stats(ctx context.Context) (*domain.Stats, error) {
	var stats domain.Stats

	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(1) FROM agents),
			(SELECT COUNT(1) FROM agents WHERE is_bot = 1),
			(SELECT COUNT(1) FROM sessions WHERE status = 'active'),
			(SELECT COUNT(1) FROM queue)`)
	if err := row.Scan(&stats.Agents, &stats.Bots, &stats.ActiveSessions, &stats.WaitingAgents); err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	return &stats, nil
}
