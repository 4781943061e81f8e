package match

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/agent-roulette/internal/domain"
	"github.com/ashureev/agent-roulette/internal/store"
	"github.com/google/uuid"
)

// matchScanLimit bounds how many queue candidates a single join inspects
// when racing other joiners for the same waiting sessions.
const matchScanLimit = 16

// Broadcaster fans out spectator events. Delivery is best-effort and must
// never block matchmaking.
type Broadcaster interface {
	Broadcast(sessionID string, ev domain.Event)
	Count(sessionID string) int
}

// Notifier delivers outbound webhook notifications fire-and-forget.
type Notifier interface {
	MessageReceived(webhookURL string, msg *domain.Message, fromName string)
}

// Service owns the matchmaking queue, session lifecycle, and message
// routing. All session mutation in the system flows through it.
type Service struct {
	repo     store.Repository
	hub      Broadcaster
	notifier Notifier
}

// NewService creates a new matchmaking service.
func NewService(repo store.Repository, hub Broadcaster, notifier Notifier) *Service {
	return &Service{repo: repo, hub: hub, notifier: notifier}
}

// JoinOutcome is the result category of a join request.
type JoinOutcome string

const (
	// OutcomeWaiting means a new waiting session and queue entry were created.
	OutcomeWaiting JoinOutcome = "waiting"
	// OutcomeMatched means the agent was paired with a waiting partner.
	OutcomeMatched JoinOutcome = "matched"
	// OutcomeAlreadyInQueue means the agent already has a pending wait.
	OutcomeAlreadyInQueue JoinOutcome = "already_in_queue"
	// OutcomeAlreadyInSession means the agent is already paired.
	OutcomeAlreadyInSession JoinOutcome = "already_in_session"
)

// JoinResult describes the outcome of a join request.
type JoinResult struct {
	Outcome   JoinOutcome      `json:"status"`
	SessionID string           `json:"session_id,omitempty"`
	Partner   *domain.Identity `json:"partner,omitempty"`
}

// Join pairs the agent with the longest-waiting compatible partner or
// enqueues it. Join is idempotent per agent: repeated calls without an
// intervening disconnect or match are side-effect-free.
func (s *Service) Join(ctx context.Context, agentID string) (*JoinResult, error) {
	open, err := s.repo.OpenSessionForAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("look up open session: %w", err)
	}
	if open != nil {
		if open.Status == domain.StatusActive {
			partner, err := s.identity(ctx, open.PartnerOf(agentID))
			if err != nil {
				return nil, err
			}
			return &JoinResult{
				Outcome:   OutcomeAlreadyInSession,
				SessionID: open.ID,
				Partner:   partner,
			}, nil
		}
		return &JoinResult{Outcome: OutcomeAlreadyInQueue, SessionID: open.ID}, nil
	}

	candidates, err := s.repo.MatchCandidates(ctx, agentID, matchScanLimit)
	if err != nil {
		return nil, fmt.Errorf("scan queue: %w", err)
	}

	for _, cand := range candidates {
		claimed, err := s.repo.ClaimWaitingSession(ctx, cand.SessionID, agentID)
		if err != nil {
			return nil, fmt.Errorf("claim waiting session: %w", err)
		}
		if !claimed {
			// Lost the race for this candidate; try the next oldest.
			continue
		}

		if err := s.repo.RemoveQueueEntry(ctx, cand.AgentID); err != nil {
			slog.Warn("Failed to remove matched queue entry",
				"error", err, "agent_id", cand.AgentID)
		}

		partner, err := s.identity(ctx, cand.AgentID)
		if err != nil {
			return nil, err
		}
		joiner, err := s.identity(ctx, agentID)
		if err != nil {
			return nil, err
		}

		ev := domain.Event{
			Type:      domain.EventMatch,
			SessionID: cand.SessionID,
		}
		if partner != nil && joiner != nil {
			ev.Agents = []domain.Identity{*partner, *joiner}
		}
		s.hub.Broadcast(cand.SessionID, ev)

		slog.Info("Agents matched",
			"session_id", cand.SessionID,
			"agent_id", agentID,
			"partner_id", cand.AgentID)

		return &JoinResult{
			Outcome:   OutcomeMatched,
			SessionID: cand.SessionID,
			Partner:   partner,
		}, nil
	}

	session, err := s.startWaiting(ctx, agentID, time.Now())
	if err != nil {
		return nil, err
	}

	slog.Info("Agent queued", "session_id", session.ID, "agent_id", agentID)
	return &JoinResult{Outcome: OutcomeWaiting, SessionID: session.ID}, nil
}

// PairWith claims a specific waiting session for the given agent. It is the
// targeted variant of Join used by the bot fill-in scheduler, sharing the
// same atomic claim. Returns false when the agent is busy or the session is
// no longer an unmatched wait.
func (s *Service) PairWith(ctx context.Context, agentID, sessionID string) (bool, error) {
	open, err := s.repo.OpenSessionForAgent(ctx, agentID)
	if err != nil {
		return false, fmt.Errorf("look up open session: %w", err)
	}
	if open != nil {
		return false, nil
	}

	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("look up session: %w", err)
	}
	if session == nil || session.Status != domain.StatusWaiting {
		return false, nil
	}

	claimed, err := s.repo.ClaimWaitingSession(ctx, sessionID, agentID)
	if err != nil {
		return false, fmt.Errorf("claim waiting session: %w", err)
	}
	if !claimed {
		return false, nil
	}

	if err := s.repo.RemoveQueueEntry(ctx, session.Agent1ID); err != nil {
		slog.Warn("Failed to remove matched queue entry",
			"error", err, "agent_id", session.Agent1ID)
	}

	waiter, err := s.identity(ctx, session.Agent1ID)
	if err != nil {
		return true, err
	}
	joiner, err := s.identity(ctx, agentID)
	if err != nil {
		return true, err
	}

	ev := domain.Event{Type: domain.EventMatch, SessionID: sessionID}
	if waiter != nil && joiner != nil {
		ev.Agents = []domain.Identity{*waiter, *joiner}
	}
	s.hub.Broadcast(sessionID, ev)

	slog.Info("Agents matched",
		"session_id", sessionID,
		"agent_id", agentID,
		"partner_id", session.Agent1ID)
	return true, nil
}

// SessionView is the agent-facing view of its current session.
type SessionView struct {
	SessionID string               `json:"session_id"`
	Status    domain.SessionStatus `json:"status"`
	Partner   *domain.Identity     `json:"partner,omitempty"`
}

// ActiveSession returns the agent's waiting or active session with the
// partner's public identity. Returns nil, nil when the agent has no open
// session; that is not an error condition.
func (s *Service) ActiveSession(ctx context.Context, agentID string) (*SessionView, error) {
	open, err := s.repo.OpenSessionForAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("look up open session: %w", err)
	}
	if open == nil {
		return nil, nil
	}

	view := &SessionView{SessionID: open.ID, Status: open.Status}
	if partnerID := open.PartnerOf(agentID); partnerID != "" {
		partner, err := s.identity(ctx, partnerID)
		if err != nil {
			return nil, err
		}
		view.Partner = partner
	}
	return view, nil
}

// Disconnect ends the agent's current session and removes it from the
// queue. An abandoned partner is immediately re-enqueued with a fresh
// waiting session. Disconnecting while idle is a no-op success.
func (s *Service) Disconnect(ctx context.Context, agentID string) error {
	now := time.Now()

	open, err := s.repo.OpenSessionForAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("look up open session: %w", err)
	}

	if open != nil {
		switch open.Status {
		case domain.StatusActive:
			if err := s.repo.EndSession(ctx, open.ID, now); err != nil {
				return fmt.Errorf("end session: %w", err)
			}

			name := ""
			if agent, err := s.repo.GetAgent(ctx, agentID); err == nil && agent != nil {
				name = agent.Name
			}
			s.hub.Broadcast(open.ID, domain.Event{
				Type:      domain.EventDisconnect,
				SessionID: open.ID,
				AgentName: name,
			})

			if partnerID := open.PartnerOf(agentID); partnerID != "" {
				if _, err := s.startWaiting(ctx, partnerID, now); err != nil {
					slog.Error("Failed to requeue abandoned partner",
						"error", err, "agent_id", partnerID)
				} else {
					slog.Info("Requeued abandoned partner",
						"agent_id", partnerID, "ended_session", open.ID)
				}
			}

		case domain.StatusWaiting:
			// Self-cleanup of the agent's own pending wait.
			if open.Agent1ID == agentID && open.Agent2ID == "" {
				if err := s.repo.EndSession(ctx, open.ID, now); err != nil {
					return fmt.Errorf("end waiting session: %w", err)
				}
			}
		}
	}

	if err := s.repo.RemoveQueueEntry(ctx, agentID); err != nil {
		return fmt.Errorf("remove queue entry: %w", err)
	}
	return nil
}

// Send validates and persists a chat line, notifies the counterpart's
// webhook, and broadcasts the message to spectators.
func (s *Service) Send(ctx context.Context, agentID, content string) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, &ValidationError{Code: "empty_message"}
	}

	open, err := s.repo.OpenSessionForAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("look up open session: %w", err)
	}
	if open == nil || open.Status != domain.StatusActive {
		return nil, &StateError{Code: "no_active_session"}
	}

	msg := &domain.Message{
		ID:        uuid.NewString(),
		SessionID: open.ID,
		SenderID:  agentID,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	senderName := ""
	if sender, err := s.repo.GetAgent(ctx, agentID); err == nil && sender != nil {
		senderName = sender.Name
	}

	if counterpartID := open.PartnerOf(agentID); counterpartID != "" {
		counterpart, err := s.repo.GetAgent(ctx, counterpartID)
		if err != nil {
			slog.Warn("Failed to look up counterpart for webhook",
				"error", err, "agent_id", counterpartID)
		} else if counterpart != nil && counterpart.WebhookURL != "" {
			s.notifier.MessageReceived(counterpart.WebhookURL, msg, senderName)
		}
	}

	s.hub.Broadcast(open.ID, domain.Event{
		Type:      domain.EventMessage,
		SessionID: open.ID,
		Message: &domain.MessageView{
			ID:        msg.ID,
			From:      senderName,
			Content:   msg.Content,
			Timestamp: msg.CreatedAt.UnixMilli(),
		},
	})

	return msg, nil
}

// Messages returns the agent's session messages created after since,
// oldest first. A zero since returns the full conversation.
func (s *Service) Messages(ctx context.Context, agentID string, since time.Time) ([]*domain.Message, error) {
	open, err := s.repo.OpenSessionForAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("look up open session: %w", err)
	}
	if open == nil {
		return nil, &StateError{Code: "no_session"}
	}

	msgs, err := s.repo.ListMessages(ctx, open.ID, since)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// LiveSession is the public view of one active pairing.
type LiveSession struct {
	SessionID  string               `json:"session_id"`
	Agents     []domain.Identity    `json:"agents"`
	StartedAt  int64                `json:"started_at"`
	Spectators int                  `json:"spectators"`
	Messages   []domain.MessageView `json:"messages"`
}

const (
	liveSessionLimit  = 5
	liveMessageWindow = 20
)

// LiveSessions returns the most recent active sessions with their trailing
// messages and current spectator counts.
func (s *Service) LiveSessions(ctx context.Context) ([]*LiveSession, error) {
	sessions, err := s.repo.ListActiveSessions(ctx, liveSessionLimit)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}

	live := make([]*LiveSession, 0, len(sessions))
	for _, session := range sessions {
		names := make(map[string]string, 2)
		var agents []domain.Identity
		for _, id := range []string{session.Agent1ID, session.Agent2ID} {
			if id == "" {
				continue
			}
			identity, err := s.identity(ctx, id)
			if err != nil {
				return nil, err
			}
			if identity != nil {
				agents = append(agents, *identity)
				names[id] = identity.Name
			}
		}

		msgs, err := s.repo.ListMessages(ctx, session.ID, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		if len(msgs) > liveMessageWindow {
			msgs = msgs[len(msgs)-liveMessageWindow:]
		}

		views := make([]domain.MessageView, 0, len(msgs))
		for _, msg := range msgs {
			views = append(views, domain.MessageView{
				ID:        msg.ID,
				From:      names[msg.SenderID],
				Content:   msg.Content,
				Timestamp: msg.CreatedAt.UnixMilli(),
			})
		}

		live = append(live, &LiveSession{
			SessionID:  session.ID,
			Agents:     agents,
			StartedAt:  session.CreatedAt.UnixMilli(),
			Spectators: s.hub.Count(session.ID),
			Messages:   views,
		})
	}
	return live, nil
}

// startWaiting creates a fresh waiting session and queue entry for the
// agent. Shared by Join and the partner requeue on disconnect.
func (s *Service) startWaiting(ctx context.Context, agentID string, now time.Time) (*domain.Session, error) {
	session := &domain.Session{
		ID:        uuid.NewString(),
		Agent1ID:  agentID,
		Status:    domain.StatusWaiting,
		CreatedAt: now,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create waiting session: %w", err)
	}
	if err := s.repo.Enqueue(ctx, agentID, now); err != nil {
		return nil, fmt.Errorf("enqueue agent: %w", err)
	}
	return session, nil
}

func (s *Service) identity(ctx context.Context, agentID string) (*domain.Identity, error) {
	if agentID == "" {
		return nil, nil
	}
	agent, err := s.repo.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("look up agent: %w", err)
	}
	if agent == nil {
		return nil, nil
	}
	identity := agent.Identity()
	return &identity, nil
}
