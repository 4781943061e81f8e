package bots

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/ashureev/agent-roulette/internal/config"
	"github.com/ashureev/agent-roulette/internal/domain"
)

// historyWindow caps the conversation history handed to the responder.
const historyWindow = 10

// ChatService is the subset of the matchmaking service the scheduler uses.
// Bots pair and speak through the same operations as real agents.
type ChatService interface {
	PairWith(ctx context.Context, agentID, sessionID string) (bool, error)
	Send(ctx context.Context, agentID, content string) (*domain.Message, error)
}

// SchedulerStore is the subset of the repository the scheduler reads from.
type SchedulerStore interface {
	OldestWaitingNonBot(ctx context.Context, minWait time.Duration) (*domain.MatchCandidate, error)
	AvailableBots(ctx context.Context) ([]*domain.Agent, error)
	ActiveBotSessions(ctx context.Context) ([]*domain.Session, error)
	LatestMessage(ctx context.Context, sessionID string) (*domain.Message, error)
	ListMessages(ctx context.Context, sessionID string, since time.Time) ([]*domain.Message, error)
}

// Scheduler opportunistically pairs long-waiting real agents with idle
// house bots and drives their delayed, in-character replies.
type Scheduler struct {
	repo          SchedulerStore
	svc           ChatService
	responder     Responder // nil means canned responses only
	cfg           config.BotConfig
	personalities map[string]Personality // keyed by bot agent id
}

// NewScheduler creates a new fill-in scheduler.
func NewScheduler(repo SchedulerStore, svc ChatService, responder Responder, cfg config.BotConfig, personalities map[string]Personality) *Scheduler {
	return &Scheduler{
		repo:          repo,
		svc:           svc,
		responder:     responder,
		cfg:           cfg,
		personalities: personalities,
	}
}

// Start runs the scheduler loop until the context is cancelled. Each tick
// runs the fill-in pass and the response pass; per-tick errors are logged
// and never stop the loop.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Bot scheduler started",
			"interval", s.cfg.Interval,
			"min_wait", s.cfg.MinWait,
			"bots", len(s.personalities))

		for {
			select {
			case <-ticker.C:
				s.fillIn(ctx)
				s.respond(ctx)
			case <-ctx.Done():
				slog.Info("Bot scheduler shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// fillIn pairs the single oldest long-waiting non-bot agent with one
// uniformly random available bot. If either is missing, the tick does
// nothing.
func (s *Scheduler) fillIn(ctx context.Context) {
	cand, err := s.repo.OldestWaitingNonBot(ctx, s.cfg.MinWait)
	if err != nil {
		slog.Error("Bot scheduler failed to query waiting agents", "error", err)
		return
	}
	if cand == nil {
		return
	}

	available, err := s.repo.AvailableBots(ctx)
	if err != nil {
		slog.Error("Bot scheduler failed to query available bots", "error", err)
		return
	}
	if len(available) == 0 {
		return
	}

	bot := available[rand.IntN(len(available))]

	paired, err := s.svc.PairWith(ctx, bot.ID, cand.SessionID)
	if err != nil {
		slog.Error("Bot scheduler failed to pair",
			"error", err, "bot_id", bot.ID, "session_id", cand.SessionID)
		return
	}
	if !paired {
		return
	}

	slog.Info("Bot filled in",
		"bot_id", bot.ID, "session_id", cand.SessionID, "waited_for", cand.AgentID)
	s.scheduleOpener(ctx, bot.ID)
}

// scheduleOpener sends a random opener after a uniform random delay.
func (s *Scheduler) scheduleOpener(ctx context.Context, botID string) {
	p, ok := s.personalities[botID]
	if !ok || len(p.Openers) == 0 {
		return
	}

	line := p.Openers[rand.IntN(len(p.Openers))]
	delay := s.cfg.OpenerDelayMin
	if spread := s.cfg.OpenerDelayMax - s.cfg.OpenerDelayMin; spread > 0 {
		delay += rand.N(spread)
	}

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := s.svc.Send(ctx, botID, line); err != nil {
			// The session may have ended while the opener was pending.
			slog.Debug("Bot opener not delivered", "error", err, "bot_id", botID)
		}
	}()
}

// respond scans active bot sessions and replies where the counterpart's
// latest message falls inside the responsiveness window. Messages already
// answered or older than the window are skipped, preventing double and
// stale replies.
func (s *Scheduler) respond(ctx context.Context) {
	sessions, err := s.repo.ActiveBotSessions(ctx)
	if err != nil {
		slog.Error("Bot scheduler failed to query bot sessions", "error", err)
		return
	}

	for _, session := range sessions {
		botID := s.botParticipant(session)
		if botID == "" {
			continue
		}

		latest, err := s.repo.LatestMessage(ctx, session.ID)
		if err != nil {
			slog.Error("Bot scheduler failed to read latest message",
				"error", err, "session_id", session.ID)
			continue
		}
		if latest == nil || latest.SenderID == botID {
			continue
		}

		elapsed := time.Since(latest.CreatedAt)
		if elapsed < s.cfg.ReplyAfter || elapsed > s.cfg.ReplyWindow {
			continue
		}

		reply := s.generate(ctx, botID, session.ID)
		if reply == "" {
			continue
		}
		if _, err := s.svc.Send(ctx, botID, reply); err != nil {
			slog.Warn("Bot reply not delivered",
				"error", err, "bot_id", botID, "session_id", session.ID)
		}
	}
}

func (s *Scheduler) botParticipant(session *domain.Session) string {
	if _, ok := s.personalities[session.Agent1ID]; ok {
		return session.Agent1ID
	}
	if _, ok := s.personalities[session.Agent2ID]; ok {
		return session.Agent2ID
	}
	return ""
}

// generate produces a reply via the generative responder, falling back to
// a uniformly random canned line when the responder is absent or fails.
func (s *Scheduler) generate(ctx context.Context, botID, sessionID string) string {
	p, ok := s.personalities[botID]
	if !ok || len(p.Responses) == 0 {
		return ""
	}
	fallback := p.Responses[rand.IntN(len(p.Responses))]

	if s.responder == nil {
		return fallback
	}

	msgs, err := s.repo.ListMessages(ctx, sessionID, time.Time{})
	if err != nil {
		slog.Warn("Bot scheduler failed to load history, using canned reply",
			"error", err, "session_id", sessionID)
		return fallback
	}
	if len(msgs) > historyWindow {
		msgs = msgs[len(msgs)-historyWindow:]
	}

	history := make([]Turn, 0, len(msgs))
	for _, msg := range msgs {
		history = append(history, Turn{
			FromBot: msg.SenderID == botID,
			Content: msg.Content,
		})
	}

	replyCtx, cancel := context.WithTimeout(ctx, s.cfg.ReplyTimeout)
	defer cancel()

	out, err := s.responder.Reply(replyCtx, p.Style, history)
	if err != nil {
		slog.Warn("Generative reply failed, using canned reply",
			"error", err, "bot_id", botID, "session_id", sessionID)
		return fallback
	}
	return out
}
