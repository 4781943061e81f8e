package match

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/agent-roulette/internal/domain"
)

type fakeRepo struct {
	mu         sync.Mutex
	agents     map[string]*domain.Agent
	sessions   map[string]*domain.Session
	sessionSeq []string
	queue      map[string]time.Time
	queueSeq   []string
	messages   []*domain.Message
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		agents:   make(map[string]*domain.Agent),
		sessions: make(map[string]*domain.Session),
		queue:    make(map[string]time.Time),
	}
}

func (f *fakeRepo) addAgent(id, name string, isBot bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agents[id] = &domain.Agent{
		ID: id, Name: name, Claimed: true, IsBot: isBot, CreatedAt: time.Now(),
	}
}

func (f *fakeRepo) CreateAgent(_ context.Context, agent *domain.Agent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.agents {
		if a.Name == agent.Name {
			return errors.New("agent name already taken")
		}
	}
	copy := *agent
	f.agents[agent.ID] = &copy
	return nil
}

func (f *fakeRepo) GetAgent(_ context.Context, id string) (*domain.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	agent := f.agents[id]
	if agent == nil {
		return nil, nil
	}
	copy := *agent
	return &copy, nil
}

func (f *fakeRepo) GetAgentByToken(_ context.Context, token string) (*domain.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.agents {
		if a.Token == token {
			copy := *a
			return &copy, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) GetAgentByClaimToken(_ context.Context, claimToken string) (*domain.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.agents {
		if a.ClaimToken == claimToken {
			copy := *a
			return &copy, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ClaimAgent(_ context.Context, id, ownerHandle string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	agent := f.agents[id]
	if agent == nil || agent.Claimed {
		return false, nil
	}
	agent.Claimed = true
	agent.OwnerHandle = ownerHandle
	return true, nil
}

func (f *fakeRepo) UpdateAgentAvatar(_ context.Context, id, avatarURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if agent := f.agents[id]; agent != nil {
		agent.AvatarURL = avatarURL
	}
	return nil
}

func (f *fakeRepo) UpdateAgentWebhook(_ context.Context, id, webhookURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if agent := f.agents[id]; agent != nil {
		agent.WebhookURL = webhookURL
	}
	return nil
}

func (f *fakeRepo) CreateSession(_ context.Context, session *domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := *session
	f.sessions[session.ID] = &copy
	f.sessionSeq = append(f.sessionSeq, session.ID)
	return nil
}

func (f *fakeRepo) GetSession(_ context.Context, id string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session := f.sessions[id]
	if session == nil {
		return nil, nil
	}
	copy := *session
	return &copy, nil
}

func (f *fakeRepo) OpenSessionForAgent(_ context.Context, agentID string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Most recent first, matching the store's ORDER BY created_at DESC.
	for i := len(f.sessionSeq) - 1; i >= 0; i-- {
		session := f.sessions[f.sessionSeq[i]]
		if session.IsOpen() && session.HasParticipant(agentID) {
			copy := *session
			return &copy, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ClaimWaitingSession(_ context.Context, sessionID, agentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session := f.sessions[sessionID]
	if session == nil || session.Status != domain.StatusWaiting || session.Agent2ID != "" {
		return false, nil
	}
	session.Agent2ID = agentID
	session.Status = domain.StatusActive
	return true, nil
}

func (f *fakeRepo) EndSession(_ context.Context, sessionID string, endedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session := f.sessions[sessionID]
	if session != nil && session.Status != domain.StatusEnded {
		session.Status = domain.StatusEnded
		t := endedAt
		session.EndedAt = &t
	}
	return nil
}

func (f *fakeRepo) ListActiveSessions(_ context.Context, limit int) ([]*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Session
	for i := len(f.sessionSeq) - 1; i >= 0 && len(out) < limit; i-- {
		session := f.sessions[f.sessionSeq[i]]
		if session.Status == domain.StatusActive {
			copy := *session
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (f *fakeRepo) StaleActiveSessions(_ context.Context, window time.Duration) ([]*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-window)
	var out []*domain.Session
	for _, id := range f.sessionSeq {
		session := f.sessions[id]
		if session.Status != domain.StatusActive || !session.CreatedAt.Before(cutoff) {
			continue
		}
		recent := false
		for _, msg := range f.messages {
			if msg.SessionID == session.ID && msg.CreatedAt.After(cutoff) {
				recent = true
				break
			}
		}
		if !recent {
			copy := *session
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (f *fakeRepo) StaleWaitingSessions(_ context.Context, maxAge time.Duration) ([]*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	var out []*domain.Session
	for _, id := range f.sessionSeq {
		session := f.sessions[id]
		if session.Status == domain.StatusWaiting && session.CreatedAt.Before(cutoff) {
			copy := *session
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (f *fakeRepo) ActiveBotSessions(_ context.Context) ([]*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Session
	for _, id := range f.sessionSeq {
		session := f.sessions[id]
		if session.Status != domain.StatusActive {
			continue
		}
		for _, pid := range []string{session.Agent1ID, session.Agent2ID} {
			if a := f.agents[pid]; a != nil && a.IsBot {
				copy := *session
				out = append(out, &copy)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeRepo) Enqueue(_ context.Context, agentID string, joinedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.queue[agentID]; ok {
		return nil
	}
	f.queue[agentID] = joinedAt
	f.queueSeq = append(f.queueSeq, agentID)
	return nil
}

func (f *fakeRepo) RemoveQueueEntry(_ context.Context, agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.queue, agentID)
	return nil
}

func (f *fakeRepo) HasQueueEntry(_ context.Context, agentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.queue[agentID]
	return ok, nil
}

func (f *fakeRepo) orderedQueue() []string {
	ids := make([]string, 0, len(f.queue))
	for _, id := range f.queueSeq {
		if _, ok := f.queue[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.SliceStable(ids, func(i, j int) bool {
		return f.queue[ids[i]].Before(f.queue[ids[j]])
	})
	return ids
}

func (f *fakeRepo) MatchCandidates(_ context.Context, excludeAgentID string, limit int) ([]*domain.MatchCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.MatchCandidate
	for _, agentID := range f.orderedQueue() {
		if agentID == excludeAgentID || len(out) >= limit {
			continue
		}
		for _, sid := range f.sessionSeq {
			session := f.sessions[sid]
			if session.Status == domain.StatusWaiting && session.Agent1ID == agentID {
				out = append(out, &domain.MatchCandidate{
					SessionID: session.ID,
					AgentID:   agentID,
					JoinedAt:  f.queue[agentID],
				})
				break
			}
		}
	}
	return out, nil
}

func (f *fakeRepo) OldestWaitingNonBot(_ context.Context, minWait time.Duration) (*domain.MatchCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-minWait)
	for _, agentID := range f.orderedQueue() {
		agent := f.agents[agentID]
		if agent == nil || agent.IsBot || f.queue[agentID].After(cutoff) {
			continue
		}
		for _, sid := range f.sessionSeq {
			session := f.sessions[sid]
			if session.Status == domain.StatusWaiting && session.Agent1ID == agentID {
				return &domain.MatchCandidate{
					SessionID: session.ID,
					AgentID:   agentID,
					JoinedAt:  f.queue[agentID],
				}, nil
			}
		}
	}
	return nil, nil
}

func (f *fakeRepo) AvailableBots(_ context.Context) ([]*domain.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Agent
	for _, agent := range f.agents {
		if !agent.IsBot {
			continue
		}
		busy := false
		for _, sid := range f.sessionSeq {
			session := f.sessions[sid]
			if session.IsOpen() && session.HasParticipant(agent.ID) {
				busy = true
				break
			}
		}
		if !busy {
			copy := *agent
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) ReapQueue(_ context.Context, maxAge time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	var n int64
	for agentID, joinedAt := range f.queue {
		if joinedAt.Before(cutoff) {
			delete(f.queue, agentID)
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) CreateMessage(_ context.Context, msg *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := *msg
	f.messages = append(f.messages, &copy)
	return nil
}

func (f *fakeRepo) ListMessages(_ context.Context, sessionID string, since time.Time) ([]*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Message
	for _, msg := range f.messages {
		if msg.SessionID != sessionID {
			continue
		}
		if !since.IsZero() && !msg.CreatedAt.After(since) {
			continue
		}
		copy := *msg
		out = append(out, &copy)
	}
	return out, nil
}

func (f *fakeRepo) LatestMessage(_ context.Context, sessionID string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.messages) - 1; i >= 0; i-- {
		if f.messages[i].SessionID == sessionID {
			copy := *f.messages[i]
			return &copy, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) Stats(_ context.Context) (*domain.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &domain.Stats{Agents: int64(len(f.agents)), WaitingAgents: int64(len(f.queue))}
	for _, a := range f.agents {
		if a.IsBot {
			stats.Bots++
		}
	}
	for _, s := range f.sessions {
		if s.Status == domain.StatusActive {
			stats.ActiveSessions++
		}
	}
	return stats, nil
}

func (f *fakeRepo) Ping(_ context.Context) error { return nil }
func (f *fakeRepo) Close() error                 { return nil }

type broadcastCall struct {
	sessionID string
	event     domain.Event
}

type fakeHub struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (f *fakeHub) Broadcast(sessionID string, ev domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, broadcastCall{sessionID: sessionID, event: ev})
}

func (f *fakeHub) Count(string) int { return 0 }

func (f *fakeHub) eventsOfType(t domain.EventType) []broadcastCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []broadcastCall
	for _, c := range f.calls {
		if c.event.Type == t {
			out = append(out, c)
		}
	}
	return out
}

type notifyCall struct {
	webhookURL string
	content    string
	fromName   string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (f *fakeNotifier) MessageReceived(webhookURL string, msg *domain.Message, fromName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notifyCall{
		webhookURL: webhookURL, content: msg.Content, fromName: fromName,
	})
}

func newTestService() (*Service, *fakeRepo, *fakeHub, *fakeNotifier) {
	repo := newFakeRepo()
	hub := &fakeHub{}
	notifier := &fakeNotifier{}
	return NewService(repo, hub, notifier), repo, hub, notifier
}

func TestJoinQueuesFirstAgent(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.addAgent("alpha", "alpha", false)

	result, err := svc.Join(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if result.Outcome != OutcomeWaiting {
		t.Fatalf("expected waiting outcome, got %q", result.Outcome)
	}
	if result.SessionID == "" {
		t.Fatal("expected a session id")
	}

	queued, _ := repo.HasQueueEntry(context.Background(), "alpha")
	if !queued {
		t.Fatal("expected alpha to be queued")
	}
}

func TestJoinMatchesWaitingAgent(t *testing.T) {
	svc, repo, hub, _ := newTestService()
	repo.addAgent("alpha", "alpha", false)
	repo.addAgent("beta", "beta", false)

	first, err := svc.Join(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("first Join failed: %v", err)
	}

	second, err := svc.Join(context.Background(), "beta")
	if err != nil {
		t.Fatalf("second Join failed: %v", err)
	}
	if second.Outcome != OutcomeMatched {
		t.Fatalf("expected matched outcome, got %q", second.Outcome)
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("expected beta to claim alpha's session %s, got %s",
			first.SessionID, second.SessionID)
	}
	if second.Partner == nil || second.Partner.Name != "alpha" {
		t.Fatalf("expected partner alpha, got %+v", second.Partner)
	}

	if queued, _ := repo.HasQueueEntry(context.Background(), "alpha"); queued {
		t.Fatal("expected alpha's queue entry to be removed after the match")
	}

	session, _ := repo.GetSession(context.Background(), first.SessionID)
	if session.Status != domain.StatusActive {
		t.Fatalf("expected session to be active, got %q", session.Status)
	}

	matches := hub.eventsOfType(domain.EventMatch)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match event, got %d", len(matches))
	}
	if len(matches[0].event.Agents) != 2 {
		t.Fatalf("expected 2 identities in match event, got %d", len(matches[0].event.Agents))
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.addAgent("alpha", "alpha", false)
	repo.addAgent("beta", "beta", false)

	if _, err := svc.Join(context.Background(), "alpha"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	again, err := svc.Join(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("repeat Join failed: %v", err)
	}
	if again.Outcome != OutcomeAlreadyInQueue {
		t.Fatalf("expected already_in_queue, got %q", again.Outcome)
	}

	if _, err := svc.Join(context.Background(), "beta"); err != nil {
		t.Fatalf("beta Join failed: %v", err)
	}

	inSession, err := svc.Join(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("Join after match failed: %v", err)
	}
	if inSession.Outcome != OutcomeAlreadyInSession {
		t.Fatalf("expected already_in_session, got %q", inSession.Outcome)
	}
	if inSession.Partner == nil || inSession.Partner.Name != "beta" {
		t.Fatalf("expected partner beta, got %+v", inSession.Partner)
	}
}

func TestJoinNeverSelfMatches(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.addAgent("alpha", "alpha", false)

	if _, err := svc.Join(context.Background(), "alpha"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := svc.Disconnect(context.Background(), "alpha"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	result, err := svc.Join(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("rejoin failed: %v", err)
	}
	if result.Outcome != OutcomeWaiting {
		t.Fatalf("expected a fresh wait, got %q", result.Outcome)
	}
}

func TestSendRoutesMessage(t *testing.T) {
	svc, repo, hub, notifier := newTestService()
	repo.addAgent("alpha", "alpha", false)
	repo.addAgent("beta", "beta", false)
	_ = repo.UpdateAgentWebhook(context.Background(), "beta", "https://beta.example/hook")

	if _, err := svc.Join(context.Background(), "alpha"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if _, err := svc.Join(context.Background(), "beta"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	msg, err := svc.Send(context.Background(), "alpha", "  hello there  ")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if msg.Content != "hello there" {
		t.Fatalf("expected trimmed content, got %q", msg.Content)
	}

	msgs, err := svc.Messages(context.Background(), "beta", time.Time{})
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello there" {
		t.Fatalf("expected beta to see the message, got %+v", msgs)
	}

	events := hub.eventsOfType(domain.EventMessage)
	if len(events) != 1 {
		t.Fatalf("expected 1 message event, got %d", len(events))
	}
	if events[0].event.Message == nil || events[0].event.Message.From != "alpha" {
		t.Fatalf("expected message event from alpha, got %+v", events[0].event.Message)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.calls) != 1 {
		t.Fatalf("expected 1 webhook delivery, got %d", len(notifier.calls))
	}
	if notifier.calls[0].webhookURL != "https://beta.example/hook" {
		t.Fatalf("expected delivery to beta's webhook, got %q", notifier.calls[0].webhookURL)
	}
	if notifier.calls[0].fromName != "alpha" {
		t.Fatalf("expected sender name alpha, got %q", notifier.calls[0].fromName)
	}
}

func TestSendValidation(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.addAgent("alpha", "alpha", false)

	var verr *ValidationError
	if _, err := svc.Send(context.Background(), "alpha", "   "); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for blank content, got %v", err)
	}

	var serr *StateError
	if _, err := svc.Send(context.Background(), "alpha", "hello"); !errors.As(err, &serr) {
		t.Fatalf("expected StateError when idle, got %v", err)
	}

	if _, err := svc.Join(context.Background(), "alpha"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if _, err := svc.Send(context.Background(), "alpha", "hello"); !errors.As(err, &serr) {
		t.Fatalf("expected StateError while waiting, got %v", err)
	}
}

func TestMessagesSinceFilter(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.addAgent("alpha", "alpha", false)
	repo.addAgent("beta", "beta", false)

	if _, err := svc.Join(context.Background(), "alpha"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if _, err := svc.Join(context.Background(), "beta"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	first, err := svc.Send(context.Background(), "alpha", "one")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := svc.Send(context.Background(), "beta", "two"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	msgs, err := svc.Messages(context.Background(), "alpha", first.CreatedAt)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "two" {
		t.Fatalf("expected only the newer message, got %+v", msgs)
	}
}

func TestMessagesWithoutSession(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.addAgent("alpha", "alpha", false)

	var serr *StateError
	if _, err := svc.Messages(context.Background(), "alpha", time.Time{}); !errors.As(err, &serr) {
		t.Fatalf("expected StateError without a session, got %v", err)
	}
}

func TestDisconnectRequeuesPartner(t *testing.T) {
	svc, repo, hub, _ := newTestService()
	repo.addAgent("alpha", "alpha", false)
	repo.addAgent("beta", "beta", false)

	if _, err := svc.Join(context.Background(), "alpha"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	matched, err := svc.Join(context.Background(), "beta")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	if err := svc.Disconnect(context.Background(), "alpha"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	session, _ := repo.GetSession(context.Background(), matched.SessionID)
	if session.Status != domain.StatusEnded {
		t.Fatalf("expected session to be ended, got %q", session.Status)
	}

	events := hub.eventsOfType(domain.EventDisconnect)
	if len(events) != 1 {
		t.Fatalf("expected 1 disconnect event, got %d", len(events))
	}
	if events[0].event.AgentName != "alpha" {
		t.Fatalf("expected disconnect to name alpha, got %q", events[0].event.AgentName)
	}

	// The abandoned partner is immediately queued again.
	view, err := svc.ActiveSession(context.Background(), "beta")
	if err != nil {
		t.Fatalf("ActiveSession failed: %v", err)
	}
	if view == nil || view.Status != domain.StatusWaiting {
		t.Fatalf("expected beta to be waiting again, got %+v", view)
	}
	if queued, _ := repo.HasQueueEntry(context.Background(), "beta"); !queued {
		t.Fatal("expected beta to be back in the queue")
	}
}

func TestDisconnectWhileIdleIsNoOp(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.addAgent("alpha", "alpha", false)

	if err := svc.Disconnect(context.Background(), "alpha"); err != nil {
		t.Fatalf("idle Disconnect should succeed, got %v", err)
	}
}

func TestDisconnectWhileWaiting(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.addAgent("alpha", "alpha", false)

	result, err := svc.Join(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := svc.Disconnect(context.Background(), "alpha"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	session, _ := repo.GetSession(context.Background(), result.SessionID)
	if session.Status != domain.StatusEnded {
		t.Fatalf("expected waiting session to be ended, got %q", session.Status)
	}
	if queued, _ := repo.HasQueueEntry(context.Background(), "alpha"); queued {
		t.Fatal("expected alpha to be out of the queue")
	}
}

func TestPairWithClaimsWaitingSession(t *testing.T) {
	svc, repo, hub, _ := newTestService()
	repo.addAgent("alpha", "alpha", false)
	repo.addAgent("bot_glitch", "glitch", true)

	result, err := svc.Join(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	paired, err := svc.PairWith(context.Background(), "bot_glitch", result.SessionID)
	if err != nil {
		t.Fatalf("PairWith failed: %v", err)
	}
	if !paired {
		t.Fatal("expected the bot to claim the waiting session")
	}

	session, _ := repo.GetSession(context.Background(), result.SessionID)
	if session.Status != domain.StatusActive || session.Agent2ID != "bot_glitch" {
		t.Fatalf("expected active session with bot, got %+v", session)
	}
	if len(hub.eventsOfType(domain.EventMatch)) != 1 {
		t.Fatal("expected a match event")
	}

	// A busy bot cannot claim a second session.
	repo.addAgent("gamma", "gamma", false)
	other, err := svc.Join(context.Background(), "gamma")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	paired, err = svc.PairWith(context.Background(), "bot_glitch", other.SessionID)
	if err != nil {
		t.Fatalf("PairWith failed: %v", err)
	}
	if paired {
		t.Fatal("expected a busy bot to be rejected")
	}
}

func TestPairWithRejectsNonWaitingSession(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.addAgent("alpha", "alpha", false)
	repo.addAgent("beta", "beta", false)
	repo.addAgent("bot_glitch", "glitch", true)

	result, err := svc.Join(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if _, err := svc.Join(context.Background(), "beta"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	paired, err := svc.PairWith(context.Background(), "bot_glitch", result.SessionID)
	if err != nil {
		t.Fatalf("PairWith failed: %v", err)
	}
	if paired {
		t.Fatal("expected claim of an active session to fail")
	}
}

func TestLiveSessions(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.addAgent("alpha", "alpha", false)
	repo.addAgent("beta", "beta", false)

	if _, err := svc.Join(context.Background(), "alpha"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if _, err := svc.Join(context.Background(), "beta"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if _, err := svc.Send(context.Background(), "alpha", "hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	live, err := svc.LiveSessions(context.Background())
	if err != nil {
		t.Fatalf("LiveSessions failed: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("expected 1 live session, got %d", len(live))
	}
	if len(live[0].Agents) != 2 {
		t.Fatalf("expected 2 identities, got %d", len(live[0].Agents))
	}
	if len(live[0].Messages) != 1 || live[0].Messages[0].From != "alpha" {
		t.Fatalf("expected alpha's message in the live view, got %+v", live[0].Messages)
	}
}
