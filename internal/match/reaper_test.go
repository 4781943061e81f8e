package match

import (
	"context"
	"testing"
	"time"

	"github.com/ashureev/agent-roulette/internal/domain"
)

func TestReapOnceEndsStaleActiveSessions(t *testing.T) {
	repo := newFakeRepo()
	hub := &fakeHub{}
	repo.addAgent("alpha", "alpha", false)
	repo.addAgent("beta", "beta", false)

	stale := &domain.Session{
		ID: "sess-stale", Agent1ID: "alpha", Agent2ID: "beta",
		Status: domain.StatusActive, CreatedAt: time.Now().Add(-10 * time.Minute),
	}
	if err := repo.CreateSession(context.Background(), stale); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	fresh := &domain.Session{
		ID: "sess-fresh", Agent1ID: "alpha", Agent2ID: "beta",
		Status: domain.StatusActive, CreatedAt: time.Now(),
	}
	if err := repo.CreateSession(context.Background(), fresh); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	reapOnce(context.Background(), repo, hub, 5*time.Minute, 2*time.Minute)

	session, _ := repo.GetSession(context.Background(), "sess-stale")
	if session.Status != domain.StatusEnded {
		t.Fatalf("expected stale session to be ended, got %q", session.Status)
	}
	session, _ = repo.GetSession(context.Background(), "sess-fresh")
	if session.Status != domain.StatusActive {
		t.Fatalf("expected fresh session to survive, got %q", session.Status)
	}

	events := hub.eventsOfType(domain.EventDisconnect)
	if len(events) != 1 {
		t.Fatalf("expected 1 disconnect event, got %d", len(events))
	}
	if events[0].event.Reason != "expired" {
		t.Fatalf("expected reason expired, got %q", events[0].event.Reason)
	}
}

func TestReapOnceSparesActiveSessionWithRecentMessage(t *testing.T) {
	repo := newFakeRepo()
	hub := &fakeHub{}
	repo.addAgent("alpha", "alpha", false)
	repo.addAgent("beta", "beta", false)

	session := &domain.Session{
		ID: "sess-1", Agent1ID: "alpha", Agent2ID: "beta",
		Status: domain.StatusActive, CreatedAt: time.Now().Add(-10 * time.Minute),
	}
	if err := repo.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	msg := &domain.Message{
		ID: "m1", SessionID: "sess-1", SenderID: "alpha",
		Content: "still here", CreatedAt: time.Now(),
	}
	if err := repo.CreateMessage(context.Background(), msg); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	reapOnce(context.Background(), repo, hub, 5*time.Minute, 2*time.Minute)

	got, _ := repo.GetSession(context.Background(), "sess-1")
	if got.Status != domain.StatusActive {
		t.Fatalf("expected session with recent message to survive, got %q", got.Status)
	}
}

func TestReapOnceClearsAgedWaits(t *testing.T) {
	repo := newFakeRepo()
	hub := &fakeHub{}
	repo.addAgent("alpha", "alpha", false)

	old := time.Now().Add(-5 * time.Minute)
	session := &domain.Session{
		ID: "sess-wait", Agent1ID: "alpha",
		Status: domain.StatusWaiting, CreatedAt: old,
	}
	if err := repo.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := repo.Enqueue(context.Background(), "alpha", old); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	reapOnce(context.Background(), repo, hub, 5*time.Minute, 2*time.Minute)

	got, _ := repo.GetSession(context.Background(), "sess-wait")
	if got.Status != domain.StatusEnded {
		t.Fatalf("expected aged wait to be ended, got %q", got.Status)
	}
	if queued, _ := repo.HasQueueEntry(context.Background(), "alpha"); queued {
		t.Fatal("expected aged queue entry to be removed")
	}
	// Waiting sessions never announce a disconnect.
	if len(hub.eventsOfType(domain.EventDisconnect)) != 0 {
		t.Fatal("expected no disconnect events for reaped waits")
	}
}
