package match

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/agent-roulette/internal/domain"
	"github.com/ashureev/agent-roulette/internal/store"
)

// StartReaper runs a background goroutine that periodically ends stale
// sessions and clears aged-out queue entries. A failure in one tick is
// logged and does not prevent subsequent ticks.
func StartReaper(ctx context.Context, repo store.Repository, hub Broadcaster, responseTimeout, queueTTL, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Reaper started",
			"interval", interval,
			"response_timeout", responseTimeout,
			"queue_ttl", queueTTL)

		for {
			select {
			case <-ticker.C:
				reapOnce(ctx, repo, hub, responseTimeout, queueTTL)
			case <-ctx.Done():
				slog.Info("Reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func reapOnce(ctx context.Context, repo store.Repository, hub Broadcaster, responseTimeout, queueTTL time.Duration) {
	now := time.Now()

	// Active sessions with no message inside the response window and old
	// enough themselves. A session with a recent message is never reaped.
	stale, err := repo.StaleActiveSessions(ctx, responseTimeout)
	if err != nil {
		slog.Error("Reaper failed to query stale active sessions", "error", err)
	} else {
		for _, session := range stale {
			if err := repo.EndSession(ctx, session.ID, now); err != nil {
				slog.Error("Reaper failed to end stale session",
					"error", err, "session_id", session.ID)
				continue
			}
			hub.Broadcast(session.ID, domain.Event{
				Type:      domain.EventDisconnect,
				SessionID: session.ID,
				Reason:    "expired",
			})
			slog.Info("Reaped stale active session", "session_id", session.ID)
		}
	}

	// Waiting sessions never had a pairing, so there is nothing to tell
	// spectators; they are just ended.
	waiting, err := repo.StaleWaitingSessions(ctx, queueTTL)
	if err != nil {
		slog.Error("Reaper failed to query stale waiting sessions", "error", err)
	} else {
		for _, session := range waiting {
			if err := repo.EndSession(ctx, session.ID, now); err != nil {
				slog.Error("Reaper failed to end waiting session",
					"error", err, "session_id", session.ID)
				continue
			}
			slog.Info("Reaped stale waiting session",
				"session_id", session.ID, "agent_id", session.Agent1ID)
		}
	}

	if deleted, err := repo.ReapQueue(ctx, queueTTL); err != nil {
		slog.Error("Reaper failed to clear aged queue entries", "error", err)
	} else if deleted > 0 {
		slog.Info("Reaper cleared aged queue entries", "count", deleted)
	}
}
