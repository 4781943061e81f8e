// Package hub implements the spectator broadcast fan-out over WebSocket.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/agent-roulette/internal/domain"
)

// GlobalScope subscribers receive every event regardless of session.
const GlobalScope = "global"

const writeTimeout = 5 * time.Second

// transport abstracts the underlying WebSocket connection so fan-out and
// heartbeat logic can be tested without a live socket.
type transport interface {
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close(reason string) error
}

// subscriber is one live spectator connection bound to a scope.
type subscriber struct {
	scope string
	t     transport

	mu    sync.Mutex
	alive bool
}

func (s *subscriber) isAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

func (s *subscriber) setAlive(v bool) {
	s.mu.Lock()
	s.alive = v
	s.mu.Unlock()
}

// Hub owns the per-process spectator subscriber sets. Events are delivered
// best-effort and never persisted.
type Hub struct {
	pingInterval time.Duration

	mu     sync.RWMutex
	scopes map[string]map[*subscriber]struct{}
}

// New creates a hub with the given heartbeat interval.
func New(pingInterval time.Duration) *Hub {
	return &Hub{
		pingInterval: pingInterval,
		scopes:       make(map[string]map[*subscriber]struct{}),
	}
}

func (h *Hub) add(scope string, t transport) *subscriber {
	sub := &subscriber{scope: scope, t: t, alive: true}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.scopes[scope]; !ok {
		h.scopes[scope] = make(map[*subscriber]struct{})
	}
	h.scopes[scope][sub] = struct{}{}

	slog.Info("Spectator subscribed", "scope", scope)
	return sub
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.scopes[sub.scope]; ok {
		if _, exists := subs[sub]; exists {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.scopes, sub.scope)
			}
			slog.Info("Spectator unsubscribed", "scope", sub.scope)
		}
	}
}

// Count returns the number of live subscribers bound to the exact scope.
func (h *Hub) Count(scope string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.scopes[scope])
}

// Broadcast delivers an event to all subscribers of the session plus all
// global subscribers. A connection that is not currently writable is
// skipped, not queued or retried.
func (h *Hub) Broadcast(sessionID string, ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to encode spectator event", "error", err, "type", ev.Type)
		return
	}

	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.scopes[sessionID])+len(h.scopes[GlobalScope]))
	for sub := range h.scopes[sessionID] {
		targets = append(targets, sub)
	}
	if sessionID != GlobalScope {
		for sub := range h.scopes[GlobalScope] {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := sub.t.Write(ctx, data); err != nil {
			slog.Debug("Skipped unwritable spectator connection",
				"error", err, "scope", sub.scope)
		}
		cancel()
	}
}

// StartHeartbeat runs the liveness loop: each tick, connections still marked
// dead from the previous tick are closed, then all remaining connections are
// marked dead and pinged. A pong flips the mark back before the next tick,
// so one missed window is tolerated.
func (h *Hub) StartHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(h.pingInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Spectator heartbeat started", "interval", h.pingInterval)

		for {
			select {
			case <-ticker.C:
				h.sweep(ctx)
			case <-ctx.Done():
				slog.Info("Spectator heartbeat shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (h *Hub) sweep(ctx context.Context) {
	h.mu.RLock()
	subs := make([]*subscriber, 0)
	for _, set := range h.scopes {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if !sub.isAlive() {
			if err := sub.t.Close("heartbeat timeout"); err != nil {
				slog.Debug("Failed to close dead spectator connection", "error", err)
			}
			h.remove(sub)
			continue
		}

		sub.setAlive(false)
		go func(sub *subscriber) {
			pingCtx, cancel := context.WithTimeout(ctx, h.pingInterval)
			defer cancel()
			if err := sub.t.Ping(pingCtx); err == nil {
				sub.setAlive(true)
			}
		}(sub)
	}
}
