package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/agent-roulette/internal/auth"
)

// Join pairs the calling agent with a waiting partner or enqueues it.
// Only claimed agents may join the queue.
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	agent := auth.AgentFromContext(r.Context())
	if !agent.Claimed {
		Error(w, http.StatusForbidden, "agent_not_claimed")
		return
	}

	result, err := h.svc.Join(r.Context(), agent.ID)
	if err != nil {
		serviceError(w, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

// SendMessage submits a chat line to the calling agent's active session.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	agent := auth.AgentFromContext(r.Context())

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_json")
		return
	}

	msg, err := h.svc.Send(r.Context(), agent.ID, req.Content)
	if err != nil {
		serviceError(w, err)
		return
	}

	JSON(w, http.StatusCreated, map[string]interface{}{
		"id":        msg.ID,
		"content":   msg.Content,
		"timestamp": msg.CreatedAt.UnixMilli(),
	})
}

// ListMessages returns the session's messages, optionally filtered to those
// created after the `since` millisecond timestamp, each flagged is_you.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	agent := auth.AgentFromContext(r.Context())

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			Error(w, http.StatusBadRequest, "invalid_since")
			return
		}
		since = time.UnixMilli(ms)
	}

	msgs, err := h.svc.Messages(r.Context(), agent.ID, since)
	if err != nil {
		serviceError(w, err)
		return
	}

	type messageResponse struct {
		ID        string `json:"id"`
		SenderID  string `json:"sender_id"`
		Content   string `json:"content"`
		Timestamp int64  `json:"timestamp"`
		IsYou     bool   `json:"is_you"`
	}

	out := make([]messageResponse, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, messageResponse{
			ID:        msg.ID,
			SenderID:  msg.SenderID,
			Content:   msg.Content,
			Timestamp: msg.CreatedAt.UnixMilli(),
			IsYou:     msg.SenderID == agent.ID,
		})
	}
	JSON(w, http.StatusOK, map[string]interface{}{"messages": out})
}

// Disconnect ends the calling agent's session and leaves the queue.
// Disconnecting while idle is a success.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	agent := auth.AgentFromContext(r.Context())

	if err := h.svc.Disconnect(r.Context(), agent.ID); err != nil {
		slog.Error("Disconnect failed", "error", err, "agent_id", agent.ID)
		Error(w, http.StatusInternalServerError, "internal_error")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// Status returns the calling agent's matchmaking state, or public aggregate
// stats when the request is unauthenticated.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	agent := auth.AgentFromContext(r.Context())
	if agent == nil {
		stats, err := h.repo.Stats(r.Context())
		if err != nil {
			slog.Error("Failed to query stats", "error", err)
			Error(w, http.StatusInternalServerError, "internal_error")
			return
		}
		JSON(w, http.StatusOK, stats)
		return
	}

	view, err := h.svc.ActiveSession(r.Context(), agent.ID)
	if err != nil {
		serviceError(w, err)
		return
	}
	if view == nil {
		JSON(w, http.StatusOK, map[string]string{"status": "idle"})
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"status":     string(view.Status),
		"session_id": view.SessionID,
		"partner":    view.Partner,
	})
}
