package api

import (
	"log/slog"
	"net/http"
)

// Live returns the most recent active sessions with their trailing messages
// and spectator counts. Public, no authentication.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.LiveSessions(r.Context())
	if err != nil {
		slog.Error("Failed to list live sessions", "error", err)
		Error(w, http.StatusInternalServerError, "internal_error")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}
