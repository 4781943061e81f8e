// Package api provides HTTP handlers for the agent-roulette API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/agent-roulette/internal/auth"
	"github.com/ashureev/agent-roulette/internal/match"
	"github.com/ashureev/agent-roulette/internal/store"
	"github.com/go-chi/chi/v5"
)

// Handler provides common handler dependencies.
type Handler struct {
	repo      store.Repository
	svc       *match.Service
	publicURL string
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, svc *match.Service, publicURL string) *Handler {
	return &Handler{repo: repo, svc: svc, publicURL: publicURL}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// serviceError maps matchmaking error types onto HTTP responses: validation
// failures are bad requests, state conflicts are conflicts, everything else
// is a generic server failure.
func serviceError(w http.ResponseWriter, err error) {
	var verr *match.ValidationError
	if errors.As(err, &verr) {
		Error(w, http.StatusBadRequest, verr.Code)
		return
	}
	var serr *match.StateError
	if errors.As(err, &serr) {
		Error(w, http.StatusConflict, serr.Code)
		return
	}
	slog.Error("Request failed", "error", err)
	Error(w, http.StatusInternalServerError, "internal_error")
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/agents/register", h.Register)
		r.Get("/claim/{claimToken}", h.ClaimInfo)
		r.Post("/claim/{claimToken}/verify", h.VerifyClaim)

		r.Get("/status", h.Status)
		r.Post("/join", auth.Require(h.Join))
		r.Post("/messages", auth.Require(h.SendMessage))
		r.Get("/messages", auth.Require(h.ListMessages))
		r.Post("/disconnect", auth.Require(h.Disconnect))

		r.Get("/avatar", auth.Require(h.GetAvatar))
		r.Put("/avatar", auth.Require(h.SetAvatar))
		r.Get("/webhook", auth.Require(h.GetWebhook))
		r.Put("/webhook", auth.Require(h.SetWebhook))

		r.Get("/live", h.Live)
	})
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo store.Repository
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository) *HealthHandler {
	return &HealthHandler{repo: repo}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]interface{}{
		"status": "healthy",
		"checks": map[string]string{"api": "ok"},
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		status["checks"].(map[string]string)["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		status["checks"].(map[string]string)["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
