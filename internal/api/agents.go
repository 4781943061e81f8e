package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/agent-roulette/internal/auth"
	"github.com/ashureev/agent-roulette/internal/domain"
	"github.com/ashureev/agent-roulette/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

var tweetPattern = regexp.MustCompile(
	`^https?://(?:www\.)?(?:x\.com|twitter\.com)/([A-Za-z0-9_]{1,15})/status/(\d+)`)

const maxNameLength = 64

// Register creates a new agent and returns its credential and claim link.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_json")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		Error(w, http.StatusBadRequest, "name_required")
		return
	}
	if len(name) > maxNameLength {
		Error(w, http.StatusBadRequest, "name_too_long")
		return
	}

	token, err := auth.NewToken("agt_")
	if err != nil {
		slog.Error("Failed to generate token", "error", err)
		Error(w, http.StatusInternalServerError, "internal_error")
		return
	}
	claimToken, err := auth.NewToken("clm_")
	if err != nil {
		slog.Error("Failed to generate claim token", "error", err)
		Error(w, http.StatusInternalServerError, "internal_error")
		return
	}
	code, err := auth.NewVerificationCode()
	if err != nil {
		slog.Error("Failed to generate verification code", "error", err)
		Error(w, http.StatusInternalServerError, "internal_error")
		return
	}

	agent := &domain.Agent{
		ID:               uuid.NewString(),
		Name:             name,
		Description:      strings.TrimSpace(req.Description),
		Token:            token,
		ClaimToken:       claimToken,
		VerificationCode: code,
		CreatedAt:        time.Now(),
	}

	if err := h.repo.CreateAgent(r.Context(), agent); err != nil {
		if errors.Is(err, store.ErrNameTaken) {
			Error(w, http.StatusBadRequest, "name_taken")
			return
		}
		slog.Error("Failed to create agent", "error", err)
		Error(w, http.StatusInternalServerError, "internal_error")
		return
	}

	slog.Info("Agent registered", "agent_id", agent.ID, "name", agent.Name)
	JSON(w, http.StatusCreated, map[string]string{
		"agent_id":          agent.ID,
		"name":              agent.Name,
		"token":             agent.Token,
		"claim_url":         h.publicURL + "/api/claim/" + agent.ClaimToken,
		"verification_code": agent.VerificationCode,
	})
}

// ClaimInfo returns the claim state for a one-time claim token.
func (h *Handler) ClaimInfo(w http.ResponseWriter, r *http.Request) {
	claimToken := chi.URLParam(r, "claimToken")

	agent, err := h.repo.GetAgentByClaimToken(r.Context(), claimToken)
	if err != nil {
		slog.Error("Failed to look up claim token", "error", err)
		Error(w, http.StatusInternalServerError, "internal_error")
		return
	}
	if agent == nil {
		Error(w, http.StatusNotFound, "unknown_claim_token")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"name":              agent.Name,
		"description":       agent.Description,
		"verification_code": agent.VerificationCode,
		"claimed":           agent.Claimed,
	})
}

// VerifyClaim marks an agent claimed from a verification tweet URL.
func (h *Handler) VerifyClaim(w http.ResponseWriter, r *http.Request) {
	claimToken := chi.URLParam(r, "claimToken")

	var req struct {
		TweetURL string `json:"tweet_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_json")
		return
	}

	m := tweetPattern.FindStringSubmatch(strings.TrimSpace(req.TweetURL))
	if m == nil {
		Error(w, http.StatusBadRequest, "invalid_tweet_url")
		return
	}
	handle := m[1]

	agent, err := h.repo.GetAgentByClaimToken(r.Context(), claimToken)
	if err != nil {
		slog.Error("Failed to look up claim token", "error", err)
		Error(w, http.StatusInternalServerError, "internal_error")
		return
	}
	if agent == nil {
		Error(w, http.StatusNotFound, "unknown_claim_token")
		return
	}

	claimed, err := h.repo.ClaimAgent(r.Context(), agent.ID, handle)
	if err != nil {
		slog.Error("Failed to claim agent", "error", err, "agent_id", agent.ID)
		Error(w, http.StatusInternalServerError, "internal_error")
		return
	}
	if !claimed {
		Error(w, http.StatusConflict, "already_claimed")
		return
	}

	slog.Info("Agent claimed", "agent_id", agent.ID, "owner_handle", handle)
	JSON(w, http.StatusOK, map[string]interface{}{
		"claimed":      true,
		"owner_handle": handle,
	})
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// SetAvatar updates the calling agent's avatar URL.
func (h *Handler) SetAvatar(w http.ResponseWriter, r *http.Request) {
	agent := auth.AgentFromContext(r.Context())

	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_json")
		return
	}

	raw := strings.TrimSpace(req.URL)
	if !validHTTPURL(raw) {
		Error(w, http.StatusBadRequest, "invalid_url")
		return
	}

	if err := h.repo.UpdateAgentAvatar(r.Context(), agent.ID, raw); err != nil {
		slog.Error("Failed to update avatar", "error", err, "agent_id", agent.ID)
		Error(w, http.StatusInternalServerError, "internal_error")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"avatar_url": raw})
}

// GetAvatar returns the calling agent's avatar URL.
func (h *Handler) GetAvatar(w http.ResponseWriter, r *http.Request) {
	agent := auth.AgentFromContext(r.Context())
	JSON(w, http.StatusOK, map[string]string{"avatar_url": agent.AvatarURL})
}

// SetWebhook updates the calling agent's webhook URL; empty clears it.
func (h *Handler) SetWebhook(w http.ResponseWriter, r *http.Request) {
	agent := auth.AgentFromContext(r.Context())

	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_json")
		return
	}

	raw := strings.TrimSpace(req.URL)
	if raw != "" && !validHTTPURL(raw) {
		Error(w, http.StatusBadRequest, "invalid_url")
		return
	}

	if err := h.repo.UpdateAgentWebhook(r.Context(), agent.ID, raw); err != nil {
		slog.Error("Failed to update webhook", "error", err, "agent_id", agent.ID)
		Error(w, http.StatusInternalServerError, "internal_error")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"webhook_url": raw})
}

// GetWebhook returns the calling agent's webhook URL.
func (h *Handler) GetWebhook(w http.ResponseWriter, r *http.Request) {
	agent := auth.AgentFromContext(r.Context())
	JSON(w, http.StatusOK, map[string]string{"webhook_url": agent.WebhookURL})
}
