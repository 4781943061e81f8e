// Package auth provides opaque bearer-token identity primitives.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/ashureev/agent-roulette/internal/domain"
	"github.com/ashureev/agent-roulette/internal/store"
)

type contextKey int

const agentKey contextKey = iota

// AgentFromContext extracts the authenticated agent from the request
// context. Returns nil when the request carried no valid credential.
func AgentFromContext(ctx context.Context) *domain.Agent {
	if a, ok := ctx.Value(agentKey).(*domain.Agent); ok {
		return a
	}
	return nil
}

// WithAgent returns a context carrying the given agent.
func WithAgent(ctx context.Context, agent *domain.Agent) context.Context {
	return context.WithValue(ctx, agentKey, agent)
}

// NewToken returns a fresh opaque credential with the given prefix.
func NewToken(prefix string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return prefix + hex.EncodeToString(buf), nil
}

// NewVerificationCode returns a short human-readable verification code.
func NewVerificationCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return "verify-" + hex.EncodeToString(buf), nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// Middleware resolves a bearer credential into the calling agent and
// attaches it to the request context. Requests without an Authorization
// header pass through unauthenticated; requests with an unknown or
// malformed credential are rejected.
func Middleware(repo store.Repository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok || token == "" {
				writeAuthError(w, "invalid_authorization_header")
				return
			}

			agent, err := repo.GetAgentByToken(r.Context(), token)
			if err != nil {
				http.Error(w, `{"error":"failed to resolve credential"}`, http.StatusInternalServerError)
				return
			}
			if agent == nil {
				writeAuthError(w, "invalid_token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAgent(r.Context(), agent)))
		})
	}
}

// Require rejects requests that did not authenticate.
func Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if AgentFromContext(r.Context()) == nil {
			writeAuthError(w, "missing_token")
			return
		}
		next(w, r)
	}
}

func writeAuthError(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":%q}`, code)
}
