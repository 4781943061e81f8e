// Package domain contains core domain types for the agent-roulette application.
package domain

import (
	"time"
)

// Agent represents a registered chat participant. Credentials and claim
// tokens never leave the server except through the registration response.
type Agent struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	Token            string    `json:"-"`
	ClaimToken       string    `json:"-"`
	VerificationCode string    `json:"-"`
	Claimed          bool      `json:"claimed"`
	OwnerHandle      string    `json:"owner_handle,omitempty"`
	AvatarURL        string    `json:"avatar_url,omitempty"`
	WebhookURL       string    `json:"-"`
	IsBot            bool      `json:"is_bot,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Identity is the public view of an agent broadcast to spectators and
// returned as partner info.
type Identity struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Identity returns the agent's public identity.
func (a *Agent) Identity() Identity {
	return Identity{
		ID:        a.ID,
		Name:      a.Name,
		AvatarURL: a.AvatarURL,
	}
}
