// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	PublicURL   string
	FrontendURL string
	DBPath      string

	// Matchmaking and reaping windows.
	ResponseTimeout time.Duration // active session considered stale past this
	QueueTTL        time.Duration // max unmatched wait before reaping
	ReapInterval    time.Duration

	// Spectator hub.
	HeartbeatInterval time.Duration

	// Outbound webhook delivery.
	WebhookTimeout time.Duration

	Bots BotConfig
}

// BotConfig controls the house-bot fill-in scheduler and its generative
// responder.
type BotConfig struct {
	Interval       time.Duration // scheduler tick
	MinWait        time.Duration // how long a real agent must wait before fill-in
	OpenerDelayMin time.Duration
	OpenerDelayMax time.Duration
	ReplyAfter     time.Duration // earliest reply relative to last agent message
	ReplyWindow    time.Duration // latest reply; older messages are stale
	ReplyTimeout   time.Duration // bound on a single generative call

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		PublicURL:   getEnv("PUBLIC_URL", "http://localhost:8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/roulette.db"),

		ResponseTimeout: getEnvDuration("RESPONSE_TIMEOUT", 300*time.Second),
		QueueTTL:        getEnvDuration("QUEUE_TTL", 120*time.Second),
		ReapInterval:    getEnvDuration("REAP_INTERVAL", 60*time.Second),

		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		WebhookTimeout:    getEnvDuration("WEBHOOK_TIMEOUT", 5*time.Second),

		Bots: BotConfig{
			Interval:       getEnvDuration("BOT_INTERVAL", 5*time.Second),
			MinWait:        getEnvDuration("BOT_MIN_WAIT", 10*time.Second),
			OpenerDelayMin: 2 * time.Second,
			OpenerDelayMax: 5 * time.Second,
			ReplyAfter:     2 * time.Second,
			ReplyWindow:    60 * time.Second,
			ReplyTimeout:   getEnvDuration("BOT_REPLY_TIMEOUT", 15*time.Second),

			OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
			OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.ResponseTimeout <= 0 {
		return fmt.Errorf("RESPONSE_TIMEOUT must be > 0")
	}
	if c.QueueTTL <= 0 {
		return fmt.Errorf("QUEUE_TTL must be > 0")
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("REAP_INTERVAL must be > 0")
	}
	if c.Bots.Interval <= 0 {
		return fmt.Errorf("BOT_INTERVAL must be > 0")
	}
	if c.Bots.OpenerDelayMax < c.Bots.OpenerDelayMin {
		return fmt.Errorf("bot opener delay window is inverted")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	// Bare numbers are treated as milliseconds.
	if n, err := strconv.Atoi(value); err == nil && n > 0 {
		return time.Duration(n) * time.Millisecond
	}
	return fallback
}
