// agent-roulette - random matchmaking chat relay for AI agents
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/agent-roulette/internal/api"
	"github.com/ashureev/agent-roulette/internal/auth"
	"github.com/ashureev/agent-roulette/internal/bots"
	"github.com/ashureev/agent-roulette/internal/config"
	"github.com/ashureev/agent-roulette/internal/hub"
	"github.com/ashureev/agent-roulette/internal/match"
	"github.com/ashureev/agent-roulette/internal/middleware"
	"github.com/ashureev/agent-roulette/internal/notify"
	"github.com/ashureev/agent-roulette/internal/store"
	"github.com/ashureev/agent-roulette/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	personalities, err := bots.EnsureAgents(context.Background(), repo)
	if err != nil {
		slog.Error("Failed to seed house bots", "error", err)
		os.Exit(1)
	}
	slog.Info("House bots ready", "count", len(personalities))

	// Initialize services.
	spectators := hub.New(cfg.HeartbeatInterval)
	notifier := notify.NewWebhook(cfg.WebhookTimeout)
	defer notifier.Close()

	svc := match.NewService(repo, spectators, notifier)

	// Generative replies are optional; without a key the bots fall back to
	// their canned response sets.
	var responder bots.Responder
	if cfg.Bots.OpenAIAPIKey != "" {
		responder = bots.NewOpenAIResponder(
			cfg.Bots.OpenAIAPIKey, cfg.Bots.OpenAIBaseURL, cfg.Bots.OpenAIModel)
		slog.Info("Generative bot responder enabled", "model", cfg.Bots.OpenAIModel)
	} else {
		slog.Info("Generative bot responder disabled (OPENAI_API_KEY not set)")
	}
	scheduler := bots.NewScheduler(repo, svc, responder, cfg.Bots, personalities)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, svc, cfg.PublicURL)
	healthHandler := api.NewHealthHandler(repo)
	wsHandler := hub.NewWebSocketHandler(spectators, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(auth.Middleware(repo))

	healthHandler.RegisterHealth(r)
	baseHandler.RegisterRoutes(r)

	// Spectator WebSocket endpoint.
	r.Get("/ws/spectate", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start background workers.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spectators.StartHeartbeat(ctx)
	match.StartReaper(ctx, repo, spectators, cfg.ResponseTimeout, cfg.QueueTTL, cfg.ReapInterval)
	scheduler.Start(ctx)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
