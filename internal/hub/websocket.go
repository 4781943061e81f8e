package hub

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// WebSocketHandler upgrades spectator connections and binds them to a
// session scope or the global feed.
type WebSocketHandler struct {
	hub           *Hub
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new spectator WebSocket handler.
func NewWebSocketHandler(h *Hub, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{hub: h, allowedOrigin: allowedOrigin, isDev: isDev}
}

// wsTransport adapts websocket.Conn to the hub transport interface.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Ping(ctx context.Context) error {
	return t.conn.Ping(ctx)
}

func (t *wsTransport) Close(reason string) error {
	return t.conn.Close(websocket.StatusNormalClosure, reason)
}

// ServeHTTP implements http.Handler for the spectator feed upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("session")
	if scope == "" {
		scope = GlobalScope
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept spectator WebSocket", "error", err, "scope", scope)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed closed"); closeErr != nil {
			slog.Debug("Failed to close spectator websocket", "error", closeErr)
		}
	}()

	sub := h.hub.add(scope, &wsTransport{conn: ws})
	defer h.hub.remove(sub)

	// Spectators are read-only; CloseRead keeps processing control frames
	// (pongs for the heartbeat) and cancels when the client goes away.
	readCtx := ws.CloseRead(r.Context())
	<-readCtx.Done()
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || h.allowedOrigin == "" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("Spectator origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
