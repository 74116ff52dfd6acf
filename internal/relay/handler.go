package relay

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/voice-relay/internal/identity"
	"github.com/ashureev/voice-relay/internal/transport"
)

// HandlerConfig configures the client-facing WebSocket endpoint.
type HandlerConfig struct {
	// OriginPatterns are passed to websocket.Accept. "*" allows any origin;
	// empty allows only same-host origins.
	OriginPatterns []string
	ReadLimit      int64
	Session        SessionConfig
}

// WebSocketHandler upgrades client connections and runs one Session per
// connection in the request goroutine.
type WebSocketHandler struct {
	sm     *Manager
	deps   SessionDeps
	cfg    HandlerConfig
	ctx    context.Context
	logger *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler. Sessions run until
// their connections close or ctx is done.
func NewWebSocketHandler(ctx context.Context, sm *Manager, deps SessionDeps, cfg HandlerConfig) *WebSocketHandler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 16 << 20
	}
	return &WebSocketHandler{sm: sm, deps: deps, cfg: cfg, ctx: ctx, logger: logger}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.OriginPatterns,
	})
	if err != nil {
		h.logger.Warn("Failed to accept WebSocket", "error", err, "origin", r.Header.Get("Origin"))
		return
	}
	ws.SetReadLimit(h.cfg.ReadLimit)

	start := time.Now()
	h.logger.Info("Client connected",
		"session_id", sessionID,
		"user_id", userID,
		"ip", identity.IPFromRequest(r),
	)

	client := transport.New(ws, "client")
	session := NewSession(sessionID, userID, client, h.deps, h.cfg.Session)

	h.sm.Register(session)
	defer h.sm.Unregister(session)

	// http.Server.Shutdown does not track hijacked connections; sessions
	// follow the handler context and the manager closes them on shutdown.
	session.Run(h.ctx)

	h.logger.Info("Client disconnected",
		"session_id", sessionID,
		"user_id", session.Info().UserID,
		"duration", time.Since(start),
	)
}
