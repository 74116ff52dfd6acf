// Package server wires the relay's HTTP routes and owns the listener lifecycle.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/voice-relay/internal/api"
	"github.com/ashureev/voice-relay/internal/identity"
	"github.com/ashureev/voice-relay/internal/middleware"
	"github.com/ashureev/voice-relay/internal/relay"
)

// Config configures the HTTP surface.
type Config struct {
	Addr           string
	AllowedOrigins []string
	// DefaultUserID is bound to connections that carry no user identity.
	DefaultUserID string
	HealthTimeout time.Duration
	WebSocket     relay.HandlerConfig
}

// Deps are the collaborators the server routes to.
type Deps struct {
	DB       api.Pinger
	Session  relay.SessionDeps
	Gatherer prometheus.Gatherer
}

// Server serves /ws, /health, /sessions and /metrics.
type Server struct {
	http    *http.Server
	router  chi.Router
	manager *relay.Manager
	cancel  context.CancelFunc
	logger  *slog.Logger
}

// New builds the router. Relay sessions live until Shutdown.
func New(cfg Config, deps Deps) *Server {
	logger := deps.Session.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	ctx, cancel := context.WithCancel(context.Background())
	sm := relay.NewManager()

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	// Router-level so preflights are answered before route matching.
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	api.NewHealthHandler(deps.DB, cfg.HealthTimeout).RegisterHealth(r)
	api.NewHandler(sm).RegisterRoutes(r)

	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	wsHandler := relay.NewWebSocketHandler(ctx, sm, deps.Session, cfg.WebSocket)
	r.With(identity.Middleware(cfg.DefaultUserID)).Get("/ws", wsHandler.ServeHTTP)

	// WriteTimeout stays 0: relay connections are long-lived and hijacked.
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		http:    srv,
		router:  r,
		manager: sm,
		cancel:  cancel,
		logger:  logger,
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sessions returns the live session registry.
func (s *Server) Sessions() *relay.Manager {
	return s.manager
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Server listening", "addr", ln.Addr().String())
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, closes every live relay session
// and waits for them to finish until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.cancel()

	err := s.http.Shutdown(ctx)

	s.manager.CloseAll()
	if drainErr := s.manager.Drain(ctx); drainErr != nil {
		s.logger.Warn("Relay sessions still open at shutdown", "count", s.manager.Len())
		if err == nil {
			err = drainErr
		}
	}
	return err
}
