// Voice relay server: bridges mobile clients to a realtime conversational API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ashureev/voice-relay/internal/config"
	"github.com/ashureev/voice-relay/internal/framelog"
	"github.com/ashureev/voice-relay/internal/gateway"
	"github.com/ashureev/voice-relay/internal/relay"
	"github.com/ashureev/voice-relay/internal/server"
	"github.com/ashureev/voice-relay/internal/store"
	"github.com/ashureev/voice-relay/internal/upstream"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting relay", "port", cfg.Port, "dev", cfg.IsDevelopment(), "upstream", cfg.Upstream.URL)

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

	frames, err := framelog.New(framelog.Config{
		Enabled:   cfg.FrameLog.Enabled,
		Dir:       cfg.FrameLog.Dir,
		QueueSize: cfg.FrameLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize frame logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := frames.Close(); closeErr != nil {
			slog.Error("Failed to close frame logger", "error", closeErr)
		}
	}()

	connector := upstream.NewConnector(upstream.Config{
		URL:        cfg.Upstream.URL,
		Model:      cfg.Upstream.Model,
		APIKey:     cfg.OpenAIAPIKey,
		BetaHeader: cfg.Upstream.BetaHeader,
		ReadLimit:  cfg.ReadLimitBytes,
		Timeout:    cfg.Timeout.Connect,
	}, logger)
	dial := func(ctx context.Context) (relay.Peer, error) {
		conn, err := connector.Connect(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	gw := gateway.New(repo, gateway.Config{
		RecentLimit:    cfg.RecentSessionLimit,
		SeedTranscript: cfg.SeedTranscript,
		Timeout:        cfg.Timeout.Store,
	}, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := relay.NewMetrics(reg)

	srv := server.New(server.Config{
		Addr:           ":" + cfg.Port,
		AllowedOrigins: cfg.AllowedOrigins,
		DefaultUserID:  cfg.DefaultUserID,
		HealthTimeout:  cfg.Timeout.HealthCheck,
		WebSocket: relay.HandlerConfig{
			OriginPatterns: cfg.AllowedOrigins,
			ReadLimit:      cfg.ReadLimitBytes,
			Session: relay.SessionConfig{
				Realtime:     cfg.Realtime,
				StoreTimeout: cfg.Timeout.Store,
			},
		},
	}, server.Deps{
		DB: repo,
		Session: relay.SessionDeps{
			Dial:    dial,
			Gateway: gw,
			Logger:  logger,
			Metrics: metrics,
			Frames:  frames,
		},
		Gatherer: reg,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return
	}

	slog.Info("Server stopped successfully")
}
