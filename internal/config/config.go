// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/ashureev/voice-relay/internal/realtime"
)

// Config holds all application configuration.
type Config struct {
	Port           string   `env:"PORT" envDefault:"8000"`
	AppEnv         string   `env:"APP_ENV" envDefault:"development"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	DBPath         string   `env:"DB_PATH" envDefault:"./data/relay.db"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`

	// DefaultUserID is used when a connection carries no user identity.
	DefaultUserID      string        `env:"RELAY_DEFAULT_USER_ID"`
	RecentSessionLimit int           `env:"RELAY_RECENT_SESSIONS" envDefault:"5"`
	SeedTranscript     string        `env:"RELAY_SEED_TRANSCRIPT"`
	ReadLimitBytes     int64         `env:"READ_LIMIT_BYTES" envDefault:"16777216"`
	ShutdownGrace      time.Duration `env:"SHUTDOWN_GRACE" envDefault:"10s"`

	OpenAIAPIKey string `env:"OPENAI_API_KEY,unset"`

	Upstream UpstreamConfig         `envPrefix:"UPSTREAM_"`
	Realtime realtime.SessionConfig `envPrefix:"REALTIME_"`
	Timeout  TimeoutConfig
	FrameLog FrameLogConfig `envPrefix:"FRAME_LOG_"`
}

// UpstreamConfig describes the real-time conversational API.
type UpstreamConfig struct {
	URL        string `env:"URL" envDefault:"wss://api.openai.com/v1/realtime"`
	Model      string `env:"MODEL" envDefault:"gpt-4o-realtime-preview-2024-10-01"`
	BetaHeader string `env:"BETA_HEADER" envDefault:"realtime=v1"`
}

// TimeoutConfig bounds the blocking calls made outside of bridging.
type TimeoutConfig struct {
	Connect     time.Duration `env:"CONNECT_TIMEOUT" envDefault:"15s"`
	Store       time.Duration `env:"STORE_TIMEOUT" envDefault:"10s"`
	HealthCheck time.Duration `env:"HEALTH_CHECK_TIMEOUT" envDefault:"5s"`
}

// FrameLogConfig controls the NDJSON frame audit log.
type FrameLogConfig struct {
	Enabled   bool   `env:"ENABLED" envDefault:"false"`
	Dir       string `env:"DIR" envDefault:"./data/logs/frames"`
	QueueSize int    `env:"QUEUE_SIZE" envDefault:"1000"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
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
	if c.Upstream.URL == "" {
		return fmt.Errorf("UPSTREAM_URL cannot be empty")
	}
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY cannot be empty")
	}
	if c.RecentSessionLimit <= 0 {
		return fmt.Errorf("RELAY_RECENT_SESSIONS must be > 0")
	}
	if c.ReadLimitBytes <= 0 {
		return fmt.Errorf("READ_LIMIT_BYTES must be > 0")
	}
	if c.Timeout.Connect <= 0 || c.Timeout.Store <= 0 {
		return fmt.Errorf("CONNECT_TIMEOUT and STORE_TIMEOUT must be > 0")
	}
	if c.FrameLog.Enabled && c.FrameLog.Dir == "" {
		return fmt.Errorf("FRAME_LOG_DIR cannot be empty")
	}
	if c.FrameLog.QueueSize <= 0 {
		return fmt.Errorf("FRAME_LOG_QUEUE_SIZE must be > 0")
	}
	if len(c.Realtime.Modalities) == 0 {
		return fmt.Errorf("REALTIME_MODALITIES cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development") || c.AppEnv == ""
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
