package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 5, cfg.RecentSessionLimit)
	assert.Equal(t, int64(16<<20), cfg.ReadLimitBytes)
	assert.Equal(t, 10*time.Second, cfg.ShutdownGrace)
	assert.Equal(t, "wss://api.openai.com/v1/realtime", cfg.Upstream.URL)
	assert.Equal(t, "realtime=v1", cfg.Upstream.BetaHeader)
	assert.Equal(t, 15*time.Second, cfg.Timeout.Connect)
	assert.Equal(t, 10*time.Second, cfg.Timeout.Store)
	assert.Equal(t, []string{"text", "audio"}, cfg.Realtime.Modalities)
	assert.Equal(t, "alloy", cfg.Realtime.Voice)
	assert.Equal(t, "server_vad", cfg.Realtime.TurnDetection)
	assert.False(t, cfg.FrameLog.Enabled)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("PORT", "9090")
	t.Setenv("APP_ENV", "production")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("RELAY_DEFAULT_USER_ID", "demo")
	t.Setenv("UPSTREAM_URL", "ws://localhost:9999/v1/realtime")
	t.Setenv("UPSTREAM_MODEL", "test-model")
	t.Setenv("REALTIME_MODALITIES", "text")
	t.Setenv("REALTIME_VAD_THRESHOLD", "0.7")
	t.Setenv("STORE_TIMEOUT", "3s")
	t.Setenv("FRAME_LOG_ENABLED", "true")
	t.Setenv("FRAME_LOG_DIR", "/tmp/frames")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, "demo", cfg.DefaultUserID)
	assert.Equal(t, "ws://localhost:9999/v1/realtime", cfg.Upstream.URL)
	assert.Equal(t, "test-model", cfg.Upstream.Model)
	assert.Equal(t, []string{"text"}, cfg.Realtime.Modalities)
	assert.InDelta(t, 0.7, cfg.Realtime.VADThreshold, 1e-9)
	assert.Equal(t, 3*time.Second, cfg.Timeout.Store)
	assert.True(t, cfg.FrameLog.Enabled)
	assert.Equal(t, "/tmp/frames", cfg.FrameLog.Dir)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing api key", env: map[string]string{"OPENAI_API_KEY": ""}},
		{name: "zero recent sessions", env: map[string]string{"RELAY_RECENT_SESSIONS": "0"}},
		{name: "zero read limit", env: map[string]string{"READ_LIMIT_BYTES": "0"}},
		{name: "zero connect timeout", env: map[string]string{"CONNECT_TIMEOUT": "0s"}},
		{name: "bad duration", env: map[string]string{"STORE_TIMEOUT": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OPENAI_API_KEY", "sk-test")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		cfg := &Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel(), in)
	}
}
