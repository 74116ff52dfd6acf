// Package upstream dials the real-time conversational API.
package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/voice-relay/internal/domain"
	"github.com/ashureev/voice-relay/internal/transport"
)

// Config holds connector configuration.
type Config struct {
	URL        string
	Model      string
	APIKey     string
	BetaHeader string
	ReadLimit  int64
	Timeout    time.Duration
	HTTPClient *http.Client
}

// DefaultConfig returns default connector configuration.
func DefaultConfig() Config {
	return Config{
		URL:        "wss://api.openai.com/v1/realtime",
		Model:      "gpt-4o-realtime-preview-2024-10-01",
		BetaHeader: "realtime=v1",
		ReadLimit:  16 << 20,
		Timeout:    15 * time.Second,
	}
}

// Connector opens one upstream connection per call. It holds no session state.
type Connector struct {
	cfg    Config
	logger *slog.Logger
}

// NewConnector creates a connector. Zero fields in cfg take their defaults.
func NewConnector(cfg Config, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.BetaHeader == "" {
		cfg.BetaHeader = def.BetaHeader
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	return &Connector{cfg: cfg, logger: logger}
}

// Connect dials the upstream. A rejected credential, reported by the
// upstream as 401 or 403 on the upgrade response, returns
// domain.ErrUpstreamAuthRejected; any other failure returns
// domain.ErrUpstreamUnreachable.
func (c *Connector) Connect(ctx context.Context) (*transport.Conn, error) {
	target, err := c.endpoint()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamUnreachable, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.BetaHeader != "" {
		header.Set("OpenAI-Beta", c.cfg.BetaHeader)
	}

	start := time.Now()
	ws, resp, err := websocket.Dial(dialCtx, target, &websocket.DialOptions{
		HTTPHeader: header,
		HTTPClient: c.cfg.HTTPClient,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", domain.ErrUpstreamAuthRejected, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial %s: %w", domain.ErrUpstreamUnreachable, c.cfg.URL, err)
	}
	ws.SetReadLimit(c.cfg.ReadLimit)

	c.logger.Info("Connected to upstream", "url", c.cfg.URL, "model", c.cfg.Model, "elapsed", time.Since(start))
	return transport.New(ws, "upstream"), nil
}

func (c *Connector) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse upstream url: %w", err)
	}
	if c.cfg.Model != "" {
		q := u.Query()
		q.Set("model", c.cfg.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
