// Package gateway assembles session context from the store and persists
// the results a session produces.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/voice-relay/internal/domain"
	"github.com/ashureev/voice-relay/internal/store"
)

// Config holds gateway configuration.
type Config struct {
	RecentLimit    int
	SeedTranscript string
	Timeout        time.Duration
}

// DefaultConfig returns default gateway configuration.
func DefaultConfig() Config {
	return Config{
		RecentLimit: 5,
		Timeout:     10 * time.Second,
	}
}

// StoreGateway implements the session store gateway over a Repository.
type StoreGateway struct {
	repo   store.Repository
	cfg    Config
	logger *slog.Logger
}

// New creates a gateway. Zero fields in cfg take their defaults.
func New(repo store.Repository, cfg Config, logger *slog.Logger) *StoreGateway {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = def.RecentLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &StoreGateway{repo: repo, cfg: cfg, logger: logger}
}

// FetchContext assembles the context of userID. It returns
// domain.ErrUserNotFound when no profile exists.
func (g *StoreGateway) FetchContext(ctx context.Context, userID string) (*domain.SessionContext, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	profile, err := g.repo.GetUserProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user profile: %w", err)
	}
	if profile == nil {
		return nil, fmt.Errorf("fetch context for %s: %w", userID, domain.ErrUserNotFound)
	}

	info, err := profile.BasicInfo()
	if err != nil {
		return nil, err
	}

	recent, err := g.repo.RecentSessions(ctx, userID, g.cfg.RecentLimit)
	if err != nil {
		return nil, fmt.Errorf("get recent sessions: %w", err)
	}
	if recent == nil {
		recent = []domain.SessionRecord{}
	}

	rel, err := g.repo.GetRelationships(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get relationships: %w", err)
	}
	records := []json.RawMessage{}
	if rel != nil && rel.Records != nil {
		records = rel.Records
	}

	g.logger.Debug("Session context assembled",
		"user_id", userID,
		"recent_sessions", len(recent),
		"relationships", len(records),
	)

	return &domain.SessionContext{
		UserProfile:    info,
		RecentSessions: recent,
		Relationships:  records,
		Transcript:     g.cfg.SeedTranscript,
	}, nil
}

// PersistSessionResult writes the outcome of a session. The profile and
// relationships are updated first and the session record is appended last,
// so a retried call never leaves a record without its profile update. Every
// failure wraps domain.ErrPersistenceFailed.
func (g *StoreGateway) PersistSessionResult(ctx context.Context, userID string, result domain.SessionResult) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	if hasValue(result.UpdatedProfile) {
		if err := g.repo.UpdateProfileInfo(ctx, userID, result.UpdatedProfile); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrPersistenceFailed, err)
		}
	}

	if hasValue(result.UpdatedRelationships) {
		records, err := relationshipRecords(result.UpdatedRelationships)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrPersistenceFailed, err)
		}
		if err := g.repo.UpsertRelationships(ctx, &domain.Relationships{UserID: userID, Records: records}); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrPersistenceFailed, err)
		}
	}

	record := &domain.SessionRecord{
		SessionID:  result.SessionID,
		UserID:     userID,
		Date:       time.Now(),
		Summary:    result.Summary,
		Transcript: result.Transcript,
	}
	if err := g.repo.InsertSessionRecord(ctx, record); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistenceFailed, err)
	}

	g.logger.Info("Session result persisted", "user_id", userID, "session_id", result.SessionID)
	return nil
}

func hasValue(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// relationshipRecords accepts either an array of records or a single
// record object.
func relationshipRecords(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decode relationships: %w", err)
		}
		return records, nil
	}
	if !json.Valid(trimmed) {
		return nil, errors.New("decode relationships: invalid JSON")
	}
	return []json.RawMessage{json.RawMessage(trimmed)}, nil
}
