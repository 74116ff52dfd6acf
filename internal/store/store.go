// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"encoding/json"

	"github.com/ashureev/voice-relay/internal/domain"
)

// Repository defines the interface for persisting user context and session history.
type Repository interface {
	// GetUserProfile retrieves a profile by user ID. Returns nil, nil if absent.
	GetUserProfile(ctx context.Context, userID string) (*domain.UserProfile, error)

	// UpsertUserProfile creates or replaces the stored profile attributes.
	UpsertUserProfile(ctx context.Context, profile *domain.UserProfile) error

	// UpdateProfileInfo overwrites the updated_info of an existing profile.
	UpdateProfileInfo(ctx context.Context, userID string, info json.RawMessage) error

	// RecentSessions returns up to limit session records, most recent first.
	RecentSessions(ctx context.Context, userID string, limit int) ([]domain.SessionRecord, error)

	// InsertSessionRecord appends a session record. Inserting the same
	// session ID twice is a no-op.
	InsertSessionRecord(ctx context.Context, record *domain.SessionRecord) error

	// GetRelationships returns the relationship records of a user. Returns
	// nil, nil if the user has none.
	GetRelationships(ctx context.Context, userID string) (*domain.Relationships, error)

	// UpsertRelationships replaces the relationship records of a user.
	UpsertRelationships(ctx context.Context, rel *domain.Relationships) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
