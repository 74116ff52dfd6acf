package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/ashureev/voice-relay/internal/domain"
	"github.com/ashureev/voice-relay/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite opens the database at dbPath, applies migrations and returns a
// pooled repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return newSQLiteStore(db), nil
}

func newSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUserProfile retrieves a profile by user ID.
func (s *SQLiteStore) GetUserProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	query, args, err := sq.Select("user_id", "profile", "updated_info", "created_at", "updated_at").
		From("user_profiles").
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build profile query: %w", err)
	}

	var p domain.UserProfile
	var profile string
	var updatedInfo sql.NullString
	var createdAt, updatedAt int64

	err = s.db.QueryRowContext(ctx, query, args...).Scan(&p.UserID, &profile, &updatedInfo, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile row: %w", err)
	}

	p.Profile = json.RawMessage(profile)
	if updatedInfo.Valid {
		p.UpdatedInfo = json.RawMessage(updatedInfo.String)
	}
	p.CreatedAt = time.UnixMilli(createdAt)
	p.UpdatedAt = time.UnixMilli(updatedAt)
	return &p, nil
}

// UpsertUserProfile creates or replaces the stored profile attributes.
// updated_info is left untouched on conflict.
func (s *SQLiteStore) UpsertUserProfile(ctx context.Context, p *domain.UserProfile) error {
	now := time.Now()
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	profile := string(p.Profile)
	if profile == "" {
		profile = "{}"
	}

	query, args, err := sq.Insert("user_profiles").
		Columns("user_id", "profile", "created_at", "updated_at").
		Values(p.UserID, profile, createdAt.UnixMilli(), now.UnixMilli()).
		Suffix("ON CONFLICT(user_id) DO UPDATE SET profile = excluded.profile, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build profile upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// UpdateProfileInfo overwrites updated_info for an existing profile.
func (s *SQLiteStore) UpdateProfileInfo(ctx context.Context, userID string, info json.RawMessage) error {
	var value interface{}
	if len(info) > 0 {
		value = string(info)
	}

	query, args, err := sq.Update("user_profiles").
		Set("updated_info", value).
		Set("updated_at", time.Now().UnixMilli()).
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build profile update: %w", err)
	}

	var rows int64
	err = shared.RetryOnConflict(ctx, s.retry, "update_profile_info", func(ctx context.Context) error {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("update profile info: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateProfileInfo affected 0 rows", "user_id", userID)
		return fmt.Errorf("update profile info for %s: %w", userID, domain.ErrUserNotFound)
	}
	return nil
}

// RecentSessions returns up to limit records for userID, newest first.
func (s *SQLiteStore) RecentSessions(ctx context.Context, userID string, limit int) ([]domain.SessionRecord, error) {
	query, args, err := sq.Select("session_id", "user_id", "date", "summary", "transcript").
		From("session_history").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("date DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent sessions query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close recent sessions rows", "error", closeErr)
		}
	}()

	records := make([]domain.SessionRecord, 0, limit)
	for rows.Next() {
		var r domain.SessionRecord
		var date int64
		if err := rows.Scan(&r.SessionID, &r.UserID, &date, &r.Summary, &r.Transcript); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		r.Date = time.UnixMilli(date)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent sessions: %w", err)
	}
	return records, nil
}

// InsertSessionRecord appends a record, retrying on SQLite conflicts.
func (s *SQLiteStore) InsertSessionRecord(ctx context.Context, r *domain.SessionRecord) error {
	date := r.Date
	if date.IsZero() {
		date = time.Now()
	}

	query, args, err := sq.Insert("session_history").
		Columns("session_id", "user_id", "date", "summary", "transcript").
		Values(r.SessionID, r.UserID, date.UnixMilli(), r.Summary, r.Transcript).
		Suffix("ON CONFLICT(session_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build session insert: %w", err)
	}

	err = shared.RetryOnConflict(ctx, s.retry, "insert_session_record", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert session record: %w", err)
	}
	return nil
}

// GetRelationships returns the relationship records of userID.
func (s *SQLiteStore) GetRelationships(ctx context.Context, userID string) (*domain.Relationships, error) {
	query, args, err := sq.Select("user_id", "records", "updated_at").
		From("relationships").
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build relationships query: %w", err)
	}

	var rel domain.Relationships
	var records string
	var updatedAt int64
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&rel.UserID, &records, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan relationships row: %w", err)
	}

	if err := json.Unmarshal([]byte(records), &rel.Records); err != nil {
		return nil, fmt.Errorf("decode relationships for %s: %w", userID, err)
	}
	rel.UpdatedAt = time.UnixMilli(updatedAt)
	return &rel, nil
}

// UpsertRelationships replaces the relationship records of a user.
func (s *SQLiteStore) UpsertRelationships(ctx context.Context, rel *domain.Relationships) error {
	records := rel.Records
	if records == nil {
		records = []json.RawMessage{}
	}
	encoded, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode relationships: %w", err)
	}

	query, args, err := sq.Insert("relationships").
		Columns("user_id", "records", "updated_at").
		Values(rel.UserID, string(encoded), time.Now().UnixMilli()).
		Suffix("ON CONFLICT(user_id) DO UPDATE SET records = excluded.records, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build relationships upsert: %w", err)
	}

	err = shared.RetryOnConflict(ctx, s.retry, "upsert_relationships", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert relationships: %w", err)
	}
	return nil
}

var _ Repository = (*SQLiteStore)(nil)
