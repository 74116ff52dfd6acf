package domain

import (
	"encoding/json"
	"time"
)

// SessionRecord is one completed session. Records are append-only.
type SessionRecord struct {
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	Date       time.Time `json:"date"`
	Summary    string    `json:"summary"`
	Transcript string    `json:"transcript"`
}

// SessionContext is the bundle sent upstream when a session starts.
type SessionContext struct {
	UserProfile    json.RawMessage   `json:"user_basic_info"`
	RecentSessions []SessionRecord   `json:"recent_sessions"`
	Relationships  []json.RawMessage `json:"relationships"`
	Transcript     string            `json:"transcript"`
}

// SessionResult is what the upstream reports when it considers the session
// complete.
type SessionResult struct {
	SessionID            string
	Summary              string
	Transcript           string
	UpdatedProfile       json.RawMessage
	UpdatedRelationships json.RawMessage
}
