// Package domain contains core domain types for the voice relay.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// UserProfile is the stored profile of a user. Profile is an opaque JSON
// object (demographics, goals, coping mechanisms and so on) that is never
// interpreted by the relay.
type UserProfile struct {
	UserID      string          `json:"user_id"`
	Profile     json.RawMessage `json:"profile"`
	UpdatedInfo json.RawMessage `json:"updated_info,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// BasicInfo returns the profile as sent upstream: the stored attributes with
// user_id and, once a session has completed, updated_info merged in.
func (u *UserProfile) BasicInfo() (json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if len(u.Profile) > 0 && string(u.Profile) != "null" {
		if err := json.Unmarshal(u.Profile, &fields); err != nil {
			return nil, fmt.Errorf("decode profile for %s: %w", u.UserID, err)
		}
	}

	id, err := json.Marshal(u.UserID)
	if err != nil {
		return nil, err
	}
	fields["user_id"] = id
	if len(u.UpdatedInfo) > 0 && string(u.UpdatedInfo) != "null" {
		fields["updated_info"] = u.UpdatedInfo
	}

	return json.Marshal(fields)
}

// Relationships holds the relationship records of a user.
type Relationships struct {
	UserID    string            `json:"user_id"`
	Records   []json.RawMessage `json:"records"`
	UpdatedAt time.Time         `json:"updated_at"`
}
