// Package identity resolves the user and session identity of a relay connection.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	UserHeaderName = "X-Relay-User-ID"
	UserQueryParam = "user_id"
)

type contextKey int

const (
	userIDKey contextKey = iota
	sessionIDKey
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the relay session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// WithSessionID returns a copy of ctx carrying sessionID.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// ValidUserID reports whether id is an acceptable user identifier.
func ValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

func userIDFromRequest(r *http.Request) string {
	id := r.Header.Get(UserHeaderName)
	if id == "" {
		id = r.URL.Query().Get(UserQueryParam)
	}
	return strings.TrimSpace(id)
}

// Middleware resolves the user ID of the request from the X-Relay-User-ID
// header or the user_id query parameter, falling back to defaultUserID, and
// assigns a fresh session ID. Malformed user IDs are rejected with 400. The
// user ID may be empty when neither source nor a default provides one; the
// client can still name itself in its start command.
func Middleware(defaultUserID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := userIDFromRequest(r)
			if userID == "" {
				userID = defaultUserID
			}
			if userID != "" && !ValidUserID(userID) {
				http.Error(w, `{"error":"invalid user id"}`, http.StatusBadRequest)
				return
			}

			ctx := WithUserID(r.Context(), userID)
			ctx = WithSessionID(ctx, uuid.NewString())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
