package realtime

import (
	"encoding/json"
	"errors"

	"github.com/ashureev/voice-relay/internal/domain"
)

// Notice statuses sent to the client by the relay itself.
const (
	StatusComplete = "Session complete"
	StatusError    = "Error"
)

// Error codes carried by error notices.
const (
	CodeUserNotFound         = "user_not_found"
	CodeSessionNotStarted    = "session_not_started"
	CodeSessionStarted       = "session_already_started"
	CodeProtocol             = "protocol_error"
	CodeUpstreamUnreachable  = "upstream_unreachable"
	CodeUpstreamAuthRejected = "upstream_auth_rejected"
	CodeConnection           = "connection_error"
	CodeContextUnavailable   = "context_unavailable"
	CodePersistenceFailed    = "persistence_failed"
	CodeInternal             = "internal_error"
)

type completeNotice struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type errorNotice struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CompleteNotice wraps the upstream completion payload for the client.
func CompleteNotice(payload []byte) Frame {
	if !json.Valid(payload) {
		payload, _ = json.Marshal(string(payload))
	}
	data, _ := json.Marshal(completeNotice{Status: StatusComplete, Data: payload})
	return Text(data)
}

// ErrorNotice builds an error frame for the client.
func ErrorNotice(code, message string) Frame {
	data, _ := json.Marshal(errorNotice{Status: StatusError, Code: code, Message: message})
	return Text(data)
}

var messages = map[string]string{
	CodeUserNotFound:         "user not found",
	CodeSessionNotStarted:    "send start_session before other messages",
	CodeSessionStarted:       "session already started",
	CodeProtocol:             "malformed message",
	CodeUpstreamUnreachable:  "voice service unavailable",
	CodeUpstreamAuthRejected: "voice service rejected the relay credentials",
	CodeConnection:           "connection to the voice service was lost",
	CodeContextUnavailable:   "failed to fetch session data",
	CodePersistenceFailed:    "failed to save session",
	CodeInternal:             "internal error",
}

// Message returns the client-facing text for code. Error details stay in
// the relay's logs.
func Message(code string) string {
	if m, ok := messages[code]; ok {
		return m
	}
	return messages[CodeInternal]
}

// ErrorCode maps a session error onto the code reported to the client.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		return CodeUserNotFound
	case errors.Is(err, domain.ErrSessionStarted):
		return CodeSessionStarted
	case errors.Is(err, domain.ErrProtocol):
		return CodeProtocol
	case errors.Is(err, domain.ErrUpstreamAuthRejected):
		return CodeUpstreamAuthRejected
	case errors.Is(err, domain.ErrUpstreamUnreachable):
		return CodeUpstreamUnreachable
	case errors.Is(err, domain.ErrPersistenceFailed):
		return CodePersistenceFailed
	case errors.Is(err, domain.ErrContextUnavailable):
		return CodeContextUnavailable
	case errors.Is(err, domain.ErrWriteFailed), errors.Is(err, domain.ErrConnClosed):
		return CodeConnection
	default:
		return CodeInternal
	}
}
