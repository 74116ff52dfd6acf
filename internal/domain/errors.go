package domain

import "errors"

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrPersistenceFailed    = errors.New("persistence failed")
	ErrContextUnavailable   = errors.New("session context unavailable")
	ErrUpstreamUnreachable  = errors.New("upstream unreachable")
	ErrUpstreamAuthRejected = errors.New("upstream rejected credential")
	ErrWriteFailed          = errors.New("write failed")
	ErrConnClosed           = errors.New("connection closed")
	ErrProtocol             = errors.New("protocol error")
	ErrSessionStarted       = errors.New("session already started")
)
