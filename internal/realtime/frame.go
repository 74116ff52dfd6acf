// Package realtime knows the small part of the real-time conversation protocol
// the relay acts on. Everything else is forwarded without inspection.
package realtime

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coder/websocket"

	"github.com/ashureev/voice-relay/internal/domain"
)

// StartSessionCommand is the plain-text control frame a client sends to begin.
const StartSessionCommand = "start_session"

// Frame is one WebSocket message, text or binary.
type Frame struct {
	Type websocket.MessageType
	Data []byte
}

// Text builds a text frame.
func Text(data []byte) Frame {
	return Frame{Type: websocket.MessageText, Data: data}
}

// Binary builds a binary frame.
func Binary(data []byte) Frame {
	return Frame{Type: websocket.MessageBinary, Data: data}
}

// IsText reports whether the frame is a text frame.
func (f Frame) IsText() bool {
	return f.Type == websocket.MessageText
}

// Kind returns a short label for metrics and logs.
func (f Frame) Kind() string {
	if f.IsText() {
		return "text"
	}
	return "binary"
}

// StartCommand is a parsed start_session request.
type StartCommand struct {
	UserID     string `json:"user_id,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

type startEnvelope struct {
	Type string `json:"type"`
	StartCommand
}

// ParseStartCommand inspects a client frame received before bridging.
// ok is false for well-formed frames that are not a start command. A text
// frame that looks like JSON but does not parse returns domain.ErrProtocol.
func ParseStartCommand(f Frame) (cmd StartCommand, ok bool, err error) {
	if !f.IsText() {
		return StartCommand{}, false, nil
	}

	text := strings.TrimSpace(string(f.Data))
	if text == StartSessionCommand {
		return StartCommand{}, true, nil
	}
	if !strings.HasPrefix(text, "{") {
		return StartCommand{}, false, nil
	}

	var env startEnvelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return StartCommand{}, false, fmt.Errorf("%w: parse start command: %w", domain.ErrProtocol, err)
	}
	if env.Type != StartSessionCommand {
		return StartCommand{}, false, nil
	}
	return env.StartCommand, true, nil
}

// IsStartCommand reports whether f is a start command, ignoring parse errors.
func IsStartCommand(f Frame) bool {
	_, ok, _ := ParseStartCommand(f)
	return ok
}

// WellFormed reports whether a frame can be relayed. Binary frames are opaque;
// text frames must be valid JSON.
func WellFormed(f Frame) bool {
	return !f.IsText() || json.Valid(f.Data)
}
