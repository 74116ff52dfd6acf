package realtime

import (
	"encoding/json"
	"log/slog"
)

// Upstream event types the relay recognizes.
const (
	EventSessionCreated = "session.created"
	EventSessionUpdate  = "session.update"
	EventAudioDelta     = "response.audio.delta"
	EventError          = "error"
)

// Class is the relay's reading of an upstream frame.
type Class int

const (
	// ClassPassthrough frames are forwarded to the client untouched.
	ClassPassthrough Class = iota
	// ClassSessionCreated frames are forwarded and trigger the configuration push.
	ClassSessionCreated
	// ClassCompletion frames end the session and are persisted.
	ClassCompletion
	// ClassMalformed frames are logged and dropped.
	ClassMalformed
)

func (c Class) String() string {
	switch c {
	case ClassSessionCreated:
		return "session_created"
	case ClassCompletion:
		return "completion"
	case ClassMalformed:
		return "malformed"
	default:
		return "passthrough"
	}
}

type eventFields struct {
	Type                  string          `json:"type"`
	Transcript            json.RawMessage `json:"transcript"`
	UpdatedUserInfo       json.RawMessage `json:"updated_user_info"`
	UpdatedSessionSummary json.RawMessage `json:"updated_session_summary"`
	UpdatedRelationships  json.RawMessage `json:"updated_relationships"`
}

func (p eventFields) isCompletion() bool {
	return len(p.UpdatedUserInfo) > 0 || len(p.UpdatedSessionSummary) > 0 || len(p.UpdatedRelationships) > 0
}

// Event is the classification of one upstream frame.
type Event struct {
	Class  Class
	Type   string
	fields eventFields
}

// Classify reads the type of an upstream frame. Binary and non-object JSON
// frames pass through.
func Classify(f Frame) Event {
	if !f.IsText() {
		return Event{Class: ClassPassthrough}
	}
	if !json.Valid(f.Data) {
		return Event{Class: ClassMalformed}
	}

	var p eventFields
	if err := json.Unmarshal(f.Data, &p); err != nil {
		return Event{Class: ClassPassthrough}
	}

	ev := Event{Class: ClassPassthrough, Type: p.Type, fields: p}
	switch {
	case p.isCompletion():
		ev.Class = ClassCompletion
	case p.Type == EventSessionCreated:
		ev.Class = ClassSessionCreated
	}
	return ev
}

// Completion is the payload of a completion event.
type Completion struct {
	Summary              string
	Transcript           string
	UpdatedProfile       json.RawMessage
	UpdatedRelationships json.RawMessage
}

// Completion extracts the completion payload. Summary and transcript are
// taken verbatim when they are not JSON strings.
func (e Event) Completion() Completion {
	return Completion{
		Summary:              textOf(e.fields.UpdatedSessionSummary),
		Transcript:           textOf(e.fields.Transcript),
		UpdatedProfile:       e.fields.UpdatedUserInfo,
		UpdatedRelationships: e.fields.UpdatedRelationships,
	}
}

func textOf(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// LogValue keeps event logging compact.
func (e Event) LogValue() slog.Value {
	return slog.GroupValue(slog.String("class", e.Class.String()), slog.String("type", e.Type))
}
