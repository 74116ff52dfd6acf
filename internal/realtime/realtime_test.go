package realtime

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/voice-relay/internal/domain"
)

func TestParseStartCommand(t *testing.T) {
	tests := []struct {
		name    string
		frame   Frame
		ok      bool
		wantErr bool
		want    StartCommand
	}{
		{name: "plain text", frame: Text([]byte("start_session")), ok: true},
		{name: "plain text with whitespace", frame: Text([]byte(" start_session\n")), ok: true},
		{
			name:  "json with user",
			frame: Text([]byte(`{"type":"start_session","user_id":"u1","transcript":"hi"}`)),
			ok:    true,
			want:  StartCommand{UserID: "u1", Transcript: "hi"},
		},
		{name: "other json", frame: Text([]byte(`{"type":"response.create"}`))},
		{name: "other text", frame: Text([]byte("hello"))},
		{name: "binary", frame: Binary([]byte("start_session"))},
		{name: "broken json", frame: Text([]byte(`{"type":"start_session"`)), wantErr: true},
		{name: "wrong field type", frame: Text([]byte(`{"type":"start_session","user_id":7}`)), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, ok, err := ParseStartCommand(tt.frame)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrProtocol)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, cmd)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		class Class
		typ   string
	}{
		{name: "session created", frame: Text([]byte(`{"type":"session.created","session":{}}`)), class: ClassSessionCreated, typ: EventSessionCreated},
		{name: "audio delta", frame: Text([]byte(`{"type":"response.audio.delta","delta":"AAAA"}`)), class: ClassPassthrough, typ: EventAudioDelta},
		{name: "completion", frame: Text([]byte(`{"updated_session_summary":"done"}`)), class: ClassCompletion},
		{name: "completion profile only", frame: Text([]byte(`{"type":"x","updated_user_info":{"a":1}}`)), class: ClassCompletion, typ: "x"},
		{name: "array", frame: Text([]byte(`[1,2]`)), class: ClassPassthrough},
		{name: "malformed", frame: Text([]byte(`{"type":`)), class: ClassMalformed},
		{name: "binary", frame: Binary([]byte{0x01, 0x02}), class: ClassPassthrough},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Classify(tt.frame)
			assert.Equal(t, tt.class, ev.Class)
			assert.Equal(t, tt.typ, ev.Type)
		})
	}
}

func TestEventCompletion(t *testing.T) {
	ev := Classify(Text([]byte(`{
		"updated_user_info": {"mood": "calm"},
		"updated_session_summary": "talked about sleep",
		"updated_relationships": [{"name": "Sam"}],
		"transcript": "User: hi"
	}`)))
	require.Equal(t, ClassCompletion, ev.Class)

	c := ev.Completion()
	assert.Equal(t, "talked about sleep", c.Summary)
	assert.Equal(t, "User: hi", c.Transcript)
	assert.JSONEq(t, `{"mood":"calm"}`, string(c.UpdatedProfile))
	assert.JSONEq(t, `[{"name":"Sam"}]`, string(c.UpdatedRelationships))
}

func TestEventCompletionNonStringSummary(t *testing.T) {
	ev := Classify(Text([]byte(`{"updated_session_summary":{"topics":["work"]}}`)))
	assert.JSONEq(t, `{"topics":["work"]}`, ev.Completion().Summary)
}

func TestSessionUpdate(t *testing.T) {
	frame, err := SessionUpdate(SessionConfig{
		Modalities:         []string{"text", "audio"},
		Voice:              "alloy",
		InputAudioFormat:   "pcm16",
		OutputAudioFormat:  "pcm16",
		TranscriptionModel: "whisper-1",
		TurnDetection:      "server_vad",
		VADThreshold:       0.5,
		PrefixPaddingMS:    300,
		SilenceDurationMS:  500,
	})
	require.NoError(t, err)
	require.True(t, frame.IsText())

	assert.JSONEq(t, `{
		"type": "session.update",
		"session": {
			"modalities": ["text", "audio"],
			"voice": "alloy",
			"input_audio_format": "pcm16",
			"output_audio_format": "pcm16",
			"input_audio_transcription": {"model": "whisper-1"},
			"turn_detection": {"type": "server_vad", "threshold": 0.5, "prefix_padding_ms": 300, "silence_duration_ms": 500}
		}
	}`, string(frame.Data))
}

func TestSessionUpdateWithoutTurnDetection(t *testing.T) {
	frame, err := SessionUpdate(SessionConfig{Modalities: []string{"text"}, TurnDetection: "none"})
	require.NoError(t, err)

	var got struct {
		Session map[string]any `json:"session"`
	}
	require.NoError(t, json.Unmarshal(frame.Data, &got))
	assert.Contains(t, got.Session, "turn_detection")
	assert.Nil(t, got.Session["turn_detection"])
}

func TestNotices(t *testing.T) {
	assert.JSONEq(t,
		`{"status":"Session complete","data":{"updated_session_summary":"ok"}}`,
		string(CompleteNotice([]byte(`{"updated_session_summary":"ok"}`)).Data))

	assert.JSONEq(t,
		`{"status":"Error","code":"user_not_found","message":"no profile"}`,
		string(ErrorNotice(CodeUserNotFound, "no profile").Data))
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, CodeUserNotFound, ErrorCode(fmt.Errorf("fetch: %w", domain.ErrUserNotFound)))
	assert.Equal(t, CodeUpstreamAuthRejected, ErrorCode(domain.ErrUpstreamAuthRejected))
	assert.Equal(t, CodePersistenceFailed, ErrorCode(domain.ErrPersistenceFailed))
	assert.Equal(t, CodeContextUnavailable, ErrorCode(fmt.Errorf("%w: %w", domain.ErrContextUnavailable, fmt.Errorf("disk"))))
	assert.Equal(t, CodeConnection, ErrorCode(fmt.Errorf("%w: upstream: %w", domain.ErrWriteFailed, domain.ErrConnClosed)))
	assert.Equal(t, CodeInternal, ErrorCode(fmt.Errorf("boom")))
}

func TestMessage(t *testing.T) {
	for _, code := range []string{
		CodeUserNotFound, CodeSessionNotStarted, CodeSessionStarted, CodeProtocol,
		CodeUpstreamUnreachable, CodeUpstreamAuthRejected, CodeConnection,
		CodeContextUnavailable, CodePersistenceFailed, CodeInternal,
	} {
		assert.NotEmpty(t, Message(code), code)
	}
	assert.Equal(t, "failed to fetch session data", Message(CodeContextUnavailable))
	assert.Equal(t, Message(CodeInternal), Message("no_such_code"))
}

func TestWellFormed(t *testing.T) {
	assert.True(t, WellFormed(Text([]byte(`{"a":1}`))))
	assert.False(t, WellFormed(Text([]byte(`{"a":`))))
	assert.True(t, WellFormed(Binary([]byte{0xff})))
}
