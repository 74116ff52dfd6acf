package realtime

import (
	"encoding/json"
	"fmt"
)

// SessionConfig is pushed upstream once the upstream reports session.created.
type SessionConfig struct {
	Modalities         []string `env:"MODALITIES" envSeparator:"," envDefault:"text,audio"`
	Instructions       string   `env:"INSTRUCTIONS"`
	Voice              string   `env:"VOICE" envDefault:"alloy"`
	InputAudioFormat   string   `env:"INPUT_AUDIO_FORMAT" envDefault:"pcm16"`
	OutputAudioFormat  string   `env:"OUTPUT_AUDIO_FORMAT" envDefault:"pcm16"`
	TranscriptionModel string   `env:"TRANSCRIPTION_MODEL"`
	TurnDetection      string   `env:"TURN_DETECTION" envDefault:"server_vad"`
	VADThreshold       float64  `env:"VAD_THRESHOLD" envDefault:"0.5"`
	PrefixPaddingMS    int      `env:"VAD_PREFIX_PADDING_MS" envDefault:"300"`
	SilenceDurationMS  int      `env:"VAD_SILENCE_DURATION_MS" envDefault:"500"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
}

type transcription struct {
	Model string `json:"model"`
}

type sessionBody struct {
	Modalities              []string       `json:"modalities"`
	Instructions            string         `json:"instructions,omitempty"`
	Voice                   string         `json:"voice,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string         `json:"output_audio_format,omitempty"`
	InputAudioTranscription *transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection `json:"turn_detection"`
}

type sessionUpdate struct {
	Type    string      `json:"type"`
	Session sessionBody `json:"session"`
}

// SessionUpdate renders the session.update message for cfg. An empty or
// "none" turn detection disables server-side turn detection.
func SessionUpdate(cfg SessionConfig) (Frame, error) {
	body := sessionBody{
		Modalities:        cfg.Modalities,
		Instructions:      cfg.Instructions,
		Voice:             cfg.Voice,
		InputAudioFormat:  cfg.InputAudioFormat,
		OutputAudioFormat: cfg.OutputAudioFormat,
	}
	if cfg.TranscriptionModel != "" {
		body.InputAudioTranscription = &transcription{Model: cfg.TranscriptionModel}
	}
	if cfg.TurnDetection != "" && cfg.TurnDetection != "none" {
		body.TurnDetection = &turnDetection{
			Type:              cfg.TurnDetection,
			Threshold:         cfg.VADThreshold,
			PrefixPaddingMS:   cfg.PrefixPaddingMS,
			SilenceDurationMS: cfg.SilenceDurationMS,
		}
	}

	data, err := json.Marshal(sessionUpdate{Type: EventSessionUpdate, Session: body})
	if err != nil {
		return Frame{}, fmt.Errorf("marshal session update: %w", err)
	}
	return Text(data), nil
}
