package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies direct-channel payload variants.
type MessageType string

const (
	// Client to server.
	TypeAudioChunk  MessageType = "audio_chunk"
	TypeTextMessage MessageType = "text_message"

	// Server to client.
	TypeTranscript MessageType = "transcript"
	TypeAIResponse MessageType = "ai_response"
	TypeState      MessageType = "state"
	TypeError      MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// AudioChunk carries caller audio. AudioData is base64 PCM16 little-endian;
// SampleRate describes the payload, Channels defaults to mono.
type AudioChunk struct {
	Type       MessageType `json:"type"`
	AudioData  string      `json:"audio_data"`
	SampleRate int         `json:"sample_rate"`
	Channels   int         `json:"channels,omitempty"`
}

// TextMessage is a typed utterance that skips transcription.
type TextMessage struct {
	Type     MessageType `json:"type"`
	Text     string      `json:"text"`
	Language string      `json:"language,omitempty"`
}

// Transcript is the committed text of one caller utterance. Exactly one is
// sent before the matching AIResponse.
type Transcript struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Text       string      `json:"text"`
	Language   string      `json:"language,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`
}

// AIResponse carries the assistant's reply text and, when synthesis
// succeeded, the spoken reply as a base64 WAV payload.
type AIResponse struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Text      string      `json:"text"`
	Language  string      `json:"language,omitempty"`
	AudioData string      `json:"audio_data,omitempty"`
}

// State announces a session state transition.
type State struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
	Reason    string      `json:"reason,omitempty"`
}

// Error reports a category-level failure. Provider detail stays server-side.
type Error struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Code      string      `json:"code"`
	Stage     string      `json:"stage,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
}

// ParseClientMessage decodes and validates one inbound frame.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeAudioChunk:
		var msg AudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.AudioData == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid audio_chunk")
		}
		if msg.Channels == 0 {
			msg.Channels = 1
		}
		return msg, nil
	case TypeTextMessage:
		var msg TextMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Text == "" {
			return nil, errors.New("invalid text_message")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
