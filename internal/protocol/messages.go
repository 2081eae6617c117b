package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudio   MessageType = "client_audio"
	TypeClientText    MessageType = "client_text"
	TypeClientControl MessageType = "client_control"
	TypeUserMessage   MessageType = "user_message"
	TypeAIMessage     MessageType = "ai_message"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
)

// Audio formats accepted in client_audio payloads.
const (
	FormatWAV   = "wav"
	FormatPCM16 = "pcm16"
)

// Control actions.
const (
	ActionEnd  = "end"
	ActionPing = "ping"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientAudio carries one complete utterance recorded by the client.
type ClientAudio struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	AudioBase64 string      `json:"audio_base64"`
	Format      string      `json:"format"`
	SampleRate  int         `json:"sample_rate,omitempty"`
	TSMs        int64       `json:"ts_ms"`
}

// Audio decodes the base64 payload.
func (m ClientAudio) Audio() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(m.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	return raw, nil
}

// ClientText is a typed utterance that skips transcription.
type ClientText struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	Reason    string      `json:"reason,omitempty"`
	TSMs      int64       `json:"ts_ms"`
}

type UserMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

type AIMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Turn      int         `json:"turn"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudio:
		var msg ClientAudio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Format = strings.ToLower(strings.TrimSpace(msg.Format))
		if msg.Format == "" {
			msg.Format = FormatWAV
		}
		if msg.SessionID == "" || msg.AudioBase64 == "" {
			return nil, errors.New("invalid client_audio")
		}
		switch msg.Format {
		case FormatWAV:
		case FormatPCM16:
			if msg.SampleRate <= 0 {
				return nil, errors.New("invalid client_audio: pcm16 requires sample_rate")
			}
		default:
			return nil, fmt.Errorf("invalid client_audio: unknown format %q", msg.Format)
		}
		return msg, nil
	case TypeClientText:
		var msg ClientText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid client_text")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
