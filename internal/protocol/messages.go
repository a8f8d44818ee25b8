package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/antoniostano/parley/internal/conversation"
	"github.com/antoniostano/parley/internal/quota"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk  MessageType = "client_audio_chunk"
	TypeClientControl     MessageType = "client_control"
	TypeStateChanged      MessageType = "state_changed"
	TypeMessage           MessageType = "message"
	TypeAssistantAudio    MessageType = "assistant_audio"
	TypeNotice            MessageType = "notice"
	TypeQuotaWarning      MessageType = "quota_warning"
	TypeConversationEnded MessageType = "conversation_ended"
	TypeErrorEvent        MessageType = "error_event"
)

// Control actions accepted in ClientControl.
const (
	ActionStart         = "start"
	ActionInterrupt     = "interrupt"
	ActionStopSpeaking  = "stop_speaking"
	ActionStopListening = "stop_listening"
	ActionPlaybackDone  = "playback_done"
	ActionEnd           = "end"
)

var (
	ErrUnsupportedType   = errors.New("unsupported message type")
	ErrUnsupportedAction = errors.New("unsupported control action")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	// Seq names the assistant_audio clip a playback_done refers to.
	Seq  int   `json:"seq,omitempty"`
	TSMs int64 `json:"ts_ms"`
}

type StateChanged struct {
	Type           MessageType `json:"type"`
	SessionID      string      `json:"session_id"`
	ConversationID string      `json:"conversation_id"`
	State          string      `json:"state"`
}

type Message struct {
	Type           MessageType          `json:"type"`
	SessionID      string               `json:"session_id"`
	ConversationID string               `json:"conversation_id"`
	Message        conversation.Message `json:"message"`
}

// AssistantAudio carries one clip of PCM16 for the client to play. The
// client answers with a playback_done control naming Seq.
type AssistantAudio struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	Format      string      `json:"format"`
	SampleRate  int         `json:"sample_rate"`
	AudioBase64 string      `json:"audio_base64"`
}

type Notice struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type QuotaWarning struct {
	Type      MessageType   `json:"type"`
	SessionID string        `json:"session_id"`
	Warning   quota.Warning `json:"warning"`
}

type ConversationEnded struct {
	Type         MessageType               `json:"type"`
	SessionID    string                    `json:"session_id"`
	Conversation conversation.Conversation `json:"conversation"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func validAction(a string) bool {
	switch a {
	case ActionStart, ActionInterrupt, ActionStopSpeaking, ActionStopListening, ActionPlaybackDone, ActionEnd:
		return true
	}
	return false
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
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
		if !validAction(msg.Action) {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
