package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/antoniostano/parley/internal/conversation"
)

func TestParseClientMessageAudioChunk(t *testing.T) {
	raw := []byte(`{"type":"client_audio_chunk","session_id":"s1","seq":1,"pcm16_base64":"AQID","sample_rate":16000,"ts_ms":123}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	audio, ok := msg.(ClientAudioChunk)
	if !ok {
		t.Fatalf("message type = %T, want ClientAudioChunk", msg)
	}
	if audio.SessionID != "s1" || audio.SampleRate != 16000 {
		t.Fatalf("unexpected audio chunk: %+v", audio)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":"playback_done","seq":3,"ts_ms":456}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.SessionID != "s1" || control.Action != ActionPlaybackDone || control.Seq != 3 {
		t.Fatalf("unexpected client control: %+v", control)
	}
	if control.TSMs != 456 {
		t.Fatalf("TSMs = %d, want %d", control.TSMs, 456)
	}
}

func TestParseClientMessageRejectsBadControl(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"unknown action", `{"type":"client_control","session_id":"s1","action":"explode"}`, ErrUnsupportedAction},
		{"missing session", `{"type":"client_control","action":"start"}`, nil},
		{"missing audio", `{"type":"client_audio_chunk","session_id":"s1","sample_rate":16000}`, nil},
	}
	for _, tt := range tests {
		_, err := ParseClientMessage([]byte(tt.raw))
		if err == nil {
			t.Fatalf("%s: ParseClientMessage() error = nil", tt.name)
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Fatalf("%s: error = %v, want %v", tt.name, err, tt.want)
		}
	}
	if _, err := ParseClientMessage([]byte(`not json`)); err == nil {
		t.Fatalf("ParseClientMessage(garbage) error = nil")
	}
}

func TestServerMessagesCarryType(t *testing.T) {
	raw, err := json.Marshal(Message{
		Type:      TypeMessage,
		SessionID: "s1",
		Message:   conversation.Message{ID: "m1", Role: conversation.RoleAssistant, Text: "hello"},
	})
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	for _, want := range []string{`"type":"message"`, `"role":"assistant"`, `"text":"hello"`} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("encoded message %s missing %s", raw, want)
		}
	}
}
