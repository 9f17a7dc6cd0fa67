package protocol

import (
	"encoding/json"
	"testing"

	"github.com/whisper/pairchat/internal/chat"
)

func TestParseClientMessage_ChatMsg(t *testing.T) {
	input := []byte(`{"type":"message","text":"hola"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessage {
		t.Fatalf("expected type %q, got %q", TypeMessage, msgType)
	}

	cm, ok := msg.(ChatMsg)
	if !ok {
		t.Fatalf("expected ChatMsg, got %T", msg)
	}
	if cm.Text != "hola" {
		t.Errorf("expected text %q, got %q", "hola", cm.Text)
	}
}

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"message", `{"type":"message","text":"hi"}`, TypeMessage},
		{"exit", `{"type":"exit"}`, TypeExit},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}

func TestParseClientMessage_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown type":     `{"type":"find_match"}`,
		"server-only type": `{"type":"pong"}`,
		"missing type":     `{"text":"hi"}`,
		"invalid json":     `{invalid json}`,
		"wrong field type": `{"type":"message","text":5}`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if _, msg, err := ParseClientMessage([]byte(input)); err == nil {
				t.Fatalf("expected an error, got %v", msg)
			}
		})
	}
}

func TestNewServerMessage_Messages(t *testing.T) {
	payload := MessagesMsg{Messages: []chat.View{
		{Kind: chat.SenderThem, Age: "now", Text: "hola", Seen: false},
		{Kind: chat.SenderSystem, Age: "3m", Text: "Chat initiated"},
	}}

	data, err := NewServerMessage(TypeMessages, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded MessagesMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded.Type != TypeMessages {
		t.Errorf("expected type %q, got %q", TypeMessages, decoded.Type)
	}
	if len(decoded.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(decoded.Messages))
	}
	if decoded.Messages[0].Kind != chat.SenderThem || decoded.Messages[0].Text != "hola" {
		t.Errorf("unexpected first message %+v", decoded.Messages[0])
	}
}

func TestNewServerMessage_OverridesType(t *testing.T) {
	data, err := NewServerMessage(TypeState, StateMsg{Type: "bogus", State: "Joined", Online: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeState {
		t.Errorf("expected type %q, got %v", TypeState, result["type"])
	}
	if result["state"] != "Joined" {
		t.Errorf("expected state Joined, got %v", result["state"])
	}
}

func TestEnvelope_MissingType(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal([]byte(`{"data":"no type field"}`), &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}
