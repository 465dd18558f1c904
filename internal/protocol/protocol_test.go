package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestMessageEnvelope(t *testing.T) {
	msg, err := NewMessage(TypeIntent, "req-1", Intent{Op: OpClick, Button: "right"})
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"intent","id":"req-1","payload":{"op":"click","button":"right"}}`
	if string(data) != want {
		t.Errorf("Expected %s, got %s", want, data)
	}

	var back Message
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	var in Intent
	if err := back.Decode(&in); err != nil {
		t.Fatal(err)
	}
	if in.Op != OpClick || in.Button != "right" {
		t.Errorf("Unexpected intent %+v", in)
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	msg := Message{Type: TypeIntent}
	var in Intent
	if err := msg.Decode(&in); err == nil {
		t.Error("Expected error for missing payload")
	}
}

func TestIntentValidate(t *testing.T) {
	valid := []Intent{
		{Op: OpMove, X: 10, Y: 20},
		{Op: OpMoveBy, X: -5},
		{Op: OpClick},
		{Op: OpDown, Button: "middle"},
		{Op: OpDoubleClick, Button: "right"},
		{Op: OpType, Text: ""},
		{Op: OpKey, Key: 0x41},
	}
	for _, in := range valid {
		if err := in.Validate(); err != nil {
			t.Errorf("Validate(%+v) = %v, want nil", in, err)
		}
	}

	invalid := []Intent{
		{},
		{Op: "scroll"},
		{Op: OpClick, Button: "x1"},
		{Op: OpKey},
		{Op: OpType, Text: strings.Repeat("a", MaxTextLength+1)},
	}
	for _, in := range invalid {
		if err := in.Validate(); !errors.Is(err, ErrInvalidIntent) {
			t.Errorf("Validate(%+v) = %v, want ErrInvalidIntent", in, err)
		}
	}
}

func TestButtonNames(t *testing.T) {
	for _, name := range []string{"left", "right", "middle"} {
		code, ok := ButtonCode(name)
		if !ok {
			t.Fatalf("ButtonCode(%q) not found", name)
		}
		back, ok := ButtonName(code)
		if !ok || back != name {
			t.Errorf("ButtonName(%d) = %q, want %q", code, back, name)
		}
	}
	if code, _ := ButtonCode(""); code != 1 {
		t.Errorf("Expected empty button to map to left, got %d", code)
	}
	if _, ok := ButtonName(9); ok {
		t.Error("Expected unknown code to be rejected")
	}
}

func TestButtonCodeAcceptsParseButtonForms(t *testing.T) {
	tests := []struct {
		name string
		want uint8
	}{
		{"Right", 2},
		{"LEFT", 1},
		{" middle ", 3},
		{"2", 2},
		{" 3 ", 3},
		{"1", 1},
	}
	for _, tt := range tests {
		code, ok := ButtonCode(tt.name)
		if !ok || code != tt.want {
			t.Errorf("ButtonCode(%q) = %d, %v, want %d", tt.name, code, ok, tt.want)
		}
		if err := (Intent{Op: OpClick, Button: tt.name}).Validate(); err != nil {
			t.Errorf("Validate with button %q = %v, want nil", tt.name, err)
		}
	}
	if _, ok := ButtonCode("4"); ok {
		t.Error("Expected unknown code to be rejected")
	}
}
