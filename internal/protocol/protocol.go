// Package protocol defines the messages exchanged between devicesim clients
// and the serve process over WebSocket, HTTP and UDP.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// TypeAuth is sent by client immediately after connection to authenticate
	TypeAuth MessageType = "auth"

	// TypeIntent carries an Intent to execute
	TypeIntent MessageType = "intent"

	// TypeResult is sent by the server after an intent was executed
	TypeResult MessageType = "result"

	// TypePing can be used for application-level heartbeats if needed
	TypePing MessageType = "ping"
)

// Message is the generic container for all WebSocket messages.
// ID correlates an intent with its result.
type Message struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage marshals payload into a Message
func NewMessage(typ MessageType, id string, payload any) (Message, error) {
	msg := Message{Type: typ, ID: id}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return msg, err
		}
		msg.Payload = data
	}
	return msg, nil
}

// Decode unmarshals the payload into v
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	return json.Unmarshal(m.Payload, v)
}

// AuthPayload is the payload for TypeAuth
type AuthPayload struct {
	Token         string `json:"token"`
	ClientName    string `json:"client_name,omitempty"`
	ClientVersion string `json:"client_version,omitempty"`
}

// Op names one synthesizer operation
type Op string

const (
	OpMove        Op = "move"
	OpMoveBy      Op = "move_by"
	OpDown        Op = "down"
	OpUp          Op = "up"
	OpClick       Op = "click"
	OpDoubleClick Op = "double_click"
	OpType        Op = "type"
	OpKey         Op = "key"
)

// Ops lists every supported operation
var Ops = []Op{OpMove, OpMoveBy, OpDown, OpUp, OpClick, OpDoubleClick, OpType, OpKey}

// ErrInvalidIntent is returned when an intent is missing required fields
var ErrInvalidIntent = errors.New("invalid intent")

// MaxTextLength bounds the number of bytes accepted for a type intent
const MaxTextLength = 1024

// Intent is a request to perform one synthesizer operation.
// X/Y are pixels for move, deltas for move_by. Key is a virtual-key code.
type Intent struct {
	Op     Op     `json:"op"`
	Button string `json:"button,omitempty"`
	X      int32  `json:"x,omitempty"`
	Y      int32  `json:"y,omitempty"`
	Text   string `json:"text,omitempty"`
	Key    uint16 `json:"key,omitempty"`
}

// Validate checks that the fields required by Op are present
func (i Intent) Validate() error {
	switch i.Op {
	case OpMove, OpMoveBy, OpType:
		if len(i.Text) > MaxTextLength {
			return fmt.Errorf("%w: text longer than %d bytes", ErrInvalidIntent, MaxTextLength)
		}
	case OpDown, OpUp, OpClick, OpDoubleClick:
		if _, ok := ButtonCode(i.Button); !ok {
			return fmt.Errorf("%w: unknown button %q", ErrInvalidIntent, i.Button)
		}
	case OpKey:
		if i.Key == 0 {
			return fmt.Errorf("%w: key requires a virtual-key code", ErrInvalidIntent)
		}
	case "":
		return fmt.Errorf("%w: missing op", ErrInvalidIntent)
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidIntent, i.Op)
	}
	return nil
}

// Result reports the outcome of an intent. Code carries the host error code
// when the host rejected the submission.
type Result struct {
	ID    string `json:"id,omitempty"`
	Op    Op     `json:"op,omitempty"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Code  int32  `json:"code,omitempty"`
}

var buttonCodes = map[string]uint8{
	"":       1,
	"left":   1,
	"1":      1,
	"right":  2,
	"2":      2,
	"middle": 3,
	"3":      3,
}

var buttonNames = map[uint8]string{
	1: "left",
	2: "right",
	3: "middle",
}

// ButtonCode maps a button name to its wire code. Names are matched
// case-insensitively after trimming; 1, 2 and 3 are accepted as well, as by
// input.ParseButton. An empty name is left.
func ButtonCode(name string) (uint8, bool) {
	code, ok := buttonCodes[strings.ToLower(strings.TrimSpace(name))]
	return code, ok
}

// ButtonName maps a wire code back to its button name
func ButtonName(code uint8) (string, bool) {
	name, ok := buttonNames[code]
	return name, ok
}
