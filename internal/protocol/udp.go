package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// UDP Packet types
const (
	UDPPacketMove        uint8 = 0x01
	UDPPacketMoveBy      uint8 = 0x02
	UDPPacketButton      uint8 = 0x03
	UDPPacketClick       uint8 = 0x04
	UDPPacketDoubleClick uint8 = 0x05
	UDPPacketKey         uint8 = 0x06
	UDPPacketType        uint8 = 0x07
	UDPPacketAuth        uint8 = 0x10 // Client -> Server: token for the sending address
	UDPPacketAck         uint8 = 0x12 // Server -> Client: outcome of the packet with the same seq
)

// Header: [type(1)] [seq(4)] [timestamp(8)] = 13 bytes
const UDPHeaderSize = 13

// Ack status values
const (
	AckOK       uint8 = 0
	AckRejected uint8 = 1
	AckInvalid  uint8 = 2
	AckPaused   uint8 = 3
	AckFailed   uint8 = 4

	// AckUnauthorized answers intents from an address that has not sent a
	// valid auth packet, and auth packets carrying the wrong token
	AckUnauthorized uint8 = 5
)

// MaxTokenLength bounds the token carried by an auth packet
const MaxTokenLength = 256

var (
	errShortPacket  = errors.New("udp: packet too short")
	errShortPayload = errors.New("udp: payload too short")
	errUnknownType  = errors.New("udp: unknown packet type")
)

// UDPPacket represents a binary-encoded intent for low-latency UDP transport.
//
// Wire format per type (big-endian):
//
//	Move        (0x01): header + x(int32) + y(int32)            = 21 bytes
//	MoveBy      (0x02): header + dx(int32) + dy(int32)          = 21 bytes
//	Button      (0x03): header + button(uint8) + pressed(uint8) = 15 bytes
//	Click       (0x04): header + button(uint8)                  = 14 bytes
//	DoubleClick (0x05): header + button(uint8)                  = 14 bytes
//	Key         (0x06): header + vk(uint16)                     = 15 bytes
//	Type        (0x07): header + len(uint16) + UTF-8 bytes      = 15+len bytes
//	Auth        (0x10): header + len(uint16) + token bytes      = 15+len bytes
//	Ack         (0x12): header + status(uint8) + code(int32)    = 18 bytes
type UDPPacket struct {
	Type      uint8
	Seq       uint32
	Timestamp int64
	X         int32  // move / move_by
	Y         int32  // move / move_by
	Button    uint8  // 1=left 2=right 3=middle
	Pressed   uint8  // 1=down, 0=up
	KeyCode   uint16 // virtual-key code
	Text      string // type
	Token     string // auth
	Status    uint8  // ack
	Code      int32  // ack: host error code
}

// EncodeUDPPacket serializes a UDPPacket to wire format.
func EncodeUDPPacket(pkt *UDPPacket) ([]byte, error) {
	size := UDPHeaderSize
	switch pkt.Type {
	case UDPPacketMove, UDPPacketMoveBy:
		size += 8
	case UDPPacketButton:
		size += 2
	case UDPPacketClick, UDPPacketDoubleClick:
		size++
	case UDPPacketKey:
		size += 2
	case UDPPacketType:
		if len(pkt.Text) > MaxTextLength {
			return nil, fmt.Errorf("udp: text longer than %d bytes", MaxTextLength)
		}
		size += 2 + len(pkt.Text)
	case UDPPacketAuth:
		if len(pkt.Token) > MaxTokenLength {
			return nil, fmt.Errorf("udp: token longer than %d bytes", MaxTokenLength)
		}
		size += 2 + len(pkt.Token)
	case UDPPacketAck:
		size += 5
	default:
		return nil, errUnknownType
	}

	buf := make([]byte, size)
	buf[0] = pkt.Type
	binary.BigEndian.PutUint32(buf[1:5], pkt.Seq)
	binary.BigEndian.PutUint64(buf[5:13], uint64(pkt.Timestamp))

	payload := buf[UDPHeaderSize:]
	switch pkt.Type {
	case UDPPacketMove, UDPPacketMoveBy:
		binary.BigEndian.PutUint32(payload[0:4], uint32(pkt.X))
		binary.BigEndian.PutUint32(payload[4:8], uint32(pkt.Y))
	case UDPPacketButton:
		payload[0] = pkt.Button
		payload[1] = pkt.Pressed
	case UDPPacketClick, UDPPacketDoubleClick:
		payload[0] = pkt.Button
	case UDPPacketKey:
		binary.BigEndian.PutUint16(payload[0:2], pkt.KeyCode)
	case UDPPacketType:
		binary.BigEndian.PutUint16(payload[0:2], uint16(len(pkt.Text)))
		copy(payload[2:], pkt.Text)
	case UDPPacketAuth:
		binary.BigEndian.PutUint16(payload[0:2], uint16(len(pkt.Token)))
		copy(payload[2:], pkt.Token)
	case UDPPacketAck:
		payload[0] = pkt.Status
		binary.BigEndian.PutUint32(payload[1:5], uint32(pkt.Code))
	}

	return buf, nil
}

// DecodeUDPPacket deserializes wire bytes into a UDPPacket.
func DecodeUDPPacket(data []byte) (*UDPPacket, error) {
	if len(data) < UDPHeaderSize {
		return nil, errShortPacket
	}

	pkt := &UDPPacket{
		Type:      data[0],
		Seq:       binary.BigEndian.Uint32(data[1:5]),
		Timestamp: int64(binary.BigEndian.Uint64(data[5:13])),
	}

	payload := data[UDPHeaderSize:]
	switch pkt.Type {
	case UDPPacketMove, UDPPacketMoveBy:
		if len(payload) < 8 {
			return nil, errShortPayload
		}
		pkt.X = int32(binary.BigEndian.Uint32(payload[0:4]))
		pkt.Y = int32(binary.BigEndian.Uint32(payload[4:8]))
	case UDPPacketButton:
		if len(payload) < 2 {
			return nil, errShortPayload
		}
		pkt.Button = payload[0]
		pkt.Pressed = payload[1]
	case UDPPacketClick, UDPPacketDoubleClick:
		if len(payload) < 1 {
			return nil, errShortPayload
		}
		pkt.Button = payload[0]
	case UDPPacketKey:
		if len(payload) < 2 {
			return nil, errShortPayload
		}
		pkt.KeyCode = binary.BigEndian.Uint16(payload[0:2])
	case UDPPacketType:
		if len(payload) < 2 {
			return nil, errShortPayload
		}
		n := int(binary.BigEndian.Uint16(payload[0:2]))
		if n > MaxTextLength {
			return nil, fmt.Errorf("udp: text length %d exceeds %d", n, MaxTextLength)
		}
		if len(payload) < 2+n {
			return nil, errShortPayload
		}
		pkt.Text = string(payload[2 : 2+n])
	case UDPPacketAuth:
		if len(payload) < 2 {
			return nil, errShortPayload
		}
		n := int(binary.BigEndian.Uint16(payload[0:2]))
		if n > MaxTokenLength {
			return nil, fmt.Errorf("udp: token length %d exceeds %d", n, MaxTokenLength)
		}
		if len(payload) < 2+n {
			return nil, errShortPayload
		}
		pkt.Token = string(payload[2 : 2+n])
	case UDPPacketAck:
		if len(payload) < 5 {
			return nil, errShortPayload
		}
		pkt.Status = payload[0]
		pkt.Code = int32(binary.BigEndian.Uint32(payload[1:5]))
	default:
		return nil, errUnknownType
	}

	return pkt, nil
}

// PacketFromIntent builds the wire packet for an intent
func PacketFromIntent(in Intent, seq uint32, ts int64) (*UDPPacket, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	pkt := &UDPPacket{Seq: seq, Timestamp: ts}
	switch in.Op {
	case OpMove:
		pkt.Type, pkt.X, pkt.Y = UDPPacketMove, in.X, in.Y
	case OpMoveBy:
		pkt.Type, pkt.X, pkt.Y = UDPPacketMoveBy, in.X, in.Y
	case OpDown, OpUp:
		pkt.Type = UDPPacketButton
		pkt.Button, _ = ButtonCode(in.Button)
		if in.Op == OpDown {
			pkt.Pressed = 1
		}
	case OpClick:
		pkt.Type = UDPPacketClick
		pkt.Button, _ = ButtonCode(in.Button)
	case OpDoubleClick:
		pkt.Type = UDPPacketDoubleClick
		pkt.Button, _ = ButtonCode(in.Button)
	case OpKey:
		pkt.Type, pkt.KeyCode = UDPPacketKey, in.Key
	case OpType:
		pkt.Type, pkt.Text = UDPPacketType, in.Text
	}
	return pkt, nil
}

// Intent converts a decoded packet back into an intent
func (p *UDPPacket) Intent() (Intent, error) {
	button := func() (string, error) {
		name, ok := ButtonName(p.Button)
		if !ok {
			return "", fmt.Errorf("%w: unknown button code %d", ErrInvalidIntent, p.Button)
		}
		return name, nil
	}

	switch p.Type {
	case UDPPacketMove:
		return Intent{Op: OpMove, X: p.X, Y: p.Y}, nil
	case UDPPacketMoveBy:
		return Intent{Op: OpMoveBy, X: p.X, Y: p.Y}, nil
	case UDPPacketButton:
		name, err := button()
		if err != nil {
			return Intent{}, err
		}
		op := OpUp
		if p.Pressed != 0 {
			op = OpDown
		}
		return Intent{Op: op, Button: name}, nil
	case UDPPacketClick, UDPPacketDoubleClick:
		name, err := button()
		if err != nil {
			return Intent{}, err
		}
		op := OpClick
		if p.Type == UDPPacketDoubleClick {
			op = OpDoubleClick
		}
		return Intent{Op: op, Button: name}, nil
	case UDPPacketKey:
		return Intent{Op: OpKey, Key: p.KeyCode}, nil
	case UDPPacketType:
		return Intent{Op: OpType, Text: p.Text}, nil
	default:
		return Intent{}, fmt.Errorf("%w: packet type 0x%02x carries no intent", ErrInvalidIntent, p.Type)
	}
}
