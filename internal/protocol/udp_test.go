package protocol

import (
	"errors"
	"testing"
)

func TestUDPPacketSizes(t *testing.T) {
	cases := []struct {
		pkt  UDPPacket
		size int
	}{
		{UDPPacket{Type: UDPPacketMove, X: 1, Y: 2}, 21},
		{UDPPacket{Type: UDPPacketMoveBy, X: -1, Y: -2}, 21},
		{UDPPacket{Type: UDPPacketButton, Button: 2, Pressed: 1}, 15},
		{UDPPacket{Type: UDPPacketClick, Button: 1}, 14},
		{UDPPacket{Type: UDPPacketKey, KeyCode: 0x0D}, 15},
		{UDPPacket{Type: UDPPacketType, Text: "héllo"}, 21},
		{UDPPacket{Type: UDPPacketAck, Status: AckRejected, Code: 5}, 18},
		{UDPPacket{Type: UDPPacketAuth, Token: "secret"}, 21},
	}
	for _, c := range cases {
		buf, err := EncodeUDPPacket(&c.pkt)
		if err != nil {
			t.Fatalf("Encode type 0x%02x: %v", c.pkt.Type, err)
		}
		if len(buf) != c.size {
			t.Errorf("Type 0x%02x: expected %d bytes, got %d", c.pkt.Type, c.size, len(buf))
		}
	}
}

func TestUDPPacketHeaderAndNegativeValues(t *testing.T) {
	in := &UDPPacket{Type: UDPPacketMoveBy, Seq: 0xDEADBEEF, Timestamp: 1700000000123, X: -300, Y: 42}
	buf, err := EncodeUDPPacket(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := DecodeUDPPacket(buf)
	if err != nil {
		t.Fatal(err)
	}
	if *out != *in {
		t.Errorf("Expected %+v, got %+v", in, out)
	}
}

func TestUDPPacketAck(t *testing.T) {
	buf, _ := EncodeUDPPacket(&UDPPacket{Type: UDPPacketAck, Seq: 7, Status: AckRejected, Code: -2})
	out, err := DecodeUDPPacket(buf)
	if err != nil {
		t.Fatal(err)
	}
	if out.Seq != 7 || out.Status != AckRejected || out.Code != -2 {
		t.Errorf("Unexpected ack %+v", out)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	if _, err := DecodeUDPPacket([]byte{UDPPacketMove, 0, 0}); err == nil {
		t.Error("Expected error for short header")
	}

	short := make([]byte, UDPHeaderSize+3)
	short[0] = UDPPacketMove
	if _, err := DecodeUDPPacket(short); err == nil {
		t.Error("Expected error for short move payload")
	}

	unknown := make([]byte, UDPHeaderSize)
	unknown[0] = 0x7F
	if _, err := DecodeUDPPacket(unknown); err == nil {
		t.Error("Expected error for unknown type")
	}

	// Declared text length larger than the datagram
	truncated := make([]byte, UDPHeaderSize+4)
	truncated[0] = UDPPacketType
	truncated[UDPHeaderSize+1] = 10
	if _, err := DecodeUDPPacket(truncated); err == nil {
		t.Error("Expected error for truncated text")
	}
}

func TestEncodeRejectsLongText(t *testing.T) {
	long := make([]byte, MaxTextLength+1)
	if _, err := EncodeUDPPacket(&UDPPacket{Type: UDPPacketType, Text: string(long)}); err == nil {
		t.Error("Expected error for oversized text")
	}
}

func TestUDPPacketAuth(t *testing.T) {
	buf, err := EncodeUDPPacket(&UDPPacket{Type: UDPPacketAuth, Seq: 3, Token: "s3cret"})
	if err != nil {
		t.Fatal(err)
	}
	out, err := DecodeUDPPacket(buf)
	if err != nil {
		t.Fatal(err)
	}
	if out.Token != "s3cret" || out.Seq != 3 {
		t.Errorf("Unexpected auth packet %+v", out)
	}
	if _, err := out.Intent(); !errors.Is(err, ErrInvalidIntent) {
		t.Errorf("Expected auth packet to carry no intent, got %v", err)
	}

	long := make([]byte, MaxTokenLength+1)
	if _, err := EncodeUDPPacket(&UDPPacket{Type: UDPPacketAuth, Token: string(long)}); err == nil {
		t.Error("Expected error for oversized token")
	}
	if _, err := DecodeUDPPacket(buf[:len(buf)-1]); err == nil {
		t.Error("Expected error for truncated token")
	}
}

func TestIntentPacketConversion(t *testing.T) {
	intents := []Intent{
		{Op: OpMove, X: 960, Y: 540},
		{Op: OpMoveBy, X: -10, Y: 3},
		{Op: OpDown, Button: "right"},
		{Op: OpUp, Button: "middle"},
		{Op: OpClick, Button: "left"},
		{Op: OpDoubleClick, Button: "right"},
		{Op: OpKey, Key: 0x1B},
		{Op: OpType, Text: "a😀"},
	}
	for i, in := range intents {
		pkt, err := PacketFromIntent(in, uint32(i), 0)
		if err != nil {
			t.Fatalf("PacketFromIntent(%+v): %v", in, err)
		}
		buf, err := EncodeUDPPacket(pkt)
		if err != nil {
			t.Fatal(err)
		}
		decoded, err := DecodeUDPPacket(buf)
		if err != nil {
			t.Fatal(err)
		}
		out, err := decoded.Intent()
		if err != nil {
			t.Fatal(err)
		}
		if out != in {
			t.Errorf("Expected %+v, got %+v", in, out)
		}
	}
}

func TestPacketFromIntentNormalizesButton(t *testing.T) {
	pkt, err := PacketFromIntent(Intent{Op: OpClick, Button: "Right"}, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Button != 2 {
		t.Errorf("Expected button code 2, got %d", pkt.Button)
	}
}

func TestClickWithEmptyButtonBecomesLeft(t *testing.T) {
	pkt, err := PacketFromIntent(Intent{Op: OpClick}, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	out, _ := pkt.Intent()
	if out.Button != "left" {
		t.Errorf("Expected left, got %q", out.Button)
	}
}

func TestPacketIntentErrors(t *testing.T) {
	if _, err := (&UDPPacket{Type: UDPPacketClick, Button: 9}).Intent(); !errors.Is(err, ErrInvalidIntent) {
		t.Errorf("Expected ErrInvalidIntent for bad button, got %v", err)
	}
	if _, err := (&UDPPacket{Type: UDPPacketAck}).Intent(); !errors.Is(err, ErrInvalidIntent) {
		t.Errorf("Expected ErrInvalidIntent for ack, got %v", err)
	}
	if _, err := PacketFromIntent(Intent{Op: "scroll"}, 1, 0); err == nil {
		t.Error("Expected error for invalid intent")
	}
}
