package network

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"devicesim/internal/logging"
	"devicesim/internal/protocol"
)

// ErrNoAck is returned when the server never acknowledged a packet
var ErrNoAck = errors.New("udp: no ack received")

// ErrUnauthorized is returned when the server refused the sender's token
var ErrUnauthorized = errors.New("udp: server rejected the token")

// UDPSender is the client side of the UDP transport. Each Send waits for the
// matching ack, retransmitting the same sequence number on timeout; the
// listener answers retransmits from its dedup cache.
//
// When Token is set the sender authenticates its address before the first
// intent, and once more if the server has since forgotten it.
type UDPSender struct {
	addr    string
	conn    *net.UDPConn
	mu      sync.Mutex
	seq     atomic.Uint32
	authed  bool
	log     *zap.Logger
	Token   string
	Retries int
	Timeout time.Duration
}

// NewUDPSender creates a sender for "host:port"
func NewUDPSender(addr string) *UDPSender {
	return &UDPSender{
		addr:    addr,
		log:     logging.L("udp-client"),
		Retries: 3,
		Timeout: 500 * time.Millisecond,
	}
}

// Connect resolves the server and opens the socket.
func (s *UDPSender) Connect() error {
	raddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

// Send transmits one intent and returns the ack
func (s *UDPSender) Send(in protocol.Intent) (*protocol.UDPPacket, error) {
	if s.conn == nil {
		return nil, errors.New("udp: not connected")
	}

	pkt, err := protocol.PacketFromIntent(in, s.seq.Add(1), time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Token != "" && !s.authed {
		if err := s.authenticate(); err != nil {
			return nil, err
		}
	}

	ack, err := s.roundTrip(pkt)
	if err != nil {
		return nil, err
	}
	if ack.Status == protocol.AckUnauthorized && s.Token != "" {
		s.log.Debug("server forgot this address, authenticating again")
		if err := s.authenticate(); err != nil {
			return nil, err
		}
		return s.roundTrip(pkt)
	}
	return ack, nil
}

func (s *UDPSender) authenticate() error {
	s.authed = false
	ack, err := s.roundTrip(&protocol.UDPPacket{
		Type:      protocol.UDPPacketAuth,
		Seq:       s.seq.Add(1),
		Timestamp: time.Now().UnixMilli(),
		Token:     s.Token,
	})
	if err != nil {
		return err
	}
	if ack.Status != protocol.AckOK {
		return ErrUnauthorized
	}
	s.authed = true
	return nil
}

// roundTrip sends pkt until an ack with its seq arrives. Callers hold mu.
func (s *UDPSender) roundTrip(pkt *protocol.UDPPacket) (*protocol.UDPPacket, error) {
	data, err := protocol.EncodeUDPPacket(pkt)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 64)
	for attempt := 0; attempt < s.Retries; attempt++ {
		if _, err := s.conn.Write(data); err != nil {
			return nil, err
		}

		deadline := time.Now().Add(s.Timeout)
		for {
			s.conn.SetReadDeadline(deadline)
			n, err := s.conn.Read(buf)
			if err != nil {
				break // timeout, retransmit
			}
			ack, err := protocol.DecodeUDPPacket(buf[:n])
			if err != nil || ack.Type != protocol.UDPPacketAck || ack.Seq != pkt.Seq {
				continue // stale ack from an earlier attempt
			}
			return ack, nil
		}
		s.log.Debug("ack timeout, retransmitting", zap.Uint32("seq", pkt.Seq), zap.Int("attempt", attempt+1))
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrNoAck, s.Retries)
}

// AckError converts a non-OK ack into an error
func AckError(ack *protocol.UDPPacket) error {
	switch ack.Status {
	case protocol.AckOK:
		return nil
	case protocol.AckRejected:
		return fmt.Errorf("injection rejected by host, code %d", ack.Code)
	case protocol.AckInvalid:
		return errors.New("server rejected the intent as invalid")
	case protocol.AckPaused:
		return errors.New("injection is paused on the server")
	case protocol.AckUnauthorized:
		return ErrUnauthorized
	default:
		return errors.New("server failed to execute the intent")
	}
}

// Close releases the socket.
func (s *UDPSender) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
