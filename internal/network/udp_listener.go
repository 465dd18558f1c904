package network

import (
	"crypto/subtle"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"devicesim/internal/dispatch"
	"devicesim/internal/logging"
	"devicesim/internal/protocol"
)

// Executor runs one intent; *dispatch.Dispatcher implements it
type Executor interface {
	Execute(id string, in protocol.Intent) error
}

// UDPListener is the serve-side UDP endpoint that receives binary intents
// and answers every packet with an ack carrying the same sequence number.
//
// With a token set, intents are executed only for source addresses that sent
// an auth packet with that token. Addresses are not cryptographically bound,
// so the listener should stay on a trusted network.
type UDPListener struct {
	host     string
	port     int
	token    string
	exec     Executor
	conn     *net.UDPConn
	done     chan struct{}
	wg       sync.WaitGroup
	log      *zap.Logger
	clients  map[string]*udpClient
	clientMu sync.Mutex // guards clients and token

	// staleAfter drops per-client dedup state after inactivity
	staleAfter time.Duration
}

type udpClient struct {
	dedup    seqDedup
	lastSeen time.Time
	authed   bool
}

// seqDedup tracks recently seen sequence numbers and the ack sent for each,
// so a retransmitted packet is answered without executing it twice.
// Uses a fixed-size ring buffer: no allocation, O(1) lookup.
type seqDedup struct {
	ring [512]uint32
	pos  int
	seen map[uint32][]byte
}

func newSeqDedup() seqDedup {
	return seqDedup{seen: make(map[uint32][]byte, 512)}
}

// lookup returns the cached ack for seq, if seq was already handled
func (d *seqDedup) lookup(seq uint32) ([]byte, bool) {
	ack, ok := d.seen[seq]
	return ack, ok
}

func (d *seqDedup) remember(seq uint32, ack []byte) {
	if _, ok := d.seen[seq]; ok {
		d.seen[seq] = ack
		return
	}
	// Evict oldest entry
	old := d.ring[d.pos]
	if old != 0 {
		delete(d.seen, old)
	}
	d.ring[d.pos] = seq
	d.seen[seq] = ack
	d.pos = (d.pos + 1) % len(d.ring)
}

// NewUDPListener creates a listener on host:port. An empty host binds every
// interface; port 0 picks a free port. A non-empty token requires senders to
// authenticate.
func NewUDPListener(host string, port int, token string, exec Executor) *UDPListener {
	return &UDPListener{
		host:       host,
		port:       port,
		token:      token,
		exec:       exec,
		done:       make(chan struct{}),
		log:        logging.L("udp"),
		clients:    make(map[string]*udpClient),
		staleAfter: 30 * time.Second,
	}
}

// Start binds the UDP socket and begins serving.
func (l *UDPListener) Start() error {
	addr := net.JoinHostPort(l.host, strconv.Itoa(l.port))
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("udp resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("udp listen on %s: %w", addr, err)
	}
	l.conn = conn
	conn.SetReadBuffer(1 << 20)

	l.log.Info("UDP listener started",
		zap.Stringer("addr", conn.LocalAddr()),
		zap.Bool("auth", l.token != ""))

	l.wg.Add(2)
	go l.readLoop()
	go l.cleanupLoop()
	return nil
}

// Addr returns the bound address, nil before Start
func (l *UDPListener) Addr() *net.UDPAddr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr().(*net.UDPAddr)
}

func (l *UDPListener) readLoop() {
	defer l.wg.Done()

	buf := make([]byte, protocol.UDPHeaderSize+2+protocol.MaxTextLength)
	for {
		n, remote, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.done:
				return
			default:
				continue
			}
		}

		pkt, err := protocol.DecodeUDPPacket(buf[:n])
		if err != nil {
			l.log.Debug("dropping malformed packet", zap.String(logging.KeyRemote, remote.String()), zap.Error(err))
			continue
		}
		if pkt.Type == protocol.UDPPacketAck {
			continue
		}

		l.conn.WriteToUDP(l.handle(remote, pkt), remote)
	}
}

// handle executes a packet once per (remote, seq) and returns the ack bytes
func (l *UDPListener) handle(remote *net.UDPAddr, pkt *protocol.UDPPacket) []byte {
	key := remote.String()

	l.clientMu.Lock()
	client, ok := l.clients[key]
	if !ok {
		client = &udpClient{dedup: newSeqDedup()}
		l.clients[key] = client
		l.log.Info("UDP client connected", zap.String(logging.KeyRemote, key))
	}
	client.lastSeen = time.Now()

	if pkt.Type == protocol.UDPPacketAuth {
		status := protocol.AckOK
		if l.token != "" && subtle.ConstantTimeCompare([]byte(pkt.Token), []byte(l.token)) != 1 {
			status = protocol.AckUnauthorized
			client.authed = false
			l.log.Warn("UDP auth failed", zap.String(logging.KeyRemote, key))
		} else {
			client.authed = true
		}
		l.clientMu.Unlock()
		return l.ack(pkt.Seq, status, 0)
	}

	if l.token != "" && !client.authed {
		l.clientMu.Unlock()
		l.log.Debug("unauthenticated packet", zap.String(logging.KeyRemote, key), zap.Uint32("seq", pkt.Seq))
		return l.ack(pkt.Seq, protocol.AckUnauthorized, 0)
	}

	if ack, dup := client.dedup.lookup(pkt.Seq); dup {
		l.clientMu.Unlock()
		l.log.Debug("duplicate packet", zap.String(logging.KeyRemote, key), zap.Uint32("seq", pkt.Seq))
		return ack
	}
	l.clientMu.Unlock()

	var execErr error
	in, err := pkt.Intent()
	if err != nil {
		execErr = err
	} else {
		execErr = l.exec.Execute(fmt.Sprintf("udp-%s-%d", key, pkt.Seq), in)
	}

	status, code := dispatch.AckStatus(execErr)
	ack := l.ack(pkt.Seq, status, code)

	l.clientMu.Lock()
	client.dedup.remember(pkt.Seq, ack)
	l.clientMu.Unlock()
	return ack
}

func (l *UDPListener) ack(seq uint32, status uint8, code int32) []byte {
	ack, _ := protocol.EncodeUDPPacket(&protocol.UDPPacket{
		Type:      protocol.UDPPacketAck,
		Seq:       seq,
		Timestamp: time.Now().UnixMilli(),
		Status:    status,
		Code:      code,
	})
	return ack
}

// SetToken replaces the token and forgets every authenticated address.
func (l *UDPListener) SetToken(token string) {
	l.clientMu.Lock()
	defer l.clientMu.Unlock()
	if token == l.token {
		return
	}
	l.token = token
	for _, client := range l.clients {
		client.authed = false
	}
}

// cleanupLoop removes clients that have not sent anything recently.
func (l *UDPListener) cleanupLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.pruneStale(time.Now())
		case <-l.done:
			return
		}
	}
}

func (l *UDPListener) pruneStale(now time.Time) {
	l.clientMu.Lock()
	defer l.clientMu.Unlock()
	for key, client := range l.clients {
		if now.Sub(client.lastSeen) > l.staleAfter {
			l.log.Info("removing stale UDP client", zap.String(logging.KeyRemote, key))
			delete(l.clients, key)
		}
	}
}

// Stop shuts down the listener and waits for its goroutines.
func (l *UDPListener) Stop() {
	close(l.done)
	if l.conn != nil {
		l.conn.Close()
	}
	l.wg.Wait()
}
