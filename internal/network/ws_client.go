package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"devicesim/internal/logging"
	"devicesim/internal/protocol"
)

// ErrClosed is returned for requests issued after the connection dropped
var ErrClosed = errors.New("websocket client closed")

// WSClient sends intents to a devicesim server over WebSocket and waits for
// the matching result.
type WSClient struct {
	hostAddr string
	token    string
	conn     *websocket.Conn
	writeMu  sync.Mutex
	log      *zap.Logger

	mu      sync.Mutex
	pending map[string]chan protocol.Result
	closed  bool
	done    chan struct{}

	// OnResult receives results that do not answer one of our requests
	// (executions by other clients broadcast by the server).
	OnResult func(protocol.Result)
}

// NewWSClient creates a new WebSocket client for "host:port"
func NewWSClient(hostAddr, token string) *WSClient {
	return &WSClient{
		hostAddr: hostAddr,
		token:    token,
		log:      logging.L("ws-client"),
		pending:  make(map[string]chan protocol.Result),
		done:     make(chan struct{}),
	}
}

// Connect dials the server and starts the read pump.
func (c *WSClient) Connect(ctx context.Context) error {
	u := url.URL{Scheme: "ws", Host: c.hostAddr, Path: "/ws"}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connect %s: %w (HTTP %d)", u.String(), err, resp.StatusCode)
		}
		return fmt.Errorf("connect %s: %w", u.String(), err)
	}
	c.conn = conn
	c.log.Info("connected", zap.String(logging.KeyRemote, c.hostAddr))

	go c.readPump()

	if c.token != "" {
		if _, err := c.request(ctx, protocol.TypeAuth, protocol.AuthPayload{Token: c.token, ClientName: "devicesim"}); err != nil {
			c.Close()
			return fmt.Errorf("authenticate: %w", err)
		}
	}
	return nil
}

func (c *WSClient) readPump() {
	defer c.failPending()

	c.conn.SetReadLimit(64 * 1024)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("read error", zap.Error(err))
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("invalid message", zap.Error(err))
			continue
		}
		if msg.Type != protocol.TypeResult {
			continue
		}

		var res protocol.Result
		if err := msg.Decode(&res); err != nil {
			c.log.Warn("invalid result payload", zap.Error(err))
			continue
		}
		c.deliver(msg.ID, res)
	}
}

func (c *WSClient) deliver(id string, res protocol.Result) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if ok {
		ch <- res
		return
	}
	if c.OnResult != nil {
		c.OnResult(res)
	}
}

func (c *WSClient) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	for id := range c.pending {
		delete(c.pending, id)
	}
}

// Send executes one intent on the server and returns its result
func (c *WSClient) Send(ctx context.Context, in protocol.Intent) (protocol.Result, error) {
	return c.request(ctx, protocol.TypeIntent, in)
}

func (c *WSClient) request(ctx context.Context, typ protocol.MessageType, payload any) (protocol.Result, error) {
	id := uuid.NewString()
	msg, err := protocol.NewMessage(typ, id, payload)
	if err != nil {
		return protocol.Result{}, err
	}

	ch := make(chan protocol.Result, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return protocol.Result{}, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(msg); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return protocol.Result{}, err
	}

	select {
	case res := <-ch:
		if !res.OK {
			return res, errors.New(res.Error)
		}
		return res, nil
	case <-c.done:
		return protocol.Result{}, ErrClosed
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return protocol.Result{}, ctx.Err()
	}
}

func (c *WSClient) write(msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close stops the client
func (c *WSClient) Close() error {
	if c.conn == nil {
		return nil
	}
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
