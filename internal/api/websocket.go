package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"devicesim/internal/dispatch"
	"devicesim/internal/logging"
	"devicesim/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Remote control is a LAN tool; access is gated by the API token
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSManager handles WebSocket connections and broadcasting
type WSManager struct {
	server     *Server
	clients    map[*WebSocketClient]bool
	clientsMu  sync.RWMutex
	broadcast  chan protocol.Message
	unregister chan *WebSocketClient
	shutdown   chan struct{}
	stopOnce   sync.Once
	log        *zap.Logger
}

// WebSocketClient represents a connected controller
type WebSocketClient struct {
	manager *WSManager
	conn    *websocket.Conn
	send    chan []byte
	ip      string
	authed  bool
}

func newWSManager(s *Server) *WSManager {
	return &WSManager{
		server:     s,
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan protocol.Message),
		unregister: make(chan *WebSocketClient),
		shutdown:   make(chan struct{}),
		log:        logging.L("ws"),
	}
}

func (m *WSManager) start() {
	for {
		select {
		case client := <-m.unregister:
			m.clientsMu.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				close(client.send)
				m.log.Info("client unregistered", zap.String(logging.KeyRemote, client.ip), zap.Int("clients", len(m.clients)))
			}
			m.clientsMu.Unlock()

		case message := <-m.broadcast:
			m.broadcastMessage(message)

		case <-m.shutdown:
			m.clientsMu.Lock()
			for client := range m.clients {
				delete(m.clients, client)
				close(client.send)
			}
			m.clientsMu.Unlock()
			return
		}
	}
}

func (m *WSManager) stop() {
	m.stopOnce.Do(func() { close(m.shutdown) })
}

func (m *WSManager) clientCount() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

func (m *WSManager) broadcastMessage(message protocol.Message) {
	jsonMsg, err := json.Marshal(message)
	if err != nil {
		m.log.Error("failed to marshal broadcast message", zap.Error(err))
		return
	}

	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()

	for client := range m.clients {
		if !client.authed {
			continue
		}
		select {
		case client.send <- jsonMsg:
		default:
			// Slow consumer
			close(client.send)
			delete(m.clients, client)
		}
	}
}

// BroadcastResult sends the result of an execution to every authenticated
// client. The requesting client matches it by ID.
func (m *WSManager) BroadcastResult(res protocol.Result) {
	msg, err := protocol.NewMessage(protocol.TypeResult, res.ID, res)
	if err != nil {
		return
	}
	select {
	case m.broadcast <- msg:
	case <-m.shutdown:
	}
}

func (m *WSManager) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	authed, _ := r.Context().Value(wsAuthedKey).(bool)
	client := &WebSocketClient{
		manager: m,
		conn:    conn,
		send:    make(chan []byte, 256),
		ip:      r.RemoteAddr,
		authed:  authed,
	}

	// Registered before the pumps start so replies are never dropped
	m.clientsMu.Lock()
	select {
	case <-m.shutdown:
		m.clientsMu.Unlock()
		conn.Close()
		return
	default:
	}
	m.clients[client] = true
	n := len(m.clients)
	m.clientsMu.Unlock()
	m.log.Info("client registered", zap.String(logging.KeyRemote, client.ip), zap.Int("clients", n))

	go client.writePump()
	go client.readPump()
}

// readPump pumps messages from the websocket connection to the hub.
func (c *WebSocketClient) readPump() {
	defer func() {
		select {
		case c.manager.unregister <- c:
		case <-c.manager.shutdown:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(16 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.manager.log.Debug("read error", zap.String(logging.KeyRemote, c.ip), zap.Error(err))
			}
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		if !c.handleMessage(message) {
			break
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(50 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply queues a result for this client only
func (c *WebSocketClient) reply(res protocol.Result) {
	msg, err := protocol.NewMessage(protocol.TypeResult, res.ID, res)
	if err != nil {
		return
	}
	data, _ := json.Marshal(msg)

	c.manager.clientsMu.RLock()
	defer c.manager.clientsMu.RUnlock()
	if !c.manager.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// handleMessage processes one client message; false closes the connection
func (c *WebSocketClient) handleMessage(data []byte) bool {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.manager.log.Debug("invalid message format", zap.Error(err))
		c.reply(protocol.Result{Error: "invalid message format"})
		return true
	}

	switch msg.Type {
	case protocol.TypeAuth:
		var payload protocol.AuthPayload
		msg.Decode(&payload)

		token := c.manager.server.configMgr.Get().API.Token
		if !c.authed && !tokenEqual(payload.Token, token) {
			c.manager.log.Warn("authentication failed", zap.String(logging.KeyRemote, c.ip))
			c.reply(protocol.Result{ID: msg.ID, Error: "unauthorized"})
			return false
		}
		c.setAuthed()
		c.manager.log.Info("client authenticated", zap.String(logging.KeyRemote, c.ip), zap.String("client", payload.ClientName))
		c.reply(protocol.Result{ID: msg.ID, OK: true})

	case protocol.TypePing:
		c.reply(protocol.Result{ID: msg.ID, OK: true})

	case protocol.TypeIntent:
		if !c.isAuthed() {
			c.reply(protocol.Result{ID: msg.ID, Error: "unauthorized"})
			return true
		}
		var in protocol.Intent
		if err := msg.Decode(&in); err != nil {
			c.reply(dispatch.ResultFor(msg.ID, "", protocol.ErrInvalidIntent))
			return true
		}
		if !c.manager.server.allow() {
			c.reply(protocol.Result{ID: msg.ID, Op: in.Op, Error: "rate limited"})
			return true
		}
		// The result reaches this client through BroadcastResult
		c.manager.server.dispatcher.Execute(msg.ID, in)

	default:
		c.reply(protocol.Result{ID: msg.ID, Error: "unsupported message type " + string(msg.Type)})
	}
	return true
}

func (c *WebSocketClient) setAuthed() {
	c.manager.clientsMu.Lock()
	c.authed = true
	c.manager.clientsMu.Unlock()
}

func (c *WebSocketClient) isAuthed() bool {
	c.manager.clientsMu.RLock()
	defer c.manager.clientsMu.RUnlock()
	return c.authed
}
