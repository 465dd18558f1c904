// Package api provides the HTTP and WebSocket remote-control server.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"devicesim/internal/config"
	"devicesim/internal/dispatch"
	"devicesim/internal/input"
	"devicesim/internal/logging"
	"devicesim/internal/network"
	"devicesim/internal/osutils"
	"devicesim/internal/protocol"
)

// Dispatcher executes intents; *dispatch.Dispatcher implements it
type Dispatcher interface {
	Execute(id string, in protocol.Intent) error
	SetOnExecute(callback func(protocol.Result))
	Pause()
	Resume()
	Paused() bool
	Stats() dispatch.Stats
}

type ctxKey int

const wsAuthedKey ctxKey = iota

// Server provides HTTP API for remote control
type Server struct {
	configMgr  *config.Manager
	dispatcher Dispatcher
	wsMgr      *WSManager
	log        *zap.Logger
	version    string
	started    time.Time

	limiterMu sync.Mutex
	limiter   *rate.Limiter

	httpServer *http.Server

	// findWindow is replaced in tests
	findWindow func(class, title string) (osutils.WindowHandle, bool)
}

// NewServer creates a new API server and starts its WebSocket hub
func NewServer(configMgr *config.Manager, d Dispatcher, version string) *Server {
	s := &Server{
		configMgr:  configMgr,
		dispatcher: d,
		log:        logging.L("api"),
		version:    version,
		started:    time.Now(),
		findWindow: osutils.FindWindow,
	}
	s.ReloadLimits()
	s.wsMgr = newWSManager(s)
	go s.wsMgr.start()

	d.SetOnExecute(s.wsMgr.BroadcastResult)
	return s
}

// ReloadLimits rebuilds the rate limiter from the current configuration
func (s *Server) ReloadLimits() {
	cfg := s.configMgr.Get()

	var limiter *rate.Limiter
	if cfg.API.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.API.RateLimit), cfg.API.Burst)
	}

	s.limiterMu.Lock()
	s.limiter = limiter
	s.limiterMu.Unlock()
}

// Handler returns the full middleware chain and routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/intent", s.handleIntent)
	mux.HandleFunc("/api/move", s.handleMove)
	mux.HandleFunc("/api/click", s.handleClick)
	mux.HandleFunc("/api/type", s.handleType)
	mux.HandleFunc("/api/key", s.handleKey)
	mux.HandleFunc("/api/pause", s.handlePause)
	mux.HandleFunc("/api/resume", s.handlePause)
	mux.HandleFunc("/api/window", s.handleWindow)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/ws", s.wsMgr.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	return s.recoverMiddleware(s.requestMiddleware(s.authMiddleware(s.rateLimitMiddleware(mux))))
}

// Start listens on the configured address and serves until Shutdown
func (s *Server) Start() error {
	cfg := s.configMgr.Get()
	addr := net.JoinHostPort(cfg.API.Listen, strconv.Itoa(cfg.API.Port))

	if ips, err := network.GetLocalIPs(); err == nil {
		s.log.Debug("local interfaces", zap.Strings("ipv4", ips))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api listen on %s: %w", addr, err)
	}
	s.log.Info("API server listening", zap.String("addr", ln.Addr().String()))

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server and the WebSocket hub
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsMgr.stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// recoverMiddleware prevents panics from crashing the whole server
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error("panic in handler", zap.Any("panic", err), zap.String("path", r.URL.Path))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestMiddleware assigns a request id and a request-scoped logger
func (s *Server) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		logger := logging.WithRequest(s.log, id, r.URL.Path).With(zap.String(logging.KeyRemote, r.RemoteAddr))
		logger.Debug("request", zap.String("method", r.Method))

		next.ServeHTTP(w, r.WithContext(logging.NewContext(r.Context(), logger)))
	})
}

// authMiddleware checks the API token if configured. WebSocket upgrades
// without a header may authenticate in-band with an auth message.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := s.configMgr.Get().API.Token
		authed := token == "" || validBearer(r.Header.Get("Authorization"), token)

		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), wsAuthedKey, authed)))
			return
		}
		if !authed {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func validBearer(header, token string) bool {
	got, ok := strings.CutPrefix(header, "Bearer ")
	return ok && tokenEqual(got, token)
}

func tokenEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// rateLimitMiddleware applies the token bucket to /api/ requests
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") && !s.allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allow() bool {
	s.limiterMu.Lock()
	limiter := s.limiter
	s.limiterMu.Unlock()
	return limiter == nil || limiter.Allow()
}

// StatusFor maps an execution error to an HTTP status code
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, protocol.ErrInvalidIntent), errors.Is(err, input.ErrUnknownButton):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrPaused):
		return http.StatusConflict
	case errors.Is(err, input.ErrMetricsUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, input.ErrInjectionRejected):
		return http.StatusBadGateway
	case errors.Is(err, input.ErrUnsupportedPlatform):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// execute runs an intent and writes its Result
func (s *Server) execute(w http.ResponseWriter, r *http.Request, in protocol.Intent) {
	id := w.Header().Get("X-Request-ID")
	err := s.dispatcher.Execute(id, in)
	if err != nil {
		logging.FromContext(r.Context()).Info("intent failed", zap.String("intent", string(in.Op)), zap.Error(err))
	}
	writeJSON(w, StatusFor(err), dispatch.ResultFor(id, in.Op, err))
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func badRequest(w http.ResponseWriter, format string, args ...any) {
	writeJSON(w, http.StatusBadRequest, protocol.Result{Error: fmt.Sprintf(format, args...)})
}

// handleIntent handles POST /api/intent with a JSON Intent body
func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var in protocol.Intent
	dec := json.NewDecoder(io.LimitReader(r.Body, 16*1024))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		badRequest(w, "invalid intent body: %v", err)
		return
	}
	s.execute(w, r, in)
}

func parseInt32(r *http.Request, name string) (int32, error) {
	v, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("query parameter %q must be a 32-bit integer", name)
	}
	return int32(v), nil
}

// handleMove handles POST /api/move?x=&y=[&relative=true]
func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	x, err := parseInt32(r, "x")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	y, err := parseInt32(r, "y")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	op := protocol.OpMove
	if r.URL.Query().Get("relative") == "true" {
		op = protocol.OpMoveBy
	}
	s.execute(w, r, protocol.Intent{Op: op, X: x, Y: y})
}

// handleClick handles POST /api/click?button=&double=true
func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	op := protocol.OpClick
	if r.URL.Query().Get("double") == "true" {
		op = protocol.OpDoubleClick
	}
	s.execute(w, r, protocol.Intent{Op: op, Button: r.URL.Query().Get("button")})
}

// handleType handles POST /api/type with the raw text as body
func (s *Server) handleType(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, protocol.MaxTextLength+1))
	if err != nil {
		badRequest(w, "read body: %v", err)
		return
	}
	s.execute(w, r, protocol.Intent{Op: protocol.OpType, Text: string(body)})
}

// handleKey handles POST /api/key?vk=<code>, decimal or 0x-prefixed hex
func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	vk, err := strconv.ParseUint(r.URL.Query().Get("vk"), 0, 16)
	if err != nil {
		badRequest(w, "query parameter \"vk\" must be a 16-bit key code")
		return
	}
	s.execute(w, r, protocol.Intent{Op: protocol.OpKey, Key: uint16(vk)})
}

// handlePause handles POST /api/pause and /api/resume
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if strings.HasSuffix(r.URL.Path, "/pause") {
		s.dispatcher.Pause()
	} else {
		s.dispatcher.Resume()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": s.dispatcher.Paused()})
}

// handleWindow handles GET /api/window?class=&title=
func (s *Server) handleWindow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	class, title := r.URL.Query().Get("class"), r.URL.Query().Get("title")
	handle, found := s.findWindow(class, title)

	resp := map[string]any{"found": found}
	if found {
		resp["handle"] = fmt.Sprintf("0x%X", uintptr(handle))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleConfig handles GET (read) and POST (update) for configuration
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg := s.configMgr.Get()
		cfg.API.Token = ""
		writeJSON(w, http.StatusOK, cfg)

	case http.MethodPost:
		newCfg := s.configMgr.Get()
		if err := json.NewDecoder(r.Body).Decode(&newCfg); err != nil {
			http.Error(w, "Invalid configuration data", http.StatusBadRequest)
			return
		}

		log := logging.FromContext(r.Context())
		log.Info("configuration update received")

		var warnings []string
		for _, verr := range s.configMgr.Set(newCfg) {
			warnings = append(warnings, verr.Error())
		}
		s.ReloadLimits()

		if err := s.configMgr.Save(); err != nil {
			log.Error("failed to save configuration", zap.Error(err))
			http.Error(w, "Failed to save configuration", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "warnings": warnings})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// StatusResponse is served on /api/status
type StatusResponse struct {
	Version   string         `json:"version"`
	Hostname  string         `json:"hostname,omitempty"`
	OS        string         `json:"os"`
	Platform  string         `json:"platform,omitempty"`
	Uptime    uint64         `json:"host_uptime_seconds,omitempty"`
	Running   float64        `json:"running_seconds"`
	Stats     dispatch.Stats `json:"stats"`
	WSClients int            `json:"ws_clients"`
}

// handleStatus handles GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := StatusResponse{
		Version:   s.version,
		OS:        runtime.GOOS,
		Running:   time.Since(s.started).Seconds(),
		Stats:     s.dispatcher.Stats(),
		WSClients: s.wsMgr.clientCount(),
	}
	if info, err := host.InfoWithContext(r.Context()); err == nil {
		resp.Hostname = info.Hostname
		resp.Platform = strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
		resp.Uptime = info.Uptime
	} else {
		logging.FromContext(r.Context()).Debug("host info unavailable", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHealth handles GET /health (used by discovery)
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := network.HealthResponse{
		Status:  "ok",
		Service: network.ServiceName,
		Version: s.version,
		Paused:  s.dispatcher.Paused(),
	}
	if info, err := host.InfoWithContext(r.Context()); err == nil {
		resp.Hostname = info.Hostname
	}
	writeJSON(w, http.StatusOK, resp)
}
