package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"devicesim/internal/config"
	"devicesim/internal/dispatch"
	"devicesim/internal/input"
	"devicesim/internal/logging"
	"devicesim/internal/network"
	"devicesim/internal/osutils"
	"devicesim/internal/protocol"
)

type fakeSynth struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeSynth) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeSynth) PointerButton(b input.Button, a input.Action) error {
	return f.record(fmt.Sprintf("button %s %s", b, a))
}
func (f *fakeSynth) Click(b input.Button) error       { return f.record("click " + b.String()) }
func (f *fakeSynth) DoubleClick(b input.Button) error { return f.record("double " + b.String()) }
func (f *fakeSynth) MoveTo(x, y int32) error          { return f.record(fmt.Sprintf("move %d,%d", x, y)) }
func (f *fakeSynth) MoveBy(dx, dy int32) error        { return f.record(fmt.Sprintf("moveby %d,%d", dx, dy)) }
func (f *fakeSynth) TypeText(text string) error       { return f.record("type " + text) }
func (f *fakeSynth) KeyPress(vk uint16) error         { return f.record(fmt.Sprintf("key 0x%02X", vk)) }

func (f *fakeSynth) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type testEnv struct {
	server *Server
	synth  *fakeSynth
	disp   *dispatch.Dispatcher
	cfg    *config.Manager
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	mgr, err := config.NewManager(filepath.Join(t.TempDir(), "devicesim.yaml"), nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg := mgr.Get()
	cfg.API.RateLimit = 0
	if mutate != nil {
		mutate(&cfg)
	}
	mgr.Set(cfg)

	synth := &fakeSynth{}
	disp := dispatch.New(synth, zap.NewNop())
	s := NewServer(mgr, disp, "test")
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return &testEnv{server: s, synth: synth, disp: disp, cfg: mgr}
}

func (e *testEnv) do(method, target, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) protocol.Result {
	t.Helper()
	var res protocol.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return res
}

func TestHealthSkipsAuth(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.API.Token = "secret" })

	rec := env.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var health network.HealthResponse
	json.NewDecoder(rec.Body).Decode(&health)
	if health.Service != network.ServiceName || health.Version != "test" {
		t.Errorf("Unexpected health response %+v", health)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.API.Token = "secret" })

	if rec := env.do(http.MethodPost, "/api/click", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/click", "", "Authorization", "Bearer wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with wrong token, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/click", "", "Authorization", "Bearer secret"); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with token, got %d", rec.Code)
	}
}

func TestRequestLoggerCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logging.Init("json", "debug", &buf)
	t.Cleanup(func() { logging.Init("console", "info", nil) })

	env := newTestEnv(t, nil)
	if rec := env.do(http.MethodPost, "/api/click", "", "X-Request-ID", "req-42"); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	out := buf.String()
	if !strings.Contains(out, `"requestId":"req-42"`) || !strings.Contains(out, `"op":"/api/click"`) {
		t.Errorf("Expected request correlation fields, got: %s", out)
	}
}

func TestClickAcceptsButtonAliases(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, button := range []string{"2", "Right", "MIDDLE"} {
		if rec := env.do(http.MethodPost, "/api/click?button="+button, ""); rec.Code != http.StatusOK {
			t.Errorf("button=%s: expected 200, got %d: %s", button, rec.Code, rec.Body.String())
		}
	}

	want := []string{"click right", "click right", "click middle"}
	calls := env.synth.snapshot()
	if len(calls) != len(want) {
		t.Fatalf("Expected %v, got %v", want, calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("Call %d: expected %q, got %q", i, want[i], calls[i])
		}
	}
}

func TestIntentEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/intent", `{"op":"double_click","button":"middle"}`, "X-Request-ID", "req-7")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decodeResult(t, rec)
	if !res.OK || res.ID != "req-7" || res.Op != protocol.OpDoubleClick {
		t.Errorf("Unexpected result %+v", res)
	}
	if calls := env.synth.snapshot(); len(calls) != 1 || calls[0] != "double middle" {
		t.Errorf("Unexpected synth calls %v", calls)
	}
}

func TestIntentEndpointRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := []struct {
		method, target, body string
		status               int
	}{
		{http.MethodGet, "/api/intent", "", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/intent", `{"op":`, http.StatusBadRequest},
		{http.MethodPost, "/api/intent", `{"op":"click","extra":1}`, http.StatusBadRequest},
		{http.MethodPost, "/api/intent", `{"op":"scroll"}`, http.StatusBadRequest},
		{http.MethodPost, "/api/click?button=x1", "", http.StatusBadRequest},
		{http.MethodPost, "/api/move?x=1", "", http.StatusBadRequest},
		{http.MethodPost, "/api/move?x=1&y=99999999999", "", http.StatusBadRequest},
		{http.MethodPost, "/api/key?vk=zz", "", http.StatusBadRequest},
		{http.MethodPost, "/api/type", strings.Repeat("a", protocol.MaxTextLength+1), http.StatusBadRequest},
		{http.MethodPost, "/api/window", "", http.StatusMethodNotAllowed},
	}
	for _, c := range cases {
		if rec := env.do(c.method, c.target, c.body); rec.Code != c.status {
			t.Errorf("%s %s: expected %d, got %d", c.method, c.target, c.status, rec.Code)
		}
	}
	if calls := env.synth.snapshot(); len(calls) != 0 {
		t.Errorf("Expected no synth calls, got %v", calls)
	}
}

func TestConvenienceEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	requests := []string{
		"/api/move?x=960&y=540",
		"/api/move?x=-5&y=5&relative=true",
		"/api/click?button=right",
		"/api/click?double=true",
		"/api/key?vk=0x0D",
	}
	for _, target := range requests {
		if rec := env.do(http.MethodPost, target, ""); rec.Code != http.StatusOK {
			t.Fatalf("POST %s: expected 200, got %d", target, rec.Code)
		}
	}
	if rec := env.do(http.MethodPost, "/api/type", "héllo"); rec.Code != http.StatusOK {
		t.Fatalf("POST /api/type: expected 200, got %d", rec.Code)
	}

	want := []string{"move 960,540", "moveby -5,5", "click right", "double left", "key 0x0D", "type héllo"}
	calls := env.synth.snapshot()
	if len(calls) != len(want) {
		t.Fatalf("Expected %v, got %v", want, calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("Call %d: expected %q, got %q", i, want[i], calls[i])
		}
	}
}

func TestErrorStatusMapping(t *testing.T) {
	env := newTestEnv(t, nil)
	env.synth.err = &input.InjectionRejectedError{Code: 5, Submitted: 2}

	rec := env.do(http.MethodPost, "/api/click", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("Expected 502, got %d", rec.Code)
	}
	if res := decodeResult(t, rec); res.OK || res.Code != 5 {
		t.Errorf("Expected host code 5, got %+v", res)
	}

	env.synth.err = fmt.Errorf("%w: width is 0", input.ErrMetricsUnavailable)
	if rec := env.do(http.MethodPost, "/api/move?x=1&y=1", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		nil:                          http.StatusOK,
		protocol.ErrInvalidIntent:    http.StatusBadRequest,
		input.ErrUnknownButton:       http.StatusBadRequest,
		dispatch.ErrPaused:           http.StatusConflict,
		input.ErrMetricsUnavailable:  http.StatusServiceUnavailable,
		input.ErrInjectionRejected:   http.StatusBadGateway,
		input.ErrUnsupportedPlatform: http.StatusNotImplemented,
		errors.New("boom"):           http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := StatusFor(err); got != want {
			t.Errorf("StatusFor(%v) = %d, want %d", err, got, want)
		}
	}
}

func TestPauseAndResume(t *testing.T) {
	env := newTestEnv(t, nil)

	if rec := env.do(http.MethodPost, "/api/pause", ""); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/click", ""); rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 while paused, got %d", rec.Code)
	}
	env.do(http.MethodPost, "/api/resume", "")
	if rec := env.do(http.MethodPost, "/api/click", ""); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 after resume, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.API.RateLimit = 0.001
		c.API.Burst = 1
	})
	env.server.ReloadLimits()

	if rec := env.do(http.MethodPost, "/api/click", ""); rec.Code != http.StatusOK {
		t.Fatalf("Expected first request to pass, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/click", ""); rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("Expected /health to bypass the limiter, got %d", rec.Code)
	}
}

func TestWindowEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.findWindow = func(class, title string) (osutils.WindowHandle, bool) {
		if class == "Notepad" && title == "" {
			return 0x1234, true
		}
		return 0, false
	}

	rec := env.do(http.MethodGet, "/api/window?class=Notepad", "")
	var body map[string]any
	json.NewDecoder(rec.Body).Decode(&body)
	if body["found"] != true || body["handle"] != "0x1234" {
		t.Errorf("Unexpected response %v", body)
	}

	rec = env.do(http.MethodGet, "/api/window?title=Nothing", "")
	body = nil
	json.NewDecoder(rec.Body).Decode(&body)
	if body["found"] != false {
		t.Errorf("Expected not found, got %v", body)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.findWindow = func(class, title string) (osutils.WindowHandle, bool) {
		panic("boom")
	}
	if rec := env.do(http.MethodGet, "/api/window", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 after panic, got %d", rec.Code)
	}
}

func TestConfigEndpoint(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.API.Token = "secret" })
	auth := []string{"Authorization", "Bearer secret"}

	rec := env.do(http.MethodGet, "/api/config", "", auth...)
	if strings.Contains(rec.Body.String(), "secret") {
		t.Error("Token must not be returned by GET /api/config")
	}

	rec = env.do(http.MethodPost, "/api/config", `{"api":{"rate_limit":7,"burst":3}}`, auth...)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	cfg := env.cfg.Get()
	if cfg.API.RateLimit != 7 || cfg.API.Burst != 3 {
		t.Errorf("Expected rate limit updated, got %+v", cfg.API)
	}
	if cfg.API.Token != "secret" {
		t.Errorf("Expected token preserved, got %q", cfg.API.Token)
	}

	loaded, err := config.Load(env.cfg.Path())
	if err != nil || loaded.API.RateLimit != 7 {
		t.Errorf("Expected config saved to disk, got %+v, %v", loaded, err)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(http.MethodPost, "/api/click", "")

	rec := env.do(http.MethodGet, "/api/status", "")
	var status StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Version != "test" || status.Stats.Executed != 1 {
		t.Errorf("Unexpected status %+v", status)
	}
}

func TestWebSocketIntent(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := network.NewWSClient(srv.Listener.Addr().String(), "")
	if err := client.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	res, err := client.Send(ctx, protocol.Intent{Op: protocol.OpMove, X: 3, Y: 4})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !res.OK || res.Op != protocol.OpMove {
		t.Errorf("Unexpected result %+v", res)
	}
	if calls := env.synth.snapshot(); len(calls) != 1 || calls[0] != "move 3,4" {
		t.Errorf("Unexpected synth calls %v", calls)
	}
}

func TestWebSocketObserverSeesOtherExecutions(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	observer := network.NewWSClient(srv.Listener.Addr().String(), "")
	seen := make(chan protocol.Result, 1)
	observer.OnResult = func(r protocol.Result) { seen <- r }
	if err := observer.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer observer.Close()

	// Wait until the hub knows the observer
	for env.server.wsMgr.clientCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	env.do(http.MethodPost, "/api/click?button=right", "", "X-Request-ID", "http-1")

	select {
	case r := <-seen:
		if r.ID != "http-1" || r.Op != protocol.OpClick {
			t.Errorf("Unexpected broadcast %+v", r)
		}
	case <-ctx.Done():
		t.Fatal("Expected broadcast result")
	}
}

func TestWebSocketInBandAuth(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.API.Token = "secret" })
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	url := "ws://" + srv.Listener.Addr().String() + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	roundTrip := func(typ protocol.MessageType, id string, payload any) protocol.Result {
		msg, _ := protocol.NewMessage(typ, id, payload)
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatal(err)
		}
		var reply protocol.Message
		if err := conn.ReadJSON(&reply); err != nil {
			t.Fatal(err)
		}
		var res protocol.Result
		reply.Decode(&res)
		return res
	}

	if res := roundTrip(protocol.TypeIntent, "1", protocol.Intent{Op: protocol.OpClick}); res.OK || res.Error != "unauthorized" {
		t.Errorf("Expected unauthorized before auth, got %+v", res)
	}
	if res := roundTrip(protocol.TypeAuth, "2", protocol.AuthPayload{Token: "secret"}); !res.OK {
		t.Fatalf("Expected auth to succeed, got %+v", res)
	}
	if res := roundTrip(protocol.TypeIntent, "3", protocol.Intent{Op: protocol.OpClick}); !res.OK || res.ID != "3" {
		t.Errorf("Expected intent to succeed after auth, got %+v", res)
	}
	if calls := env.synth.snapshot(); len(calls) != 1 {
		t.Errorf("Expected exactly one synth call, got %v", calls)
	}
}
