package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/openai"
)

// fakeModelServer plays the Realtime API side: it greets each connection with
// session.created and records everything the bridge sends.
type fakeModelServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	inbound  chan map[string]any
	accepted chan struct{}
}

func newFakeModelServer(t *testing.T) *fakeModelServer {
	f := &fakeModelServer{
		inbound:  make(chan map[string]any, 32),
		accepted: make(chan struct{}, 4),
	}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("model upgrade: %v", err)
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()
		f.accepted <- struct{}{}
		if err := conn.WriteJSON(map[string]any{"type": "session.created"}); err != nil {
			return
		}
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			f.inbound <- msg
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeModelServer) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeModelServer) send(t *testing.T, payload any) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		t.Fatalf("no model connection")
	}
	if err := f.conns[len(f.conns)-1].WriteJSON(payload); err != nil {
		t.Fatalf("model write: %v", err)
	}
}

func (f *fakeModelServer) recv(t *testing.T, wantType string) map[string]any {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-f.inbound:
			if msg["type"] == wantType {
				return msg
			}
		case <-deadline:
			t.Fatalf("model never received %q", wantType)
			return nil
		}
	}
}

func (f *fakeModelServer) waitAccepted(t *testing.T) {
	t.Helper()
	select {
	case <-f.accepted:
	case <-time.After(3 * time.Second):
		t.Fatalf("bridge never dialed the model")
	}
}

type bridgeHarness struct {
	handler *Handler
	srv     *httptest.Server
	model   *fakeModelServer
}

func newBridgeHarness(t *testing.T) *bridgeHarness {
	t.Helper()
	model := newFakeModelServer(t)
	handler := NewHandler(Options{
		Logger: zap.NewNop(),
		Model:  openai.Config{BaseURL: model.url(), APIKey: "sk-test"},
	})
	mux := http.NewServeMux()
	mux.HandleFunc("/call", handler.HandleCall)
	mux.HandleFunc("/logs", handler.HandleLogs)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &bridgeHarness{handler: handler, srv: srv, model: model}
}

func (b *bridgeHarness) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(b.srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, wantEvent string) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", wantEvent, err)
		}
		key := "event"
		if _, ok := msg["type"]; ok {
			key = "type"
		}
		if msg[key] == wantEvent {
			return msg
		}
	}
}

func TestBridgeEndToEnd(t *testing.T) {
	b := newBridgeHarness(t)

	frontend := b.dial(t, "/logs")
	if err := frontend.WriteJSON(map[string]any{
		"type":    "session.update",
		"session": map[string]any{"voice": "verse"},
	}); err != nil {
		t.Fatalf("frontend write: %v", err)
	}

	// Saved config is captured even with no call in progress.
	deadline := time.Now().Add(2 * time.Second)
	for len(b.handler.SavedConfig()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("savedConfig never captured")
		}
		time.Sleep(10 * time.Millisecond)
	}

	call := b.dial(t, "/call")
	if err := call.WriteJSON(map[string]any{
		"event": "start",
		"start": map[string]any{"streamSid": "MZ1", "callSid": "CA1"},
	}); err != nil {
		t.Fatalf("call write: %v", err)
	}
	b.model.waitAccepted(t)

	// The initial session.update merges defaults with the frontend's saved
	// configuration.
	update := b.model.recv(t, "session.update")
	session, _ := update["session"].(map[string]any)
	if session["voice"] != "verse" {
		t.Fatalf("voice = %v", session["voice"])
	}
	if session["input_audio_format"] != "g711_ulaw" {
		t.Fatalf("input format = %v", session["input_audio_format"])
	}

	if err := call.WriteJSON(map[string]any{
		"event": "media",
		"media": map[string]any{"payload": "ulaw1", "timestamp": "20"},
	}); err != nil {
		t.Fatalf("media write: %v", err)
	}
	appended := b.model.recv(t, "input_audio_buffer.append")
	if appended["audio"] != "ulaw1" {
		t.Fatalf("forwarded audio = %v", appended["audio"])
	}

	b.model.send(t, map[string]any{
		"type":    "response.audio.delta",
		"item_id": "item_1",
		"delta":   "replychunk",
	})
	media := readJSON(t, call, "media")
	payload, _ := media["media"].(map[string]any)
	if media["streamSid"] != "MZ1" || payload["payload"] != "replychunk" {
		t.Fatalf("telephony media = %v", media)
	}
	readJSON(t, call, "mark")

	// Every model event is mirrored to the frontend.
	mirrored := readJSON(t, frontend, "response.audio.delta")
	if mirrored["delta"] != "replychunk" {
		t.Fatalf("mirrored event = %v", mirrored)
	}

	// Telephony hangup cascades: the frontend websocket is closed too.
	call.Close()
	_ = frontend.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := frontend.ReadMessage(); err != nil {
			break
		}
	}
}

func TestNewCallReplacesExistingSession(t *testing.T) {
	b := newBridgeHarness(t)

	first := b.dial(t, "/call")
	if err := first.WriteJSON(map[string]any{
		"event": "start",
		"start": map[string]any{"streamSid": "MZ1"},
	}); err != nil {
		t.Fatalf("first call write: %v", err)
	}
	b.model.waitAccepted(t)
	b.model.recv(t, "session.update")

	second := b.dial(t, "/call")
	if err := second.WriteJSON(map[string]any{
		"event": "start",
		"start": map[string]any{"streamSid": "MZ2"},
	}); err != nil {
		t.Fatalf("second call write: %v", err)
	}
	b.model.waitAccepted(t)

	// The first telephony connection is closed by the bridge.
	_ = first.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}
}

func TestFrontendDisconnectDoesNotDropCall(t *testing.T) {
	b := newBridgeHarness(t)

	frontend := b.dial(t, "/logs")
	call := b.dial(t, "/call")
	if err := call.WriteJSON(map[string]any{
		"event": "start",
		"start": map[string]any{"streamSid": "MZ1"},
	}); err != nil {
		t.Fatalf("call write: %v", err)
	}
	b.model.waitAccepted(t)
	b.model.recv(t, "session.update")

	frontend.Close()
	time.Sleep(50 * time.Millisecond)

	if err := call.WriteJSON(map[string]any{
		"event": "media",
		"media": map[string]any{"payload": "still-alive", "timestamp": "40"},
	}); err != nil {
		t.Fatalf("media write: %v", err)
	}
	appended := b.model.recv(t, "input_audio_buffer.append")
	if appended["audio"] != "still-alive" {
		t.Fatalf("forwarded audio = %v", appended["audio"])
	}
}

func TestSavedConfigIgnoresNonSessionUpdates(t *testing.T) {
	b := newBridgeHarness(t)

	frontend := b.dial(t, "/logs")
	payloads := []any{
		map[string]any{"type": "response.create"},
		map[string]any{"type": "session.update"},
		json.RawMessage(`"just a string"`),
	}
	for _, p := range payloads {
		if err := frontend.WriteJSON(p); err != nil {
			t.Fatalf("frontend write: %v", err)
		}
	}
	time.Sleep(100 * time.Millisecond)
	if cfg := b.handler.SavedConfig(); len(cfg) != 0 {
		t.Fatalf("savedConfig = %s", cfg)
	}
}
