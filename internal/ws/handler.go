// Package ws accepts the two server-side websocket connections (telephony
// call stream and monitoring frontend) and hands them to the relay.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/codec"
	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/metrics"
	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/openai"
	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/protocol"
	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/registry"
	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/relay"
)

// Options configures a Handler.
type Options struct {
	Logger            *zap.Logger
	Metrics           *metrics.Metrics
	Registry          *registry.Registry
	Model             openai.Config
	Voice             string
	AudioBufferFrames int
}

// Handler owns at most one live call session and at most one frontend
// connection. A new call replaces the previous session; the frontend's last
// session.update is remembered and seeds the next session's configuration.
type Handler struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	registry *registry.Registry
	model    openai.Config
	voice    string
	frames   int

	mu          sync.Mutex
	current     *relay.Session
	frontend    *frontendConn
	savedConfig json.RawMessage
}

// NewHandler executes the newHandler function.
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New("bridge")
	}
	if opts.Registry == nil {
		opts.Registry = registry.New(logger)
	}
	return &Handler{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		metrics:  opts.Metrics,
		registry: opts.Registry,
		model:    opts.Model,
		voice:    opts.Voice,
		frames:   opts.AudioBufferFrames,
	}
}

// HandleCall upgrades the telephony media-stream websocket and runs its read
// loop until the stream ends.
func (h *Handler) HandleCall(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("telephony upgrade failed", zap.Error(err))
		return
	}

	tel := &telephonyConn{conn: conn}
	h.mu.Lock()
	saved := h.savedConfig
	frontend := h.frontend
	previous := h.current
	h.mu.Unlock()

	if previous != nil {
		h.logger.Info("new call replaces existing session")
		previous.Close("replaced by new call")
	}

	sess := relay.New(tel, relay.Config{
		Logger:            h.logger,
		Metrics:           h.metrics,
		Registry:          h.registry,
		Dial:              h.dialModel,
		Voice:             h.voice,
		AudioBufferFrames: h.frames,
		PendingConfig:     saved,
	})
	if frontend != nil {
		sess.SetObserver(frontend)
	}

	h.mu.Lock()
	h.current = sess
	h.mu.Unlock()

	h.logger.Info("call connected", zap.String("session_id", sess.ID()))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		sess.HandleTelephonyMessage(data)
	}
	sess.Close("telephony connection closed")

	h.mu.Lock()
	if h.current == sess {
		h.current = nil
	}
	h.mu.Unlock()
}

// HandleLogs upgrades the monitoring frontend websocket. The frontend
// observes the current session's model events and can push session.update
// configuration, which is also remembered for future calls.
func (h *Handler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("frontend upgrade failed", zap.Error(err))
		return
	}

	fc := &frontendConn{conn: conn}
	h.mu.Lock()
	old := h.frontend
	h.frontend = fc
	current := h.current
	h.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	if current != nil {
		current.SetObserver(fc)
	}
	h.logger.Info("frontend connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		h.handleFrontendMessage(data)
	}

	// The frontend is a diagnostic surface: losing it detaches the observer
	// but never drops the call.
	h.mu.Lock()
	wasActive := h.frontend == fc
	if wasActive {
		h.frontend = nil
	}
	current = h.current
	h.mu.Unlock()

	_ = fc.Close()
	if current != nil && wasActive {
		current.SetObserver(nil)
	}
	h.logger.Info("frontend disconnected")
}

// SavedConfig returns the last session.update payload pushed by the frontend.
func (h *Handler) SavedConfig() json.RawMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.savedConfig
}

func (h *Handler) handleFrontendMessage(data []byte) {
	if ev, ok := codec.Decode(data); ok && ev.Kind == protocol.RealtimeSessionUpdate {
		var event protocol.RealtimeEvent
		if codec.Unmarshal(ev.Raw, &event) && len(event.Session) > 0 {
			h.mu.Lock()
			h.savedConfig = event.Session
			h.mu.Unlock()
		}
	}

	h.mu.Lock()
	current := h.current
	h.mu.Unlock()
	if current != nil {
		current.HandleFrontendMessage(data)
	}
}

func (h *Handler) dialModel(ctx context.Context, cb relay.ModelCallbacks) (relay.ModelConn, error) {
	client := openai.NewClient(h.model, openai.Callbacks{
		OnReady:         cb.OnReady,
		OnAudioDelta:    cb.OnAudioDelta,
		OnFunctionCall:  cb.OnFunctionCall,
		OnSpeechStarted: cb.OnSpeechStarted,
		OnEvent:         cb.OnEvent,
		OnClosed:        cb.OnClosed,
	}, h.logger)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// telephonyConn serializes writes back down the call stream.
type telephonyConn struct {
	conn   *websocket.Conn
	sendMu sync.Mutex
}

func (t *telephonyConn) Send(msg any) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	return t.conn.WriteJSON(msg)
}

func (t *telephonyConn) Close() error {
	return t.conn.Close()
}

// frontendConn mirrors raw model events to the monitoring frontend.
type frontendConn struct {
	conn   *websocket.Conn
	sendMu sync.Mutex
}

func (f *frontendConn) Send(data []byte) error {
	f.sendMu.Lock()
	defer f.sendMu.Unlock()
	return f.conn.WriteMessage(websocket.TextMessage, data)
}

func (f *frontendConn) Close() error {
	return f.conn.Close()
}
