// Package relay holds the per-call session that bridges a telephony media
// stream to a Realtime model connection and mirrors traffic to an optional
// monitoring frontend.
package relay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/codec"
	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/metrics"
	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/protocol"
	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/registry"
	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/relay/fsm"
)

const defaultAudioBufferFrames = 512

const defaultInstructions = "You are a helpful and friendly phone assistant. " +
	"Keep answers short and conversational, and use the available tools when they help."

// ModelConn is the relay's view of a live model connection.
type ModelConn interface {
	SendSessionUpdate(ctx context.Context, session json.RawMessage) error
	AppendAudio(ctx context.Context, payload string) error
	SendFunctionOutput(ctx context.Context, callID string, output string) error
	CreateResponse(ctx context.Context) error
	TruncateItem(ctx context.Context, itemID string, audioEndMS int64) error
	Close()
}

// ModelCallbacks is how a dialed model connection reports back into the
// session. The dialer must wire every non-nil callback before returning.
type ModelCallbacks struct {
	OnReady         func()
	OnAudioDelta    func(itemID string, delta string)
	OnFunctionCall  func(call protocol.FunctionCall)
	OnSpeechStarted func()
	OnEvent         func(data []byte)
	OnClosed        func(err error)
}

// ModelDialer establishes one model connection for a session.
type ModelDialer func(ctx context.Context, callbacks ModelCallbacks) (ModelConn, error)

// TelephonySender sends messages back down the telephony websocket.
type TelephonySender interface {
	Send(msg any) error
	Close() error
}

// Observer receives raw mirrored model events. It is closed together with
// the session so no monitoring connection outlives the call it watched.
type Observer interface {
	Send(data []byte) error
	Close() error
}

// Config carries the session's collaborators and tunables.
type Config struct {
	Logger            *zap.Logger
	Metrics           *metrics.Metrics
	Registry          *registry.Registry
	Dial              ModelDialer
	Voice             string
	AudioBufferFrames int
	// PendingConfig is the saved session.update overlay from the frontend,
	// applied on top of the defaults when the model comes up.
	PendingConfig json.RawMessage
}

// Session is one call bridge. It is created when the telephony websocket
// connects and destroyed exactly once when either side ends.
type Session struct {
	id        string
	logger    *zap.Logger
	metrics   *metrics.Metrics
	registry  *registry.Registry
	dial      ModelDialer
	voice     string
	bufferCap int

	machine *fsm.Machine

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	telephony     TelephonySender
	observer      Observer
	model         ModelConn
	streamSID     string
	pendingConfig json.RawMessage
	audioBuf      []string
	latestMediaTS int64
	// responseStartTS is the telephony timestamp when the current assistant
	// reply started playing; -1 while no reply is in flight.
	responseStartTS   int64
	lastAssistantItem string
	markQueue         int
	dispatched        map[string]bool
	// readyPending records a session.created that arrived before the dial
	// goroutine stored the connection; connectModel replays it.
	readyPending bool
	// configSeq increments on every frontend session.update so onModelReady
	// can detect updates that landed after its snapshot.
	configSeq uint64

	closeOnce sync.Once
	done      chan struct{}
}

// New builds a session around an accepted telephony connection. The model is
// not dialed until the stream start event arrives.
func New(telephony TelephonySender, cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New("bridge")
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.New(logger)
	}
	bufferCap := cfg.AudioBufferFrames
	if bufferCap <= 0 {
		bufferCap = defaultAudioBufferFrames
	}
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	s := &Session{
		id:              id,
		logger:          logger.With(zap.String("session_id", id)),
		metrics:         cfg.Metrics,
		registry:        cfg.Registry,
		dial:            cfg.Dial,
		voice:           cfg.Voice,
		bufferCap:       bufferCap,
		machine:         fsm.New(),
		ctx:             ctx,
		cancel:          cancel,
		telephony:       telephony,
		pendingConfig:   cfg.PendingConfig,
		responseStartTS: -1,
		dispatched:      make(map[string]bool),
		done:            make(chan struct{}),
	}
	s.metrics.ActiveSessions.Inc()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Done closes when the session has fully torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// SetObserver attaches or detaches the monitoring frontend. Passing nil
// detaches without closing.
func (s *Session) SetObserver(obs Observer) {
	s.mu.Lock()
	s.observer = obs
	s.mu.Unlock()
}

// HandleTelephonyMessage processes one inbound telephony frame.
func (s *Session) HandleTelephonyMessage(data []byte) {
	s.metrics.WSMessages.WithLabelValues("telephony", "in").Inc()
	ev, ok := codec.Decode(data)
	if !ok {
		s.logger.Warn("telephony frame is not valid JSON")
		return
	}

	switch ev.Kind {
	case protocol.TwilioEventStart:
		s.handleStreamStart(ev.Raw)
	case protocol.TwilioEventMedia:
		s.handleMedia(ev.Raw)
	case protocol.TwilioEventMark:
		s.mu.Lock()
		if s.markQueue > 0 {
			s.markQueue--
		}
		s.mu.Unlock()
	case protocol.TwilioEventStop, protocol.TwilioEventClose:
		s.logger.Info("telephony stream ended", zap.String("event", ev.Kind))
		s.Close("telephony stream ended")
	default:
		s.logger.Debug("ignoring telephony event", zap.String("event", ev.Kind))
	}
}

// HandleFrontendMessage processes one inbound frontend frame. Only
// session.update is recognized; anything else is logged and dropped so a
// misbehaving frontend cannot inject arbitrary events into the model stream.
func (s *Session) HandleFrontendMessage(data []byte) {
	s.metrics.WSMessages.WithLabelValues("frontend", "in").Inc()
	ev, ok := codec.Decode(data)
	if !ok {
		s.logger.Warn("frontend frame is not valid JSON")
		return
	}
	if ev.Kind != protocol.RealtimeSessionUpdate {
		s.logger.Warn("dropping unrecognized frontend event", zap.String("event", ev.Kind))
		return
	}

	var event protocol.RealtimeEvent
	if !codec.Unmarshal(ev.Raw, &event) || len(event.Session) == 0 {
		s.logger.Warn("session.update carried no session object")
		return
	}

	s.mu.Lock()
	s.pendingConfig = event.Session
	s.configSeq++
	model := s.model
	active := s.machine.State() == fsm.StateActive
	s.mu.Unlock()

	s.metrics.SessionEvents.WithLabelValues("config_update").Inc()
	if model != nil && active {
		if err := model.SendSessionUpdate(s.ctx, event.Session); err != nil {
			s.logger.Warn("forwarding session.update failed", zap.Error(err))
		}
	}
}

// Close tears the session down. Idempotent; the first reason wins.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.machine.OnCloseRequested()
		s.logger.Info("session closing", zap.String("reason", reason))
		s.cancel()

		s.mu.Lock()
		model := s.model
		s.model = nil
		telephony := s.telephony
		s.telephony = nil
		observer := s.observer
		s.observer = nil
		s.audioBuf = nil
		s.mu.Unlock()

		if model != nil {
			model.Close()
		}
		if telephony != nil {
			_ = telephony.Close()
		}
		if observer != nil {
			_ = observer.Close()
		}

		s.machine.OnClosed()
		s.metrics.ActiveSessions.Dec()
		s.metrics.SessionEvents.WithLabelValues("closed").Inc()
		close(s.done)
	})
}

func (s *Session) handleStreamStart(raw json.RawMessage) {
	var msg protocol.TwilioMessage
	if !codec.Unmarshal(raw, &msg) || msg.Start == nil || msg.Start.StreamSID == "" {
		s.logger.Warn("stream start frame missing streamSid")
		return
	}
	if !s.machine.OnStreamStart() {
		s.logger.Warn("duplicate stream start ignored",
			zap.String("stream_sid", msg.Start.StreamSID),
		)
		return
	}

	s.mu.Lock()
	s.streamSID = msg.Start.StreamSID
	s.mu.Unlock()

	s.logger.Info("stream started",
		zap.String("stream_sid", msg.Start.StreamSID),
		zap.String("call_sid", msg.Start.CallSID),
	)
	s.metrics.SessionEvents.WithLabelValues("stream_start").Inc()

	go s.connectModel()
}

func (s *Session) handleMedia(raw json.RawMessage) {
	var msg protocol.TwilioMessage
	if !codec.Unmarshal(raw, &msg) || msg.Media == nil {
		return
	}

	s.mu.Lock()
	if ts := msg.Media.TimestampMS(); ts > 0 {
		s.latestMediaTS = ts
	}

	if s.machine.Buffering() {
		if len(s.audioBuf) >= s.bufferCap {
			s.mu.Unlock()
			s.metrics.AudioFramesDropped.Inc()
			return
		}
		s.audioBuf = append(s.audioBuf, msg.Media.Payload)
		s.mu.Unlock()
		return
	}

	model := s.model
	active := s.machine.State() == fsm.StateActive
	s.mu.Unlock()

	if !active || model == nil {
		return
	}
	// Forwarded outside the lock; write order is preserved by the model
	// connection's own write mutex.
	if err := model.AppendAudio(s.ctx, msg.Media.Payload); err != nil {
		s.logger.Warn("appending caller audio failed", zap.Error(err))
	}
}

func (s *Session) connectModel() {
	if s.dial == nil {
		s.logger.Error("no model dialer configured")
		s.Close("model unavailable")
		return
	}

	conn, err := s.dial(s.ctx, ModelCallbacks{
		OnReady:         s.onModelReady,
		OnAudioDelta:    s.onAudioDelta,
		OnFunctionCall:  s.onFunctionCall,
		OnSpeechStarted: s.onSpeechStarted,
		OnEvent:         s.onModelEvent,
		OnClosed:        s.onModelClosed,
	})
	if err != nil {
		s.logger.Error("model dial failed", zap.Error(err))
		s.metrics.SessionEvents.WithLabelValues("model_dial_failed").Inc()
		s.Close("model dial failed")
		return
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.model = conn
	replayReady := s.readyPending
	s.readyPending = false
	s.mu.Unlock()

	// The client's read loop starts before the dial returns, so
	// session.created may already have fired; replay it now that the
	// connection is attached.
	if replayReady {
		s.onModelReady()
	}
}

// onModelReady fires on session.created. It pushes the initial configuration
// and then flushes every buffered caller frame in arrival order before any
// new media is forwarded.
func (s *Session) onModelReady() {
	s.mu.Lock()
	model := s.model
	if model == nil {
		s.readyPending = true
		s.mu.Unlock()
		return
	}
	overlay := s.pendingConfig
	seq := s.configSeq
	s.mu.Unlock()

	cfg, err := s.buildSessionConfig(overlay)
	if err != nil {
		s.logger.Error("building session config failed", zap.Error(err))
		s.Close("session config failed")
		return
	}
	if err := model.SendSessionUpdate(s.ctx, cfg); err != nil {
		s.logger.Error("initial session.update failed", zap.Error(err))
		s.Close("model configuration failed")
		return
	}

	// Drain until the buffer stays empty, then flip to Active while holding
	// the lock so no frame can slip between the final drain and the state
	// change. Frames arriving after that forward directly, preserving order.
	flushed := 0
	for {
		s.mu.Lock()
		pending := s.audioBuf
		s.audioBuf = nil
		if len(pending) == 0 {
			s.machine.OnModelReady()
			s.mu.Unlock()
			break
		}
		s.mu.Unlock()
		for _, payload := range pending {
			if err := model.AppendAudio(s.ctx, payload); err != nil {
				s.logger.Warn("flushing buffered audio failed", zap.Error(err))
			}
			flushed++
			s.metrics.BufferedAudioFlushed.Inc()
		}
	}

	// A frontend session.update that landed after the snapshot above was
	// only stored; forward it so configuration pushed mid-connect is not
	// lost under the already-sent initial config.
	s.mu.Lock()
	latest := s.pendingConfig
	changed := s.configSeq != seq
	s.mu.Unlock()
	if changed {
		if err := model.SendSessionUpdate(s.ctx, latest); err != nil {
			s.logger.Warn("forwarding session.update failed", zap.Error(err))
		}
	}

	s.metrics.SessionEvents.WithLabelValues("model_ready").Inc()
	s.logger.Info("model session ready", zap.Int("flushed_frames", flushed))
}

func (s *Session) onAudioDelta(itemID string, delta string) {
	s.mu.Lock()
	telephony := s.telephony
	streamSID := s.streamSID
	if streamSID != "" {
		if s.responseStartTS < 0 {
			s.responseStartTS = s.latestMediaTS
		}
		if itemID != "" {
			s.lastAssistantItem = itemID
		}
		s.markQueue++
	}
	s.mu.Unlock()

	if telephony == nil || streamSID == "" {
		return
	}
	if err := telephony.Send(protocol.NewTwilioMediaMessage(streamSID, delta)); err != nil {
		s.logger.Warn("sending assistant audio failed", zap.Error(err))
		return
	}
	s.metrics.WSMessages.WithLabelValues("telephony", "out").Inc()
	if err := telephony.Send(protocol.NewTwilioMarkMessage(streamSID)); err != nil {
		s.logger.Warn("sending playback mark failed", zap.Error(err))
	}
}

// onSpeechStarted implements barge-in: when the caller talks over the
// assistant, the partially played reply is truncated at the playback offset
// and the telephony output buffer is cleared.
func (s *Session) onSpeechStarted() {
	s.mu.Lock()
	model := s.model
	telephony := s.telephony
	streamSID := s.streamSID
	itemID := s.lastAssistantItem
	interruptible := s.markQueue > 0 && s.responseStartTS >= 0 && itemID != ""
	var elapsed int64
	if interruptible {
		elapsed = s.latestMediaTS - s.responseStartTS
		if elapsed < 0 {
			elapsed = 0
		}
		s.lastAssistantItem = ""
		s.responseStartTS = -1
		s.markQueue = 0
	}
	s.mu.Unlock()

	if !interruptible {
		return
	}
	s.metrics.SessionEvents.WithLabelValues("interruption").Inc()
	if model != nil {
		if err := model.TruncateItem(s.ctx, itemID, elapsed); err != nil {
			s.logger.Warn("truncating assistant audio failed", zap.Error(err))
		}
	}
	if telephony != nil && streamSID != "" {
		if err := telephony.Send(protocol.NewTwilioClearMessage(streamSID)); err != nil {
			s.logger.Warn("clearing telephony buffer failed", zap.Error(err))
		}
	}
}

// onFunctionCall dispatches at most once per call_id: the model announces the
// same invocation through two different event types.
func (s *Session) onFunctionCall(call protocol.FunctionCall) {
	if call.Name == "" {
		return
	}
	s.mu.Lock()
	key := call.CallID
	if key == "" {
		key = call.Name + "\x00" + call.Arguments
	}
	if s.dispatched[key] {
		s.mu.Unlock()
		return
	}
	s.dispatched[key] = true
	s.mu.Unlock()

	go s.dispatchFunction(call)
}

func (s *Session) dispatchFunction(call protocol.FunctionCall) {
	s.logger.Info("dispatching function call",
		zap.String("function", call.Name),
		zap.String("call_id", call.CallID),
	)
	output := s.registry.Dispatch(s.ctx, call.Name, call.Arguments)

	outcome := "ok"
	var failure struct {
		Error string `json:"error"`
	}
	if json.Unmarshal([]byte(output), &failure) == nil && failure.Error != "" {
		outcome = "error"
	}
	s.metrics.FunctionCalls.WithLabelValues(call.Name, outcome).Inc()

	s.mu.Lock()
	model := s.model
	s.mu.Unlock()
	if model == nil || s.ctx.Err() != nil {
		return
	}
	if err := model.SendFunctionOutput(s.ctx, call.CallID, output); err != nil {
		s.logger.Warn("sending function output failed", zap.Error(err))
		return
	}
	if err := model.CreateResponse(s.ctx); err != nil {
		s.logger.Warn("requesting follow-up response failed", zap.Error(err))
	}
}

func (s *Session) onModelEvent(data []byte) {
	s.metrics.WSMessages.WithLabelValues("model", "in").Inc()
	s.mu.Lock()
	obs := s.observer
	s.mu.Unlock()
	if obs == nil {
		return
	}
	if err := obs.Send(data); err != nil {
		s.logger.Debug("mirroring event to frontend failed", zap.Error(err))
	}
	s.metrics.WSMessages.WithLabelValues("frontend", "out").Inc()
}

func (s *Session) onModelClosed(err error) {
	if err != nil {
		s.logger.Warn("model connection lost", zap.Error(err))
		s.Close("model connection lost")
		return
	}
	s.Close("model connection closed")
}

func (s *Session) buildSessionConfig(overlay json.RawMessage) (json.RawMessage, error) {
	voice := s.voice
	if voice == "" {
		voice = "ash"
	}
	cfg := map[string]json.RawMessage{}
	base := map[string]any{
		"turn_detection":            map[string]any{"type": "server_vad"},
		"input_audio_format":        "g711_ulaw",
		"output_audio_format":       "g711_ulaw",
		"voice":                     voice,
		"instructions":              defaultInstructions,
		"modalities":                []string{"text", "audio"},
		"temperature":               0.8,
		"input_audio_transcription": map[string]any{"model": "whisper-1"},
		"tools":                     s.registry.Schemas(),
	}
	for key, value := range base {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		cfg[key] = raw
	}
	if len(overlay) > 0 {
		var patch map[string]json.RawMessage
		if err := json.Unmarshal(overlay, &patch); err != nil {
			return nil, err
		}
		for key, value := range patch {
			cfg[key] = value
		}
	}
	return json.Marshal(cfg)
}
