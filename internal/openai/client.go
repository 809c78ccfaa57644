// Package openai implements the websocket client for the OpenAI Realtime API.
// One client serves exactly one call session: it is dialed once when the call
// stream starts and closed once when the session ends.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/codec"
	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/protocol"
)

// Callbacks receives decoded model events. OnEvent fires for every inbound
// event, including the ones that also trigger a typed callback, so the relay
// can mirror the full stream to its observer.
type Callbacks struct {
	OnReady         func()
	OnAudioDelta    func(itemID string, delta string)
	OnFunctionCall  func(call protocol.FunctionCall)
	OnSpeechStarted func()
	OnEvent         func(data []byte)
	OnClosed        func(err error)
	OnError         func(err error)
}

// Client represents one model connection.
type Client struct {
	cfg       Config
	logger    *zap.Logger
	callbacks Callbacks

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	writeMu sync.Mutex
}

// NewClient prepares a client; nothing is dialed until Connect.
func NewClient(cfg Config, callbacks Callbacks, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return &Client{
		cfg:       cfg,
		logger:    logger,
		callbacks: callbacks,
	}
}

// Connect dials the Realtime API once and starts the read loop. There is no
// reconnect: a lost model connection ends the call session.
func (c *Client) Connect(ctx context.Context) error {
	endpoint, err := c.dialURL()
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	c.logger.Info("model connecting",
		zap.String("model", c.cfg.Model),
	)

	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return errors.New("model client closed")
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("model connected", zap.String("model", c.cfg.Model))
	go c.readLoop(conn)
	return nil
}

// Close tears the connection down. Safe to call more than once and before
// Connect.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

// SendSessionUpdate forwards a session configuration object.
func (c *Client) SendSessionUpdate(ctx context.Context, session json.RawMessage) error {
	return c.sendJSON(ctx, protocol.NewSessionUpdate(session))
}

// AppendAudio forwards one opaque base64 caller audio chunk.
func (c *Client) AppendAudio(ctx context.Context, payload string) error {
	return c.sendJSON(ctx, protocol.NewInputAudioAppend(payload))
}

// SendFunctionOutput feeds a function result back referencing the model's
// original call_id.
func (c *Client) SendFunctionOutput(ctx context.Context, callID string, output string) error {
	return c.sendJSON(ctx, protocol.NewFunctionOutput(callID, output))
}

// CreateResponse nudges the model to continue speaking.
func (c *Client) CreateResponse(ctx context.Context) error {
	return c.sendJSON(ctx, protocol.NewResponseCreate())
}

// TruncateItem cuts assistant audio that the caller interrupted.
func (c *Client) TruncateItem(ctx context.Context, itemID string, audioEndMS int64) error {
	return c.sendJSON(ctx, protocol.NewItemTruncate(itemID, audioEndMS))
}

func (c *Client) dialURL() (string, error) {
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	query := base.Query()
	query.Set("model", c.cfg.Model)
	base.RawQuery = query.Encode()
	return base.String(), nil
}

func (c *Client) sendJSON(ctx context.Context, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("model connection not ready")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(payload)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			deliberate := c.closed
			if c.conn == conn {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			if deliberate {
				err = nil
			}
			if c.callbacks.OnClosed != nil {
				c.callbacks.OnClosed(err)
			}
			return
		}
		c.handleEvent(data)
	}
}

func (c *Client) handleEvent(data []byte) {
	ev, ok := codec.Decode(data)
	if !ok {
		c.reportError(errors.New("model event is not valid JSON"))
		return
	}

	if c.callbacks.OnEvent != nil {
		c.callbacks.OnEvent(ev.Raw)
	}

	switch ev.Kind {
	case protocol.RealtimeSessionCreated:
		if c.callbacks.OnReady != nil {
			c.callbacks.OnReady()
		}
	case protocol.RealtimeResponseAudioDelta:
		var event protocol.RealtimeEvent
		if !codec.Unmarshal(ev.Raw, &event) {
			return
		}
		if event.Delta != "" && c.callbacks.OnAudioDelta != nil {
			c.callbacks.OnAudioDelta(event.ItemID, event.Delta)
		}
	case protocol.RealtimeSpeechStarted:
		if c.callbacks.OnSpeechStarted != nil {
			c.callbacks.OnSpeechStarted()
		}
	case protocol.RealtimeOutputItemDone:
		var event protocol.RealtimeEvent
		if !codec.Unmarshal(ev.Raw, &event) {
			return
		}
		if event.Item != nil && event.Item.Type == "function_call" && c.callbacks.OnFunctionCall != nil {
			c.callbacks.OnFunctionCall(protocol.FunctionCall{
				CallID:    event.Item.CallID,
				Name:      event.Item.Name,
				Arguments: event.Item.Arguments,
			})
		}
	case protocol.RealtimeFunctionArgsDone:
		var event protocol.RealtimeEvent
		if !codec.Unmarshal(ev.Raw, &event) {
			return
		}
		if event.Name != "" && c.callbacks.OnFunctionCall != nil {
			c.callbacks.OnFunctionCall(protocol.FunctionCall{
				CallID:    event.CallID,
				Name:      event.Name,
				Arguments: event.Arguments,
			})
		}
	}
}

func (c *Client) reportError(err error) {
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(err)
	}
}
