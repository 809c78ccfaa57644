package protocol

import (
	"strconv"
)

// Twilio Media Streams event names carried in the "event" field.
const (
	TwilioEventStart = "start"
	TwilioEventMedia = "media"
	TwilioEventStop  = "stop"
	TwilioEventClose = "close"
	TwilioEventMark  = "mark"
	TwilioEventClear = "clear"
)

// TwilioMessage is the envelope for inbound Twilio Media Streams events.
// It intentionally keeps wire-compatible field names with the Twilio protocol.
type TwilioMessage struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid,omitempty"`
	Start     *TwilioStart `json:"start,omitempty"`
	Media     *TwilioMedia `json:"media,omitempty"`
}

// TwilioStart carries the stream metadata of the first event on a call stream.
type TwilioStart struct {
	StreamSID  string `json:"streamSid"`
	CallSID    string `json:"callSid,omitempty"`
	AccountSID string `json:"accountSid,omitempty"`
}

// TwilioMedia is one base64 audio chunk. Twilio encodes the timestamp as a
// decimal string of milliseconds since stream start.
type TwilioMedia struct {
	Payload   string `json:"payload"`
	Timestamp string `json:"timestamp,omitempty"`
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
}

// TimestampMS parses the media timestamp, returning 0 for absent or malformed
// values rather than failing the event.
func (m *TwilioMedia) TimestampMS() int64 {
	if m == nil || m.Timestamp == "" {
		return 0
	}
	ts, err := strconv.ParseInt(m.Timestamp, 10, 64)
	if err != nil {
		return 0
	}
	return ts
}

// NewTwilioMediaMessage builds an outbound media event carrying model audio
// back to the caller.
func NewTwilioMediaMessage(streamSID string, payload string) map[string]any {
	return map[string]any{
		"event":     TwilioEventMedia,
		"streamSid": streamSID,
		"media":     map[string]any{"payload": payload},
	}
}

// NewTwilioMarkMessage builds a mark event used to track playback progress.
// Twilio echoes the mark back once the preceding audio has been played.
func NewTwilioMarkMessage(streamSID string) map[string]any {
	return map[string]any{
		"event":     TwilioEventMark,
		"streamSid": streamSID,
		"mark":      map[string]any{"name": "responsePart"},
	}
}

// NewTwilioClearMessage builds a clear event that drops any audio Twilio has
// buffered but not yet played.
func NewTwilioClearMessage(streamSID string) map[string]any {
	return map[string]any{
		"event":     TwilioEventClear,
		"streamSid": streamSID,
	}
}
