// Package codec parses and serializes the JSON event envelopes used by the
// telephony, model, and frontend connections. Malformed input yields an
// explicit unparseable result instead of an error; unknown event kinds are
// retained with their raw payload so new protocol events never crash the relay.
package codec

import (
	"bytes"
	"encoding/json"
)

// Event is one decoded protocol event. Kind is the value of the envelope's
// discriminator field ("event" for Twilio, "type" for Realtime and frontend
// messages); Raw is the untouched payload for lossless passthrough.
type Event struct {
	Kind string
	Raw  json.RawMessage
}

type envelope struct {
	Event string `json:"event"`
	Type  string `json:"type"`
}

// Decode parses a single protocol event. The second return value is false for
// input that is not a JSON object; Decode never panics and never returns an
// error to the caller.
func Decode(data []byte) (Event, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Event{}, false
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Event{}, false
	}
	kind := env.Type
	if kind == "" {
		kind = env.Event
	}
	raw := make(json.RawMessage, len(trimmed))
	copy(raw, trimmed)
	return Event{Kind: kind, Raw: raw}, true
}

// Unmarshal decodes an event payload into a typed structure, reporting
// success instead of raising. Numbers and strings survive the round trip
// untouched because payloads are kept as raw JSON until this point.
func Unmarshal(raw json.RawMessage, v any) bool {
	return json.Unmarshal(raw, v) == nil
}

// Encode serializes an event payload mapping to canonical JSON text. A nil
// result signals a payload that cannot be represented, which callers treat as
// a skipped write.
func Encode(payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}
