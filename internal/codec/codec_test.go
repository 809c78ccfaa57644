package codec

import (
	"encoding/json"
	"testing"
)

func TestDecodeTwilioEnvelope(t *testing.T) {
	data := []byte(`{"event":"media","media":{"payload":"AAAA"}}`)

	ev, ok := Decode(data)
	if !ok {
		t.Fatal("Decode ok=false, want true")
	}
	if ev.Kind != "media" {
		t.Fatalf("Decode kind=%q, want %q", ev.Kind, "media")
	}
	if string(ev.Raw) != string(data) {
		t.Fatalf("Decode raw=%s, want %s", ev.Raw, data)
	}
}

func TestDecodeRealtimeEnvelope(t *testing.T) {
	ev, ok := Decode([]byte(`{"type":"session.created","session":{}}`))
	if !ok {
		t.Fatal("Decode ok=false, want true")
	}
	if ev.Kind != "session.created" {
		t.Fatalf("Decode kind=%q, want %q", ev.Kind, "session.created")
	}
}

func TestDecodeUnknownKindRetainsPayload(t *testing.T) {
	data := []byte(`{"type":"response.text.delta","delta":"hi","n":9007199254740993}`)

	ev, ok := Decode(data)
	if !ok {
		t.Fatal("Decode ok=false, want true")
	}
	if ev.Kind != "response.text.delta" {
		t.Fatalf("Decode kind=%q, want %q", ev.Kind, "response.text.delta")
	}
	// Large integer must survive untouched in the raw payload.
	if string(ev.Raw) != string(data) {
		t.Fatalf("Decode raw=%s, want %s", ev.Raw, data)
	}
}

func TestDecodeMalformedInput(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte(""),
		[]byte("   "),
		[]byte("not json"),
		[]byte(`{"event":`),
		[]byte(`[1,2,3]`),
		[]byte(`"just a string"`),
	}
	for _, data := range cases {
		if _, ok := Decode(data); ok {
			t.Fatalf("Decode(%q) ok=true, want false", string(data))
		}
	}
}

func TestDecodeMissingDiscriminator(t *testing.T) {
	ev, ok := Decode([]byte(`{"payload":"x"}`))
	if !ok {
		t.Fatal("Decode ok=false, want true")
	}
	if ev.Kind != "" {
		t.Fatalf("Decode kind=%q, want empty", ev.Kind)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	data := Encode(map[string]any{"type": "response.create"})
	if data == nil {
		t.Fatal("Encode returned nil")
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal encoded payload: %v", err)
	}
	if decoded["type"] != "response.create" {
		t.Fatalf("type=%v, want response.create", decoded["type"])
	}
}

func TestEncodeUnrepresentablePayload(t *testing.T) {
	if data := Encode(make(chan int)); data != nil {
		t.Fatalf("Encode(chan)=%s, want nil", data)
	}
}

func TestUnmarshalTolerant(t *testing.T) {
	var out struct {
		Delta string `json:"delta"`
	}
	if !Unmarshal(json.RawMessage(`{"delta":"abc"}`), &out) {
		t.Fatal("Unmarshal ok=false, want true")
	}
	if out.Delta != "abc" {
		t.Fatalf("delta=%q, want %q", out.Delta, "abc")
	}
	if Unmarshal(json.RawMessage(`{"delta":5}`), &out) {
		t.Fatal("Unmarshal ok=true for mismatched type, want false")
	}
}
