package protocol

import "encoding/json"

// OpenAI Realtime API event types the relay translates. Any type not listed
// here is mirrored to the frontend untouched.
const (
	RealtimeSessionCreated     = "session.created"
	RealtimeSessionUpdate      = "session.update"
	RealtimeInputAudioAppend   = "input_audio_buffer.append"
	RealtimeSpeechStarted      = "input_audio_buffer.speech_started"
	RealtimeResponseAudioDelta = "response.audio.delta"
	RealtimeOutputItemDone     = "response.output_item.done"
	RealtimeFunctionArgsDone   = "response.function_call_arguments.done"
	RealtimeConversationCreate = "conversation.item.create"
	RealtimeConversationTrunc  = "conversation.item.truncate"
	RealtimeResponseCreate     = "response.create"
	RealtimeErrorEvent         = "error"
)

// RealtimeEvent is the envelope for inbound model events. Fields cover the
// union of event types the relay cares about; unknown events keep only Type.
type RealtimeEvent struct {
	Type      string            `json:"type"`
	ItemID    string            `json:"item_id,omitempty"`
	Delta     string            `json:"delta,omitempty"`
	CallID    string            `json:"call_id,omitempty"`
	Name      string            `json:"name,omitempty"`
	Arguments string            `json:"arguments,omitempty"`
	Item      *ConversationItem `json:"item,omitempty"`
	Session   json.RawMessage   `json:"session,omitempty"`
}

// ConversationItem is the item payload of response.output_item.done.
type ConversationItem struct {
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`
}

// FunctionCall is one model-initiated invocation request. The arguments are
// the model's string-encoded JSON parameter object, passed through verbatim.
type FunctionCall struct {
	CallID    string
	Name      string
	Arguments string
}

// NewSessionUpdate builds a session.update event from a raw session object.
func NewSessionUpdate(session json.RawMessage) map[string]any {
	return map[string]any{
		"type":    RealtimeSessionUpdate,
		"session": session,
	}
}

// NewInputAudioAppend builds an input_audio_buffer.append event from a base64
// audio payload. The payload is opaque to the relay.
func NewInputAudioAppend(payload string) map[string]any {
	return map[string]any{
		"type":  RealtimeInputAudioAppend,
		"audio": payload,
	}
}

// NewFunctionOutput builds the conversation.item.create event that feeds a
// function result back into the conversation under the model's call_id.
func NewFunctionOutput(callID string, output string) map[string]any {
	return map[string]any{
		"type": RealtimeConversationCreate,
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	}
}

// NewResponseCreate builds the response.create nudge sent after a function
// result so the model resumes speaking.
func NewResponseCreate() map[string]any {
	return map[string]any{"type": RealtimeResponseCreate}
}

// NewItemTruncate builds a conversation.item.truncate event cutting assistant
// audio at the given playback offset.
func NewItemTruncate(itemID string, audioEndMS int64) map[string]any {
	return map[string]any{
		"type":          RealtimeConversationTrunc,
		"item_id":       itemID,
		"content_index": 0,
		"audio_end_ms":  audioEndMS,
	}
}
