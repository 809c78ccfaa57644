package openai

// Config carries the Realtime API connection settings.
type Config struct {
	// BaseURL is the websocket endpoint without the model query parameter.
	BaseURL string
	Model   string
	APIKey  string
}

const (
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
	defaultModel   = "gpt-4o-realtime-preview-2024-12-17"
)
