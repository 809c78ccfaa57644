// Package functions holds the built-in function handlers registered with the
// relay's function registry.
package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/registry"
)

const defaultWeatherBaseURL = "https://api.open-meteo.com/v1/forecast"

// weatherSchema matches the tool catalog shape expected by the Realtime API.
var weatherSchema = registry.Schema{
	Name:        "get_weather_from_coords",
	Description: "Get the current weather from latitude and longitude coordinates.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"latitude": {"type": "number"},
			"longitude": {"type": "number"}
		},
		"required": ["latitude", "longitude"]
	}`),
}

type weatherArgs struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type weatherResponse struct {
	Current struct {
		Temperature *float64 `json:"temperature_2m"`
	} `json:"current"`
}

// Weather looks up current conditions from the Open-Meteo API.
type Weather struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewWeather creates the weather handler. A nil client gets a default with a
// request timeout so a slow upstream cannot hold a dispatch forever.
func NewWeather(baseURL string, client *http.Client, logger *zap.Logger) *Weather {
	if baseURL == "" {
		baseURL = defaultWeatherBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Weather{baseURL: baseURL, client: client, logger: logger}
}

// Handle fetches the current temperature for the given coordinates.
func (w *Weather) Handle(ctx context.Context, args json.RawMessage) (string, error) {
	var params weatherArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("decode weather arguments: %w", err)
	}

	query := url.Values{}
	query.Set("latitude", fmt.Sprintf("%g", params.Latitude))
	query.Set("longitude", fmt.Sprintf("%g", params.Longitude))
	query.Set("current", "temperature_2m,wind_speed_10m")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch weather: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("weather api status %d", resp.StatusCode)
	}

	var decoded weatherResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode weather response: %w", err)
	}
	if decoded.Current.Temperature == nil {
		return "", errors.New("weather response missing temperature")
	}

	result, err := json.Marshal(map[string]float64{"temp": *decoded.Current.Temperature})
	if err != nil {
		return "", err
	}
	w.logger.Debug("weather lookup completed",
		zap.Float64("latitude", params.Latitude),
		zap.Float64("longitude", params.Longitude),
		zap.Float64("temp", *decoded.Current.Temperature),
	)
	return string(result), nil
}

// RegisterBuiltins wires every built-in handler into the registry.
func RegisterBuiltins(reg *registry.Registry, logger *zap.Logger) {
	weather := NewWeather("", nil, logger)
	reg.Register(weatherSchema, weather.Handle)
}
