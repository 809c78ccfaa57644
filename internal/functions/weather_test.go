package functions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWeatherHandle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("latitude"); got != "52.52" {
			t.Fatalf("latitude=%q, want %q", got, "52.52")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"current":{"temperature_2m":18.4,"wind_speed_10m":3.1}}`))
	}))
	defer server.Close()

	weather := NewWeather(server.URL, server.Client(), nil)
	result, err := weather.Handle(context.Background(), json.RawMessage(`{"latitude":52.52,"longitude":13.41}`))
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	var payload map[string]float64
	if err := json.Unmarshal([]byte(result), &payload); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if payload["temp"] != 18.4 {
		t.Fatalf("temp=%v, want 18.4", payload["temp"])
	}
}

func TestWeatherHandleUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	weather := NewWeather(server.URL, server.Client(), nil)
	if _, err := weather.Handle(context.Background(), json.RawMessage(`{"latitude":1,"longitude":2}`)); err == nil {
		t.Fatal("Handle error=nil, want non-nil")
	}
}

func TestWeatherHandleMissingTemperature(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"current":{}}`))
	}))
	defer server.Close()

	weather := NewWeather(server.URL, server.Client(), nil)
	if _, err := weather.Handle(context.Background(), json.RawMessage(`{"latitude":1,"longitude":2}`)); err == nil {
		t.Fatal("Handle error=nil, want non-nil")
	}
}

func TestWeatherHandleMalformedArguments(t *testing.T) {
	weather := NewWeather("http://127.0.0.1:1", nil, nil)
	if _, err := weather.Handle(context.Background(), json.RawMessage(`{"latitude":"north"}`)); err == nil {
		t.Fatal("Handle error=nil, want non-nil")
	}
}
