package tool

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testWeatherTool(t *testing.T, geocode, forecast http.HandlerFunc) *WeatherTool {
	t.Helper()
	geoSrv := httptest.NewServer(geocode)
	fcSrv := httptest.NewServer(forecast)
	t.Cleanup(geoSrv.Close)
	t.Cleanup(fcSrv.Close)
	return &WeatherTool{
		geocodeBase:  geoSrv.URL,
		forecastBase: fcSrv.URL,
		client:       &http.Client{Timeout: 5 * time.Second},
		logger:       testLogger(),
	}
}

const sampleForecast = `{
	"current": {"temperature_2m": 68.5, "apparent_temperature": 67.0, "weather_code": 2, "wind_speed_10m": 7.2},
	"daily": {
		"time": ["2026-08-28", "2026-08-29", "2026-08-30"],
		"weather_code": [2, 61, 0],
		"temperature_2m_max": [75.0, 71.2, 78.1],
		"temperature_2m_min": [58.0, 57.5, 59.9],
		"precipitation_probability_max": [5, 60, 0]
	}
}`

func TestWeather_HappyPath(t *testing.T) {
	tool := testWeatherTool(t,
		func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("name") != "San Jose" {
				t.Errorf("unexpected geocode query: %q", r.URL.Query().Get("name"))
			}
			fmt.Fprint(w, `{"results": [{"name": "San Jose", "latitude": 37.34, "longitude": -121.89, "admin1": "California", "country": "United States"}]}`)
		},
		func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("temperature_unit") != "fahrenheit" {
				t.Errorf("expected fahrenheit, got %q", r.URL.Query().Get("temperature_unit"))
			}
			if r.URL.Query().Get("forecast_days") != "3" {
				t.Errorf("expected 3-day forecast, got %q", r.URL.Query().Get("forecast_days"))
			}
			fmt.Fprint(w, sampleForecast)
		},
	)

	result, err := tool.Execute(context.Background(), map[string]any{"location": "San Jose"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	payload := result.(map[string]any)
	if payload["location"] != "San Jose, California" {
		t.Fatalf("unexpected location: %v", payload["location"])
	}
	current := payload["current"].(map[string]any)
	if current["conditions"] != "partly cloudy" {
		t.Fatalf("weather code 2 should be partly cloudy, got %v", current["conditions"])
	}
	forecast := payload["forecast"].([]map[string]any)
	if len(forecast) != 3 {
		t.Fatalf("expected 3 forecast days, got %d", len(forecast))
	}
	if forecast[1]["conditions"] != "slight rain" {
		t.Fatalf("weather code 61 should be slight rain, got %v", forecast[1]["conditions"])
	}
}

func TestWeather_StateHintPicksRightCity(t *testing.T) {
	tool := testWeatherTool(t,
		func(w http.ResponseWriter, r *http.Request) {
			// Two Springfields; the state hint should pick the second
			fmt.Fprint(w, `{"results": [
				{"name": "Springfield", "latitude": 39.8, "longitude": -89.6, "admin1": "Illinois"},
				{"name": "Springfield", "latitude": 42.1, "longitude": -72.6, "admin1": "Massachusetts"}
			]}`)
		},
		func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("latitude") != "42.1000" {
				t.Errorf("expected Massachusetts coordinates, got %q", r.URL.Query().Get("latitude"))
			}
			fmt.Fprint(w, sampleForecast)
		},
	)

	result, err := tool.Execute(context.Background(), map[string]any{"location": "Springfield, Massachusetts"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	payload := result.(map[string]any)
	if payload["location"] != "Springfield, Massachusetts" {
		t.Fatalf("unexpected location: %v", payload["location"])
	}
}

func TestWeather_UnknownLocation(t *testing.T) {
	tool := testWeatherTool(t,
		func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"results": []}`)
		},
		func(w http.ResponseWriter, r *http.Request) {
			t.Error("forecast should not be called for unknown location")
		},
	)

	_, err := tool.Execute(context.Background(), map[string]any{"location": "Nowheresville"})
	if err == nil {
		t.Fatal("expected error for unknown location")
	}
}

func TestWeather_EmptyLocation(t *testing.T) {
	tool := NewWeatherTool(testLogger())
	if _, err := tool.Execute(context.Background(), map[string]any{"location": "  "}); err == nil {
		t.Fatal("expected error for empty location")
	}
}

func TestDescribeWeatherCode_Unknown(t *testing.T) {
	if describeWeatherCode(42) != "unknown (code 42)" {
		t.Fatalf("unexpected: %s", describeWeatherCode(42))
	}
}
