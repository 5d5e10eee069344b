package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// weatherCodes maps Open-Meteo WMO codes to plain text.
var weatherCodes = map[int]string{
	0: "clear sky", 1: "mainly clear", 2: "partly cloudy", 3: "overcast",
	45: "fog", 48: "depositing rime fog",
	51: "light drizzle", 53: "moderate drizzle", 55: "dense drizzle",
	61: "slight rain", 63: "moderate rain", 65: "heavy rain",
	71: "slight snow", 73: "moderate snow", 75: "heavy snow",
	80: "slight rain showers", 81: "moderate rain showers", 82: "violent rain showers",
	95: "thunderstorm", 96: "thunderstorm with slight hail", 99: "thunderstorm with heavy hail",
}

// WeatherTool fetches current conditions and a 3-day forecast from
// Open-Meteo (no API key needed).
type WeatherTool struct {
	geocodeBase  string
	forecastBase string
	client       *http.Client
	logger       *slog.Logger
}

func NewWeatherTool(logger *slog.Logger) *WeatherTool {
	return &WeatherTool{
		geocodeBase:  "https://geocoding-api.open-meteo.com/v1/search",
		forecastBase: "https://api.open-meteo.com/v1/forecast",
		client:       &http.Client{Timeout: 15 * time.Second},
		logger:       logger,
	}
}

func (t *WeatherTool) Name() string { return "getWeather" }
func (t *WeatherTool) Description() string {
	return "Get the current weather and a 3-day forecast for a location. Accepts 'City' or 'City, State'."
}
func (t *WeatherTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"location": {Type: "string", Description: "City name, optionally with state, e.g. 'San Jose, CA'"},
	}, []string{"location"})
}

func (t *WeatherTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	location := strings.TrimSpace(ArgsString(args, "location"))
	if location == "" {
		return nil, fmt.Errorf("location is required")
	}

	lat, lon, resolved, err := t.geocode(ctx, location)
	if err != nil {
		return nil, err
	}

	forecast, err := t.forecast(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	forecast["location"] = resolved
	return forecast, nil
}

type geocodeResult struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Admin1    string  `json:"admin1"`
	Country   string  `json:"country"`
}

func (t *WeatherTool) geocode(ctx context.Context, location string) (lat, lon float64, resolved string, err error) {
	// "City, State" splits into a name query plus a state hint
	city := location
	stateHint := ""
	if idx := strings.Index(location, ","); idx >= 0 {
		city = strings.TrimSpace(location[:idx])
		stateHint = strings.TrimSpace(location[idx+1:])
	}

	q := url.Values{}
	q.Set("name", city)
	q.Set("count", "10")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.geocodeBase+"?"+q.Encode(), nil)
	if err != nil {
		return 0, 0, "", fmt.Errorf("geocode request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return 0, 0, "", fmt.Errorf("geocode %q: %w", city, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, "", fmt.Errorf("geocode %q: status %d", city, resp.StatusCode)
	}

	var parsed struct {
		Results []geocodeResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, 0, "", fmt.Errorf("geocode decode: %w", err)
	}
	if len(parsed.Results) == 0 {
		return 0, 0, "", fmt.Errorf("could not find location %q", location)
	}

	best := parsed.Results[0]
	if stateHint != "" {
		hint := strings.ToLower(stateHint)
		for _, r := range parsed.Results {
			admin := strings.ToLower(r.Admin1)
			if admin == hint || strings.HasPrefix(admin, hint) {
				best = r
				break
			}
		}
	}

	resolved = best.Name
	if best.Admin1 != "" {
		resolved += ", " + best.Admin1
	}
	return best.Latitude, best.Longitude, resolved, nil
}

func (t *WeatherTool) forecast(ctx context.Context, lat, lon float64) (map[string]any, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", lat))
	q.Set("longitude", fmt.Sprintf("%.4f", lon))
	q.Set("current", "temperature_2m,apparent_temperature,weather_code,wind_speed_10m")
	q.Set("daily", "weather_code,temperature_2m_max,temperature_2m_min,precipitation_probability_max")
	q.Set("temperature_unit", "fahrenheit")
	q.Set("wind_speed_unit", "mph")
	q.Set("forecast_days", "3")
	q.Set("timezone", "auto")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.forecastBase+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("forecast request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forecast fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("forecast fetch: status %d", resp.StatusCode)
	}

	var parsed struct {
		Current struct {
			Temperature float64 `json:"temperature_2m"`
			FeelsLike   float64 `json:"apparent_temperature"`
			WeatherCode int     `json:"weather_code"`
			WindSpeed   float64 `json:"wind_speed_10m"`
		} `json:"current"`
		Daily struct {
			Time         []string  `json:"time"`
			WeatherCode  []int     `json:"weather_code"`
			TempMax      []float64 `json:"temperature_2m_max"`
			TempMin      []float64 `json:"temperature_2m_min"`
			PrecipChance []int     `json:"precipitation_probability_max"`
		} `json:"daily"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("forecast decode: %w", err)
	}

	days := make([]map[string]any, 0, len(parsed.Daily.Time))
	for i := range parsed.Daily.Time {
		day := map[string]any{
			"date":       parsed.Daily.Time[i],
			"conditions": describeWeatherCode(parsed.Daily.WeatherCode[i]),
			"high_f":     parsed.Daily.TempMax[i],
			"low_f":      parsed.Daily.TempMin[i],
		}
		if i < len(parsed.Daily.PrecipChance) {
			day["precipitation_chance"] = parsed.Daily.PrecipChance[i]
		}
		days = append(days, day)
	}

	return map[string]any{
		"current": map[string]any{
			"temperature_f": parsed.Current.Temperature,
			"feels_like_f":  parsed.Current.FeelsLike,
			"conditions":    describeWeatherCode(parsed.Current.WeatherCode),
			"wind_mph":      parsed.Current.WindSpeed,
		},
		"forecast": days,
	}, nil
}

func describeWeatherCode(code int) string {
	if desc, ok := weatherCodes[code]; ok {
		return desc
	}
	return fmt.Sprintf("unknown (code %d)", code)
}
