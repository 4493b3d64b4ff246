// Package weather looks up current conditions from OpenWeatherMap.
//
// When no API key is configured the client returns a fixed demo report
// instead of failing, so the weather command stays usable during
// development and demos.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/verbalis/verbalis/internal/httpkit"
)

// DefaultBaseURL is the OpenWeatherMap current-weather API endpoint.
const DefaultBaseURL = "http://api.openweathermap.org/data/2.5"

// DefaultLocation is used when an utterance names no city.
const DefaultLocation = "New York"

// Report holds current conditions for a location. String fields carry
// their units ("72°F", "45%", "5 mph") so they read naturally when
// spoken back or shown raw.
type Report struct {
	Location    string `json:"location"`
	Temperature string `json:"temperature"`
	FeelsLike   string `json:"feels_like"`
	Condition   string `json:"condition"`
	Humidity    string `json:"humidity"`
	WindSpeed   string `json:"wind_speed"`
	Demo        bool   `json:"demo_mode,omitempty"`
}

// Summary returns the report as a single spoken sentence.
func (r *Report) Summary() string {
	if r.Demo {
		return fmt.Sprintf("The weather in %s is currently sunny and 72°F. (Demo mode - configure a weather API key for real data)", r.Location)
	}
	return fmt.Sprintf("The weather in %s is %s with a temperature of %s (feels like %s). Humidity is %s and wind speed is %s.",
		r.Location, r.Condition, r.Temperature, r.FeelsLike, r.Humidity, r.WindSpeed)
}

// Client is an OpenWeatherMap API client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a weather client. An empty apiKey enables demo
// mode. An empty baseURL selects DefaultBaseURL.
func NewClient(apiKey, baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(10 * time.Second)),
		logger:     logger,
	}
}

// DemoMode reports whether the client has no API key and serves canned
// data.
func (c *Client) DemoMode() bool { return c.apiKey == "" }

// Current returns the current weather for a location. Responses use
// imperial units. With no API key configured it returns a fixed demo
// report and never touches the network.
func (c *Client) Current(ctx context.Context, location string) (*Report, error) {
	if location == "" {
		location = DefaultLocation
	}

	if c.apiKey == "" {
		c.logger.Debug("weather demo mode", "location", location)
		return &Report{
			Location:    location,
			Temperature: "72°F",
			FeelsLike:   "72°F",
			Condition:   "Sunny",
			Humidity:    "45%",
			WindSpeed:   "5 mph",
			Demo:        true,
		}, nil
	}

	q := url.Values{}
	q.Set("q", location)
	q.Set("appid", c.apiKey)
	q.Set("units", "imperial")

	endpoint := c.baseURL + "/weather?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch weather for %q: %w", location, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("weather API error %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		Name string `json:"name"`
		Sys  struct {
			Country string `json:"country"`
		} `json:"sys"`
		Main struct {
			Temp      float64 `json:"temp"`
			FeelsLike float64 `json:"feels_like"`
			Humidity  int     `json:"humidity"`
		} `json:"main"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	condition := ""
	if len(payload.Weather) > 0 {
		condition = titleCase(payload.Weather[0].Description)
	}

	return &Report{
		Location:    fmt.Sprintf("%s, %s", payload.Name, payload.Sys.Country),
		Temperature: fmt.Sprintf("%.0f°F", math.Round(payload.Main.Temp)),
		FeelsLike:   fmt.Sprintf("%.0f°F", math.Round(payload.Main.FeelsLike)),
		Condition:   condition,
		Humidity:    fmt.Sprintf("%d%%", payload.Main.Humidity),
		WindSpeed:   fmt.Sprintf("%g mph", payload.Wind.Speed),
	}, nil
}

// titleCase capitalizes the first letter of each space-separated word.
// OpenWeatherMap descriptions are lowercase ("scattered clouds").
func titleCase(s string) string {
	out := []byte(s)
	upper := true
	for i, c := range out {
		if upper && c >= 'a' && c <= 'z' {
			out[i] = c - 'a' + 'A'
		}
		upper = c == ' '
	}
	return string(out)
}
