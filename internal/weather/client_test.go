package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDemoModeWithoutAPIKey(t *testing.T) {
	c := NewClient("", "", nil)
	if !c.DemoMode() {
		t.Fatal("expected demo mode with empty API key")
	}

	report, err := c.Current(context.Background(), "Boston")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if !report.Demo {
		t.Error("report should be flagged as demo")
	}
	if report.Location != "Boston" {
		t.Errorf("Location = %q, want Boston", report.Location)
	}
	if !strings.Contains(report.Summary(), "sunny and 72°F") {
		t.Errorf("demo summary = %q, want sunny and 72°F", report.Summary())
	}
}

func TestDefaultLocation(t *testing.T) {
	c := NewClient("", "", nil)
	report, err := c.Current(context.Background(), "")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if report.Location != DefaultLocation {
		t.Errorf("Location = %q, want %q", report.Location, DefaultLocation)
	}
}

func TestCurrentParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "Seattle" {
			t.Errorf("q = %q, want Seattle", got)
		}
		if got := r.URL.Query().Get("units"); got != "imperial" {
			t.Errorf("units = %q, want imperial", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"name": "Seattle",
			"sys": {"country": "US"},
			"main": {"temp": 54.6, "feels_like": 52.1, "humidity": 81},
			"weather": [{"description": "light rain"}],
			"wind": {"speed": 7.5}
		}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL, nil)
	report, err := c.Current(context.Background(), "Seattle")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}

	if report.Location != "Seattle, US" {
		t.Errorf("Location = %q, want Seattle, US", report.Location)
	}
	if report.Temperature != "55°F" {
		t.Errorf("Temperature = %q, want 55°F", report.Temperature)
	}
	if report.Condition != "Light Rain" {
		t.Errorf("Condition = %q, want Light Rain", report.Condition)
	}
	if report.Humidity != "81%" {
		t.Errorf("Humidity = %q, want 81%%", report.Humidity)
	}
	if report.WindSpeed != "7.5 mph" {
		t.Errorf("WindSpeed = %q, want 7.5 mph", report.WindSpeed)
	}
	if report.Demo {
		t.Error("live report should not be flagged as demo")
	}
}

func TestCurrentServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"cod":401,"message":"Invalid API key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient("bad-key", srv.URL, nil)
	if _, err := c.Current(context.Background(), "Seattle"); err == nil {
		t.Fatal("expected error on 401 response")
	}
}

func TestSummaryLiveReport(t *testing.T) {
	r := &Report{
		Location:    "Seattle, US",
		Temperature: "55°F",
		FeelsLike:   "52°F",
		Condition:   "Light Rain",
		Humidity:    "81%",
		WindSpeed:   "7.5 mph",
	}
	got := r.Summary()
	want := "The weather in Seattle, US is Light Rain with a temperature of 55°F (feels like 52°F). Humidity is 81% and wind speed is 7.5 mph."
	if got != want {
		t.Errorf("Summary = %q, want %q", got, want)
	}
}
