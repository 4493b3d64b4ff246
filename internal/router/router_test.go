package router

import (
	"testing"
)

func TestRouteTable(t *testing.T) {
	r := New(nil)

	tests := []struct {
		text string
		want string // directive name, "" for nil
	}{
		{"Can you schedule a meeting with Sam tomorrow?", "schedule_meeting"},
		{"What's on today's schedule?", "today_schedule"},
		{"Show my schedule today", "today_schedule"},
		{"What's my schedule for today?", "today_schedule"},
		{"When is my next meeting?", "next_meeting"},
		{"Do I have any free time this afternoon?", "free_time"},
		{"What's the weather like?", "weather"},
		{"Any news today?", "news"},
		{"Remind me to call mom", "reminder"},
		{"Set a timer for 5 minutes", "timer"},
		{"Take a note: buy milk", "note"},
		{"Search for golang tutorials", "search"},
		{"Translate hello to french", "translate"},
		{"Calculate 15 * 4", "calculate"},
		{"What is 2+2?", "calculate"},
		{"Tell me a fact", "fact"},
		{"Tell me a joke", "joke"},
		{"How are you doing?", ""},
		{"What is the meaning of life?", ""},
	}

	for _, tt := range tests {
		d := r.Route(tt.text)
		got := ""
		if d != nil {
			got = d.Name
		}
		if got != tt.want {
			t.Errorf("Route(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestPriorityIsPositionalInRuleList(t *testing.T) {
	r := New(nil)

	// "weather" appears first in the text, but the schedule+meeting
	// rule sits earlier in the table and wins.
	d := r.Route("Check the weather before you schedule the meeting")
	if d == nil || d.Name != "schedule_meeting" {
		t.Fatalf("got %+v, want schedule_meeting", d)
	}

	// "news" appears before "weather" in the text; the weather rule
	// is earlier in the table.
	d = r.Route("Skip the news, what's the weather?")
	if d == nil || d.Name != "weather" {
		t.Fatalf("got %+v, want weather", d)
	}
}

func TestWeatherLocationExtraction(t *testing.T) {
	r := New(nil)

	d := r.Route("What's the weather in San Francisco today?")
	if d == nil || d.Name != "weather" {
		t.Fatalf("got %+v", d)
	}
	if d.Params["location"] != "San Francisco today" {
		// Boundary slice runs to the sentence end, matching the
		// extraction contract rather than trying to be smart.
		t.Errorf("location = %v", d.Params["location"])
	}

	d = r.Route("weather in Boston, please")
	if d.Params["location"] != "Boston" {
		t.Errorf("location = %v, want comma-cut Boston", d.Params["location"])
	}

	d = r.Route("How's the weather?")
	if len(d.Params) != 0 {
		t.Errorf("expected no params, got %v", d.Params)
	}
}

func TestNewsCategoryExtraction(t *testing.T) {
	r := New(nil)

	d := r.Route("Give me news about business.")
	if d == nil || d.Name != "news" {
		t.Fatalf("got %+v", d)
	}
	if d.Params["category"] != "business" {
		t.Errorf("category = %v", d.Params["category"])
	}
}

func TestReminderExtraction(t *testing.T) {
	r := New(nil)

	d := r.Route("Remind me to stretch in 20 minutes")
	if d == nil || d.Name != "reminder" {
		t.Fatalf("got %+v", d)
	}
	if d.Params["text"] != "stretch" {
		t.Errorf("text = %v", d.Params["text"])
	}
	if d.Params["minutes"] != 20 {
		t.Errorf("minutes = %v", d.Params["minutes"])
	}

	d = r.Route("Remind me to water the plants")
	if d.Params["text"] != "water the plants" {
		t.Errorf("text = %v", d.Params["text"])
	}
	if _, ok := d.Params["minutes"]; ok {
		t.Error("minutes should be absent when unspecified")
	}
}

func TestTimerExtraction(t *testing.T) {
	r := New(nil)

	tests := []struct {
		text string
		want int
	}{
		{"Set a timer for 5 minutes", 300},
		{"timer for 45 seconds", 45},
		{"timer for 1 hour", 3600},
		{"timer for 90", 90},
	}
	for _, tt := range tests {
		d := r.Route(tt.text)
		if d == nil || d.Name != "timer" {
			t.Fatalf("Route(%q) = %+v", tt.text, d)
		}
		if d.Params["seconds"] != tt.want {
			t.Errorf("Route(%q) seconds = %v, want %d", tt.text, d.Params["seconds"], tt.want)
		}
	}

	// Unparseable duration falls back to the processor default.
	d := r.Route("timer for a little while")
	if d == nil || d.Params != nil {
		t.Errorf("got %+v, want timer with nil params", d)
	}
}

func TestNoteExtraction(t *testing.T) {
	r := New(nil)

	d := r.Route("Take a note: buy milk and eggs")
	if d == nil || d.Name != "note" {
		t.Fatalf("got %+v", d)
	}
	if d.Params["text"] != ": buy milk and eggs" && d.Params["text"] != "buy milk and eggs" {
		t.Errorf("text = %v", d.Params["text"])
	}
}

func TestTranslateExtraction(t *testing.T) {
	r := New(nil)

	d := r.Route("Translate hello to french")
	if d == nil || d.Name != "translate" {
		t.Fatalf("got %+v", d)
	}
	if d.Params["text"] != "hello" {
		t.Errorf("text = %v", d.Params["text"])
	}
	if d.Params["language"] != "French" {
		t.Errorf("language = %v", d.Params["language"])
	}
}

func TestCalculateExtractionKeepsDecimals(t *testing.T) {
	r := New(nil)

	d := r.Route("What is 3.5 * 2?")
	if d == nil || d.Name != "calculate" {
		t.Fatalf("got %+v", d)
	}
	if d.Params["expression"] != "3.5 * 2" {
		t.Errorf("expression = %v", d.Params["expression"])
	}
}

func TestScheduleMeetingCarriesFullText(t *testing.T) {
	r := New(nil)

	text := "Schedule a 30 minute meeting with alice@example.com"
	d := r.Route(text)
	if d == nil || d.Name != "schedule_meeting" {
		t.Fatalf("got %+v", d)
	}
	if d.Params["text"] != text {
		t.Errorf("text = %v", d.Params["text"])
	}
}
