package commands

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/verbalis/verbalis/internal/dispatch"
	"github.com/verbalis/verbalis/internal/events"
	"github.com/verbalis/verbalis/internal/news"
	"github.com/verbalis/verbalis/internal/store"
	"github.com/verbalis/verbalis/internal/weather"
)

func newTestProcessor(t *testing.T) (*Processor, *store.Store) {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	disp := dispatch.New(nil, nil)
	t.Cleanup(disp.Stop)

	p := New(st, disp, weather.NewClient("", "", nil), news.NewClient("", "", nil), events.New(), nil)
	return p, st
}

func TestUnknownCommand(t *testing.T) {
	p, _ := newTestProcessor(t)

	result := p.Process(context.Background(), "user-1", "frobnicate", nil)
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Kind != KindUnknownCommand {
		t.Errorf("Kind = %q, want %q", result.Kind, KindUnknownCommand)
	}
	if !strings.Contains(result.UserMessage, "don't recognize") {
		t.Errorf("UserMessage = %q", result.UserMessage)
	}
}

func TestWeatherDemoMode(t *testing.T) {
	p, _ := newTestProcessor(t)

	result := p.Process(context.Background(), "user-1", "weather", Params{"location": "Paris"})
	if !result.Success {
		t.Fatalf("weather failed: %s", result.Err)
	}
	if result.Data["demo_mode"] != true {
		t.Error("expected demo_mode=true without API key")
	}
	if result.Data["location"] != "Paris" {
		t.Errorf("location = %v", result.Data["location"])
	}
}

func TestNewsDemoMode(t *testing.T) {
	p, _ := newTestProcessor(t)

	result := p.Process(context.Background(), "user-1", "news", nil)
	if !result.Success {
		t.Fatalf("news failed: %s", result.Err)
	}
	if result.Data["category"] != "technology" {
		t.Errorf("category = %v, want default technology", result.Data["category"])
	}
	if !strings.Contains(result.UserMessage, " • ") {
		t.Errorf("headlines not bullet-joined: %q", result.UserMessage)
	}
}

func TestCalculate(t *testing.T) {
	p, _ := newTestProcessor(t)

	result := p.Process(context.Background(), "u", "calculate", Params{"expression": "2+2"})
	if !result.Success {
		t.Fatalf("calculate failed: %s", result.Err)
	}
	if result.Data["result"] != 4.0 {
		t.Errorf("result = %v, want 4", result.Data["result"])
	}
	if result.UserMessage != "2+2 equals 4" {
		t.Errorf("UserMessage = %q", result.UserMessage)
	}
}

func TestCalculateStripsEquals(t *testing.T) {
	p, _ := newTestProcessor(t)

	result := p.Process(context.Background(), "u", "calculate", Params{"expression": "3*3="})
	if !result.Success {
		t.Fatalf("calculate failed: %s", result.Err)
	}
	if result.Data["result"] != 9.0 {
		t.Errorf("result = %v, want 9", result.Data["result"])
	}
}

func TestCalculateRejectsInvalidCharacters(t *testing.T) {
	p, _ := newTestProcessor(t)

	result := p.Process(context.Background(), "u", "calculate", Params{"expression": "import os"})
	if result.Success {
		t.Fatal("expected validation failure")
	}
	if result.Kind != KindValidation {
		t.Errorf("Kind = %q, want %q", result.Kind, KindValidation)
	}
}

func TestCalculateDivisionByZero(t *testing.T) {
	p, _ := newTestProcessor(t)

	result := p.Process(context.Background(), "u", "calculate", Params{"expression": "1/0"})
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Kind != KindValidation {
		t.Errorf("Kind = %q, want %q", result.Kind, KindValidation)
	}
}

func TestReminderRequiresOwner(t *testing.T) {
	p, _ := newTestProcessor(t)

	result := p.Process(context.Background(), "", "reminder", Params{"text": "call mom"})
	if result.Success || result.Kind != KindValidation {
		t.Fatalf("expected validation failure, got %+v", result)
	}
	if !strings.Contains(result.UserMessage, "who you are") {
		t.Errorf("UserMessage = %q", result.UserMessage)
	}
}

func TestReminderPersistsAndDefaults(t *testing.T) {
	p, st := newTestProcessor(t)

	result := p.Process(context.Background(), "user-1", "reminder", Params{"text": "call mom"})
	if !result.Success {
		t.Fatalf("reminder failed: %s", result.Err)
	}
	if result.Data["remind_in_minutes"] != 15 {
		t.Errorf("remind_in_minutes = %v, want default 15", result.Data["remind_in_minutes"])
	}

	id := result.Data["reminder_id"].(string)
	reminder, err := st.GetReminder(id)
	if err != nil || reminder == nil {
		t.Fatalf("reminder not persisted: %v", err)
	}
	wantExpiry := reminder.RemindAt.Add(24 * time.Hour)
	if !reminder.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("ExpiresAt = %v, want remind_at+24h %v", reminder.ExpiresAt, wantExpiry)
	}
}

func TestReminderFireFlipsOnce(t *testing.T) {
	p, st := newTestProcessor(t)

	result := p.Process(context.Background(), "user-1", "reminder", Params{"text": "stretch", "minutes": 1})
	id := result.Data["reminder_id"].(string)

	if err := p.fireReminder(id); err != nil {
		t.Fatalf("fireReminder: %v", err)
	}
	reminder, _ := st.GetReminder(id)
	if !reminder.Triggered || reminder.TriggeredAt == nil {
		t.Fatal("reminder not marked triggered")
	}

	// Second fire is a no-op, not an error.
	if err := p.fireReminder(id); err != nil {
		t.Fatalf("second fireReminder: %v", err)
	}
}

func TestDismissedReminderDoesNotFire(t *testing.T) {
	p, st := newTestProcessor(t)

	result := p.Process(context.Background(), "user-1", "reminder", Params{"text": "skip me"})
	id := result.Data["reminder_id"].(string)

	if err := st.DismissReminder(id); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if err := p.fireReminder(id); err != nil {
		t.Fatalf("fireReminder: %v", err)
	}
	reminder, _ := st.GetReminder(id)
	if reminder.Triggered {
		t.Error("dismissed reminder must not trigger")
	}
}

func TestTimerDefaultsAndSnapshot(t *testing.T) {
	p, _ := newTestProcessor(t)

	result := p.Process(context.Background(), "user-1", "timer", nil)
	if !result.Success {
		t.Fatalf("timer failed: %s", result.Err)
	}
	if result.Data["timer_name"] != "Timer" {
		t.Errorf("timer_name = %v", result.Data["timer_name"])
	}
	if result.Data["duration_seconds"] != 300 {
		t.Errorf("duration_seconds = %v, want default 300", result.Data["duration_seconds"])
	}
	if !strings.Contains(result.UserMessage, "5 minutes") {
		t.Errorf("UserMessage = %q", result.UserMessage)
	}

	active := p.ActiveTimers("user-1")
	if len(active) != 1 || active[0].Status != TimerRunning {
		t.Fatalf("ActiveTimers = %+v", active)
	}
	if got := p.ActiveTimers("someone-else"); len(got) != 0 {
		t.Errorf("other owner sees timers: %+v", got)
	}
}

func TestTimerFinishFlipsOnce(t *testing.T) {
	p, _ := newTestProcessor(t)

	result := p.Process(context.Background(), "user-1", "timer", Params{"seconds": 60, "name": "Tea"})
	id := result.Data["timer_id"].(string)

	p.finishTimer(id)
	if active := p.ActiveTimers("user-1"); len(active) != 0 {
		t.Fatalf("timer still active: %+v", active)
	}

	p.mu.Lock()
	timer := p.timers[id]
	p.mu.Unlock()
	if timer.Status != TimerFinished || timer.FinishedAt == nil {
		t.Errorf("timer = %+v", timer)
	}

	first := *timer.FinishedAt
	p.finishTimer(id)
	if !timer.FinishedAt.Equal(first) {
		t.Error("second finish mutated the timer")
	}
}

func TestTimerErrorOnFailedCompletion(t *testing.T) {
	p, st := newTestProcessor(t)

	result := p.Process(context.Background(), "user-1", "timer", Params{"seconds": 60, "name": "Tea"})
	id := result.Data["timer_id"].(string)

	// Completion cannot write its record once the store is gone.
	st.Close()

	if err := p.finishTimer(id); err == nil {
		t.Fatal("expected completion error")
	}

	p.mu.Lock()
	timer := p.timers[id]
	p.mu.Unlock()
	if timer.Status != TimerError || timer.FinishedAt == nil {
		t.Errorf("timer = %+v", timer)
	}

	// The flip is final: a retry does not resurrect the timer.
	if err := p.finishTimer(id); err != nil {
		t.Fatalf("second finish: %v", err)
	}
	if timer.Status != TimerError {
		t.Errorf("Status = %q after retry", timer.Status)
	}
}

func TestTimerSummaryPluralizes(t *testing.T) {
	p, _ := newTestProcessor(t)

	if got := p.TimerSummary("user-1"); got != "You have 0 active timers." {
		t.Errorf("got %q", got)
	}
	p.Process(context.Background(), "user-1", "timer", Params{"seconds": 60})
	if got := p.TimerSummary("user-1"); got != "You have 1 active timer." {
		t.Errorf("got %q", got)
	}
}

func TestNoteRequiresOwnerAndTruncatesEcho(t *testing.T) {
	p, st := newTestProcessor(t)

	result := p.Process(context.Background(), "", "note", Params{"text": "hi"})
	if result.Success || result.Kind != KindValidation {
		t.Fatalf("expected validation failure, got %+v", result)
	}

	long := strings.Repeat("a", 60)
	result = p.Process(context.Background(), "user-1", "note", Params{"text": long})
	if !result.Success {
		t.Fatalf("note failed: %s", result.Err)
	}
	want := "Note saved: " + strings.Repeat("a", 50) + "..."
	if result.UserMessage != want {
		t.Errorf("UserMessage = %q", result.UserMessage)
	}

	notes, err := st.ListNotes("user-1", 10)
	if err != nil || len(notes) != 1 {
		t.Fatalf("notes = %v, err = %v", notes, err)
	}
	if notes[0].Content != long {
		t.Error("stored note content truncated; only the echo should be")
	}
}

func TestTranslateTableAndFallback(t *testing.T) {
	p, _ := newTestProcessor(t)

	result := p.Process(context.Background(), "u", "translate", Params{"text": "Hello", "language": "French"})
	if result.Data["translated_text"] != "Bonjour" {
		t.Errorf("translated = %v", result.Data["translated_text"])
	}

	result = p.Process(context.Background(), "u", "translate", Params{"text": "gopher", "language": "German"})
	if result.Data["translated_text"] != "[gopher in German]" {
		t.Errorf("fallback = %v", result.Data["translated_text"])
	}
}

func TestFactAndJokeDeterministicPick(t *testing.T) {
	p, _ := newTestProcessor(t)
	p.pick = func(int) int { return 2 }

	result := p.Process(context.Background(), "u", "fact", nil)
	if result.Data["fact"] != facts[2] {
		t.Errorf("fact = %v", result.Data["fact"])
	}
	if !strings.HasPrefix(result.UserMessage, "Here's an interesting fact: ") {
		t.Errorf("UserMessage = %q", result.UserMessage)
	}

	result = p.Process(context.Background(), "u", "joke", nil)
	if result.UserMessage != jokes[2] {
		t.Errorf("joke = %q", result.UserMessage)
	}
}

func TestProcessWritesAuditTrail(t *testing.T) {
	p, st := newTestProcessor(t)

	p.Process(context.Background(), "user-1", "fact", nil)

	entries, err := st.ListAudit("user-1", 10)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("got %d audit entries, want processing + completion", len(entries))
	}
}

func TestHumanDuration(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{300, "5 minutes"},
		{90, "1 minute and 30 seconds"},
		{60, "1 minute"},
		{45, "45 seconds"},
		{1, "1 second"},
		{61, "1 minute and 1 second"},
	}
	for _, tt := range tests {
		if got := humanDuration(tt.seconds); got != tt.want {
			t.Errorf("humanDuration(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}
