package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/verbalis/verbalis/internal/calendar"
	"github.com/verbalis/verbalis/internal/commands"
	"github.com/verbalis/verbalis/internal/dispatch"
	"github.com/verbalis/verbalis/internal/events"
	"github.com/verbalis/verbalis/internal/news"
	"github.com/verbalis/verbalis/internal/router"
	"github.com/verbalis/verbalis/internal/store"
	"github.com/verbalis/verbalis/internal/weather"
)

type fakeSink struct {
	mu         sync.Mutex
	spoken     []string
	verifyErrs []error
	speakErr   error
}

func (f *fakeSink) Speak(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
	return f.speakErr
}

func (f *fakeSink) Verify(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.verifyErrs) == 0 {
		return nil
	}
	err := f.verifyErrs[0]
	f.verifyErrs = f.verifyErrs[1:]
	return err
}

func (f *fakeSink) lastSpoken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.spoken) == 0 {
		return ""
	}
	return f.spoken[len(f.spoken)-1]
}

func newTestController(t *testing.T, sink *fakeSink, inactivity time.Duration) *Controller {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	bus := events.New()
	disp := dispatch.New(nil, bus)
	t.Cleanup(disp.Stop)

	proc := commands.New(st, disp, weather.NewClient("", "", nil), news.NewClient("", "", nil), bus, nil)
	cal := calendar.NewService(calendar.NewMemoryProvider(), nil)

	c := New(Deps{
		Sink:     sink,
		Router:   router.New(nil),
		Proc:     proc,
		Calendar: cal,
		Disp:     disp,
		Bus:      bus,
		Store:    st,
	}, RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}, inactivity, nil)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func mustStart(t *testing.T, c *Controller, owner string) *Session {
	t.Helper()
	s, err := c.Start(context.Background(), owner)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return s
}

func TestStartActivatesSession(t *testing.T) {
	sink := &fakeSink{}
	c := newTestController(t, sink, time.Hour)

	s := mustStart(t, c, "alice")
	if s.State != Active {
		t.Errorf("State = %q, want %q", s.State, Active)
	}
	if s.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", s.RetryCount)
	}

	greeting := sink.lastSpoken()
	if !strings.HasPrefix(greeting, "Hello alice!") {
		t.Errorf("greeting = %q", greeting)
	}
	if !strings.Contains(greeting, "What would you like me to help you with today?") {
		t.Errorf("greeting = %q", greeting)
	}

	status := c.GetStatus("alice")
	if !status.Active || status.State != Active {
		t.Errorf("status = %+v", status)
	}
}

func TestStartRefusesSecondSession(t *testing.T) {
	c := newTestController(t, &fakeSink{}, time.Hour)

	mustStart(t, c, "alice")
	if _, err := c.Start(context.Background(), "alice"); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("err = %v, want ErrSessionExists", err)
	}
}

func TestStartRetriesVerification(t *testing.T) {
	boom := errors.New("tts unreachable")
	sink := &fakeSink{verifyErrs: []error{boom, boom}}
	c := newTestController(t, sink, time.Hour)

	s := mustStart(t, c, "alice")
	if s.State != Active {
		t.Errorf("State = %q, want %q", s.State, Active)
	}
	if s.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", s.RetryCount)
	}
}

func TestStartExhaustsRetries(t *testing.T) {
	boom := errors.New("tts unreachable")
	sink := &fakeSink{verifyErrs: []error{boom, boom, boom}}
	c := newTestController(t, sink, time.Hour)

	if _, err := c.Start(context.Background(), "alice"); !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("err = %v, want ErrRetryExhausted", err)
	}

	status := c.GetStatus("alice")
	if status.State != Failed {
		t.Errorf("State = %q, want %q", status.State, Failed)
	}

	// A failed session is terminal and must not block a fresh start.
	mustStart(t, c, "alice")
}

func TestConcurrentStartsAdmitExactlyOne(t *testing.T) {
	c := newTestController(t, &fakeSink{}, time.Hour)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Start(context.Background(), "alice")
		}(i)
	}
	wg.Wait()

	var ok, conflict int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrSessionExists):
			conflict++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflict != n-1 {
		t.Errorf("ok = %d, conflict = %d, want 1 and %d", ok, conflict, n-1)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	c := newTestController(t, &fakeSink{}, time.Hour)

	if err := c.Stop(context.Background(), "nobody"); err != nil {
		t.Fatalf("stop absent: %v", err)
	}

	mustStart(t, c, "alice")
	if err := c.Stop(context.Background(), "alice"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := c.GetStatus("alice").State; got != Stopped {
		t.Errorf("State = %q, want %q", got, Stopped)
	}
	if err := c.Stop(context.Background(), "alice"); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestUtteranceRequiresActiveSession(t *testing.T) {
	c := newTestController(t, &fakeSink{}, time.Hour)

	reply, err := c.ProcessUtterance(context.Background(), "alice", "hello")
	if err == nil {
		t.Fatal("expected error without a session")
	}
	if reply != "Voice assistant is not active" {
		t.Errorf("reply = %q", reply)
	}
}

func TestEmptyUtterance(t *testing.T) {
	c := newTestController(t, &fakeSink{}, time.Hour)
	mustStart(t, c, "alice")

	reply, err := c.ProcessUtterance(context.Background(), "alice", "   ")
	if err != nil {
		t.Fatalf("utterance: %v", err)
	}
	if reply != "I didn't catch that. Could you please repeat?" {
		t.Errorf("reply = %q", reply)
	}
}

func TestFarewellEndsSession(t *testing.T) {
	sink := &fakeSink{}
	c := newTestController(t, sink, time.Hour)
	mustStart(t, c, "alice")

	reply, err := c.ProcessUtterance(context.Background(), "alice", "Okay, goodbye!")
	if err != nil {
		t.Fatalf("utterance: %v", err)
	}
	if reply != "Goodbye! Have a great day." {
		t.Errorf("reply = %q", reply)
	}
	if sink.lastSpoken() != reply {
		t.Errorf("spoken = %q, want the farewell", sink.lastSpoken())
	}
	if got := c.GetStatus("alice").State; got != Stopped {
		t.Errorf("State = %q, want %q", got, Stopped)
	}
}

func TestDirectiveOutranksFarewell(t *testing.T) {
	c := newTestController(t, &fakeSink{}, time.Hour)
	mustStart(t, c, "alice")

	// "stop" is a farewell phrase, but the reminder trigger wins.
	reply, err := c.ProcessUtterance(context.Background(), "alice", "Remind me to stop by the store in 5 minutes")
	if err != nil {
		t.Fatalf("utterance: %v", err)
	}
	if !strings.Contains(reply, "I'll remind you to stop by the store") {
		t.Errorf("reply = %q", reply)
	}
	if got := c.GetStatus("alice").State; got != Active {
		t.Fatalf("State = %q, want %q", got, Active)
	}

	// A farewell with no directive still ends the session.
	reply, err = c.ProcessUtterance(context.Background(), "alice", "Okay, stop")
	if err != nil {
		t.Fatalf("utterance: %v", err)
	}
	if reply != "Goodbye! Have a great day." {
		t.Errorf("reply = %q", reply)
	}
	if got := c.GetStatus("alice").State; got != Stopped {
		t.Errorf("State = %q, want %q", got, Stopped)
	}
}

func TestUnmatchedUtteranceGetsHelp(t *testing.T) {
	c := newTestController(t, &fakeSink{}, time.Hour)
	mustStart(t, c, "alice")

	reply, err := c.ProcessUtterance(context.Background(), "alice", "How are you doing?")
	if err != nil {
		t.Fatalf("utterance: %v", err)
	}
	if !strings.Contains(reply, "I'm here to help!") {
		t.Errorf("reply = %q", reply)
	}
}

func TestCalendarDirectives(t *testing.T) {
	c := newTestController(t, &fakeSink{}, time.Hour)
	mustStart(t, c, "alice")

	tests := []struct {
		utterance string
		want      string
	}{
		{"What's on my schedule today?", "Here's your schedule for today: No events scheduled for today"},
		{"When is my next meeting?", "Your next meeting is: No upcoming meetings"},
		{"Do I have any free time today?", "Your free time today: You have the whole day free!"},
		{"Can you schedule a meeting with Bob?", "I can help you schedule a meeting. Please tell me the details like who, when, and where."},
	}
	for _, tt := range tests {
		reply, err := c.ProcessUtterance(context.Background(), "alice", tt.utterance)
		if err != nil {
			t.Fatalf("%q: %v", tt.utterance, err)
		}
		if reply != tt.want {
			t.Errorf("%q:\n  got  %q\n  want %q", tt.utterance, reply, tt.want)
		}
	}
}

func TestCommandDirectiveDelegatesToProcessor(t *testing.T) {
	sink := &fakeSink{}
	c := newTestController(t, sink, time.Hour)
	mustStart(t, c, "alice")

	reply, err := c.ProcessUtterance(context.Background(), "alice", "What is 2 + 2?")
	if err != nil {
		t.Fatalf("utterance: %v", err)
	}
	if !strings.Contains(reply, "equals 4") {
		t.Errorf("reply = %q", reply)
	}
	if sink.lastSpoken() != reply {
		t.Errorf("spoken = %q, want the reply", sink.lastSpoken())
	}
}

func TestUtteranceStampsActivity(t *testing.T) {
	c := newTestController(t, &fakeSink{}, time.Hour)
	mustStart(t, c, "alice")

	before := c.GetStatus("alice").LastActivityAt
	time.Sleep(5 * time.Millisecond)
	if _, err := c.ProcessUtterance(context.Background(), "alice", "What time is it?"); err != nil {
		t.Fatalf("utterance: %v", err)
	}
	if got := c.GetStatus("alice").LastActivityAt; !got.After(before) {
		t.Errorf("LastActivityAt not advanced: %v -> %v", before, got)
	}
}

func TestWatchdogStopsIdleSession(t *testing.T) {
	c := newTestController(t, &fakeSink{}, 20*time.Millisecond)
	mustStart(t, c, "alice")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.GetStatus("alice").State == Stopped {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session not stopped by watchdog, state = %q", c.GetStatus("alice").State)
}

func TestWatchdogExtendsOnActivity(t *testing.T) {
	c := newTestController(t, &fakeSink{}, 150*time.Millisecond)
	mustStart(t, c, "alice")

	// Keep the session busy past the first window.
	for i := 0; i < 4; i++ {
		time.Sleep(50 * time.Millisecond)
		if _, err := c.ProcessUtterance(context.Background(), "alice", "What time is it?"); err != nil {
			t.Fatalf("utterance: %v", err)
		}
	}
	if got := c.GetStatus("alice").State; got != Active {
		t.Fatalf("State = %q after activity, want %q", got, Active)
	}

	// Then go idle and let the watchdog expire it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.GetStatus("alice").State == Stopped {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("idle session never stopped, state = %q", c.GetStatus("alice").State)
}

func TestGetStatusUnknownOwner(t *testing.T) {
	c := newTestController(t, &fakeSink{}, time.Hour)

	status := c.GetStatus("stranger")
	if status.Exists || status.Active {
		t.Errorf("status = %+v, want zero", status)
	}
}
