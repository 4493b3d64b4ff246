// Package session owns the conversational session lifecycle: one
// session per owner, started with retries, stopped explicitly, by
// farewell, or by an inactivity watchdog.
//
// All state transitions are compare-and-swap operations on the
// registry. The Active to Stopping transition is the terminal guard:
// whichever of an explicit stop, a farewell, or the watchdog wins the
// CAS performs the shutdown, and the others become no-ops.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/verbalis/verbalis/internal/calendar"
	"github.com/verbalis/verbalis/internal/commands"
	"github.com/verbalis/verbalis/internal/dispatch"
	"github.com/verbalis/verbalis/internal/events"
	"github.com/verbalis/verbalis/internal/router"
	"github.com/verbalis/verbalis/internal/speech"
	"github.com/verbalis/verbalis/internal/store"
)

// State is a session lifecycle state.
type State string

const (
	Starting State = "starting"
	Active   State = "active"
	Stopping State = "stopping"
	Stopped  State = "stopped"
	Failed   State = "failed"
)

// terminal reports whether a state permits a new session for the owner.
func terminal(s State) bool { return s == Stopped || s == Failed }

// Sentinel errors surfaced by Start. Everything else in this package
// turns into a friendly reply instead of an error.
var (
	// ErrSessionExists is returned when the owner already has a
	// non-terminal session.
	ErrSessionExists = errors.New("session already exists for owner")
	// ErrRetryExhausted is returned when speech verification failed on
	// every start attempt.
	ErrRetryExhausted = errors.New("session start retries exhausted")
)

// Session is one conversational session.
type Session struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	State          State     `json:"state"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	RetryCount     int       `json:"retry_count"`
}

// Status is the answer to a status query. Never an error: an owner
// with no session history reports Exists=false.
type Status struct {
	Exists         bool      `json:"exists"`
	Active         bool      `json:"active"`
	State          State     `json:"state,omitempty"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at,omitempty"`
	RetryCount     int       `json:"retry_count,omitempty"`
}

// RetryPolicy controls session start behavior.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy matches the reference deployment.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Second}
}

// DefaultInactivityWindow is the watchdog window.
const DefaultInactivityWindow = 10 * time.Minute

// farewells end the conversation when present in an utterance.
var farewells = []string{"goodbye", "end chat", "that's all", "thanks bye", "stop", "see you later"}

const (
	replyNotActive   = "Voice assistant is not active"
	replyEmptyInput  = "I didn't catch that. Could you please repeat?"
	replyGoodbye     = "Goodbye! Have a great day."
	replyDefaultHelp = "I'm here to help! You can ask about your schedule, weather, news, or I can set reminders and timers for you."
)

// Controller manages the session registry and drives utterances
// through the router and command processor.
type Controller struct {
	logger     *slog.Logger
	sink       speech.Sink
	router     *router.Router
	proc       *commands.Processor
	cal        *calendar.Service
	disp       *dispatch.Dispatcher
	bus        *events.Bus
	store      *store.Store
	policy     RetryPolicy
	inactivity time.Duration

	mu       sync.Mutex
	sessions map[string]*Session

	// Replaceable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Deps bundles the controller's collaborators.
type Deps struct {
	Sink     speech.Sink
	Router   *router.Router
	Proc     *commands.Processor
	Calendar *calendar.Service
	Disp     *dispatch.Dispatcher
	Bus      *events.Bus
	Store    *store.Store
}

// New creates a session controller. A zero policy selects
// DefaultRetryPolicy; a zero inactivity selects DefaultInactivityWindow.
func New(deps Deps, policy RetryPolicy, inactivity time.Duration, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	if inactivity <= 0 {
		inactivity = DefaultInactivityWindow
	}
	return &Controller{
		logger:     logger,
		sink:       deps.Sink,
		router:     deps.Router,
		proc:       deps.Proc,
		cal:        deps.Calendar,
		disp:       deps.Disp,
		bus:        deps.Bus,
		store:      deps.Store,
		policy:     policy,
		inactivity: inactivity,
		sessions:   make(map[string]*Session),
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start creates and activates a session for an owner. Fails with
// ErrSessionExists when a non-terminal session is present, and with
// ErrRetryExhausted when speech verification fails on every attempt.
func (c *Controller) Start(ctx context.Context, ownerID string) (*Session, error) {
	c.mu.Lock()
	if existing, ok := c.sessions[ownerID]; ok && !terminal(existing.State) {
		c.mu.Unlock()
		c.logger.Warn("session start refused, already running", "owner", ownerID, "state", existing.State)
		return nil, fmt.Errorf("owner %s: %w", ownerID, ErrSessionExists)
	}
	s := &Session{
		ID:        store.NewID(),
		OwnerID:   ownerID,
		State:     Starting,
		StartedAt: c.now(),
	}
	c.sessions[ownerID] = s
	c.mu.Unlock()

	c.audit(ownerID, "INFO", "Voice session starting", nil)

	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		lastErr = c.sink.Verify(ctx)
		if lastErr == nil {
			break
		}

		c.mu.Lock()
		s.RetryCount = attempt
		c.mu.Unlock()
		c.logger.Error("session start attempt failed",
			"owner", ownerID, "attempt", attempt, "max_attempts", c.policy.MaxAttempts, "error", lastErr)

		if attempt < c.policy.MaxAttempts {
			if err := c.sleep(ctx, c.policy.Delay); err != nil {
				lastErr = err
				break
			}
		}
	}

	if lastErr != nil {
		c.cas(ownerID, Starting, Failed)
		c.audit(ownerID, "ERROR", fmt.Sprintf("Voice session failed to start: %v", lastErr), nil)
		c.publishStopped(ownerID, "failed")
		return nil, fmt.Errorf("owner %s after %d attempts: %w", ownerID, c.policy.MaxAttempts, ErrRetryExhausted)
	}

	if !c.cas(ownerID, Starting, Active) {
		// Stopped out from under us while verifying.
		return nil, fmt.Errorf("owner %s: %w", ownerID, ErrSessionExists)
	}

	c.mu.Lock()
	s.LastActivityAt = c.now()
	snapshot := *s
	c.mu.Unlock()

	greeting := fmt.Sprintf("Hello %s! I'm your AI voice assistant. I can help you with calendar events, weather, and much more. What would you like me to help you with today?", ownerID)
	if err := c.sink.Speak(ctx, greeting); err != nil {
		c.logger.Error("greeting failed", "owner", ownerID, "error", err)
	}

	c.audit(ownerID, "INFO", "Voice session started", map[string]any{"session_id": s.ID, "attempts": s.RetryCount + 1})
	c.bus.Publish(events.Event{
		Source: events.SourceSession,
		Kind:   events.KindSessionStarted,
		Data:   map[string]any{"owner_id": ownerID, "session_id": s.ID, "attempts": s.RetryCount + 1},
	})

	c.scheduleWatchdog(ownerID, s.ID)

	c.logger.Info("session active", "owner", ownerID, "session", s.ID)
	return &snapshot, nil
}

// Stop ends an owner's session. Idempotent: stopping an absent or
// already-stopped session succeeds without side effects.
func (c *Controller) Stop(ctx context.Context, ownerID string) error {
	return c.stop(ctx, ownerID, "stop")
}

func (c *Controller) stop(_ context.Context, ownerID, reason string) error {
	if !c.cas(ownerID, Active, Stopping) {
		// Absent, still starting, or already terminal. All fine.
		return nil
	}

	c.logger.Info("session stopping", "owner", ownerID, "reason", reason)

	if !c.cas(ownerID, Stopping, Stopped) {
		return nil
	}

	c.audit(ownerID, "INFO", "Voice session stopped", map[string]any{"reason": reason})
	c.publishStopped(ownerID, reason)
	return nil
}

// scheduleWatchdog arms the inactivity timer for a session. When it
// fires with no interim activity the session is stopped; otherwise it
// re-arms for the remaining window.
func (c *Controller) scheduleWatchdog(ownerID, sessionID string) {
	c.armWatchdog(ownerID, sessionID, c.inactivity)
}

func (c *Controller) armWatchdog(ownerID, sessionID string, delay time.Duration) {
	c.disp.After(delay, "watchdog:"+ownerID, func(ctx context.Context) error {
		c.mu.Lock()
		s, ok := c.sessions[ownerID]
		if !ok || s.ID != sessionID || s.State != Active {
			c.mu.Unlock()
			return nil
		}
		idle := c.now().Sub(s.LastActivityAt)
		c.mu.Unlock()

		if idle < c.inactivity {
			c.armWatchdog(ownerID, sessionID, c.inactivity-idle)
			return nil
		}

		c.logger.Info("session expired by watchdog", "owner", ownerID, "idle", idle)
		return c.stop(ctx, ownerID, "watchdog")
	})
}

// ProcessUtterance routes one utterance through the command pipeline
// and speaks the reply. The returned string is always safe to present
// to the user; err is non-nil only when no session is active.
func (c *Controller) ProcessUtterance(ctx context.Context, ownerID, text string) (string, error) {
	c.mu.Lock()
	s, ok := c.sessions[ownerID]
	if !ok || s.State != Active {
		c.mu.Unlock()
		return replyNotActive, fmt.Errorf("owner %s: no active session", ownerID)
	}
	s.LastActivityAt = c.now()
	c.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return replyEmptyInput, nil
	}

	c.audit(ownerID, "USER", text, nil)

	reply, directive := c.respond(ctx, ownerID, text)

	if err := c.sink.Speak(ctx, reply); err != nil {
		c.logger.Error("speak failed", "owner", ownerID, "error", err)
		c.audit(ownerID, "ERROR", fmt.Sprintf("Failed to speak: %.50s", reply), nil)
	}

	c.bus.Publish(events.Event{
		Source: events.SourceSession,
		Kind:   events.KindUtterance,
		Data:   map[string]any{"owner_id": ownerID, "directive": directive},
	})

	// Farewells carry the lowest priority: an utterance that matched a
	// directive keeps the session alive even when it also contains a
	// farewell phrase ("remind me to stop by the store").
	if directive == "" && isFarewell(text) {
		_ = c.stop(ctx, ownerID, "farewell")
	}

	return reply, nil
}

// respond produces the spoken reply for an utterance and the name of
// the directive that matched, empty for plain conversation. Directives
// win over farewell phrases; a farewell only ends the conversation
// when nothing else matched.
func (c *Controller) respond(ctx context.Context, ownerID, text string) (string, string) {
	d := c.router.Route(text)
	if d == nil {
		if isFarewell(text) {
			return replyGoodbye, ""
		}
		return replyDefaultHelp, ""
	}

	switch d.Name {
	case "schedule_meeting":
		return "I can help you schedule a meeting. Please tell me the details like who, when, and where.", d.Name
	case "today_schedule":
		schedule, err := c.cal.TodaySchedule(ctx)
		if err != nil {
			c.logger.Error("schedule lookup failed", "owner", ownerID, "error", err)
			return "I couldn't retrieve your schedule right now.", d.Name
		}
		return "Here's your schedule for today: " + schedule, d.Name
	case "next_meeting":
		meeting, err := c.cal.NextMeeting(ctx)
		if err != nil {
			c.logger.Error("next meeting lookup failed", "owner", ownerID, "error", err)
			return "I couldn't check your next meeting right now.", d.Name
		}
		return "Your next meeting is: " + meeting, d.Name
	case "free_time":
		free, err := c.cal.FreeTimeToday(ctx)
		if err != nil {
			c.logger.Error("free time lookup failed", "owner", ownerID, "error", err)
			return "I couldn't check your free time right now.", d.Name
		}
		return "Your free time today: " + free, d.Name
	default:
		result := c.proc.Process(ctx, ownerID, d.Name, commands.Params(d.Params))
		return result.UserMessage, d.Name
	}
}

// GetStatus reports the owner's session state. Never blocks on
// anything but the registry lock, never fails.
func (c *Controller) GetStatus(ownerID string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[ownerID]
	if !ok {
		return Status{}
	}
	return Status{
		Exists:         true,
		Active:         s.State == Active,
		State:          s.State,
		StartedAt:      s.StartedAt,
		LastActivityAt: s.LastActivityAt,
		RetryCount:     s.RetryCount,
	}
}

// cas atomically moves the owner's session from one state to another.
// Returns false when the session is absent or not in the from state.
func (c *Controller) cas(ownerID string, from, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[ownerID]
	if !ok || s.State != from {
		return false
	}
	s.State = to
	return true
}

func (c *Controller) publishStopped(ownerID, reason string) {
	c.bus.Publish(events.Event{
		Source: events.SourceSession,
		Kind:   events.KindSessionStopped,
		Data:   map[string]any{"owner_id": ownerID, "reason": reason},
	})
}

func (c *Controller) audit(ownerID, level, message string, extra map[string]any) {
	if c.store == nil {
		return
	}
	err := c.store.AppendAudit(&store.AuditEntry{
		OwnerID: ownerID,
		Level:   level,
		Message: message,
		Source:  "session_controller",
		Extra:   extra,
	})
	if err != nil {
		c.logger.Error("audit write failed", "error", err)
	}
}

func isFarewell(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range farewells {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
