// Package commands implements the named command handlers behind the
// assistant: weather, news, reminders, timers, notes, search,
// translation, arithmetic, facts, and jokes.
//
// Process is a hard error boundary. Handlers never panic past it and
// never surface raw errors to the speech layer; every failure becomes
// a Result with a friendly user message and a machine-readable kind.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"

	"github.com/verbalis/verbalis/internal/dispatch"
	"github.com/verbalis/verbalis/internal/events"
	"github.com/verbalis/verbalis/internal/news"
	"github.com/verbalis/verbalis/internal/store"
	"github.com/verbalis/verbalis/internal/weather"
)

// ErrorKind classifies why a command failed.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindUnknownCommand ErrorKind = "unknown_command"
	KindProvider       ErrorKind = "provider"
)

// Result is the outcome of one command. UserMessage is always safe to
// speak back to the user; Err is for logs and API clients only.
type Result struct {
	Success     bool           `json:"success"`
	Data        map[string]any `json:"data,omitempty"`
	UserMessage string         `json:"user_message"`
	Err         string         `json:"error,omitempty"`
	Kind        ErrorKind      `json:"error_kind,omitempty"`
}

// Params carries raw command arguments. Values arrive as strings from
// the router and as arbitrary JSON types from the API.
type Params map[string]any

// String returns the named parameter as a string, or def when absent
// or empty.
func (p Params) String(key, def string) string {
	if v, ok := p[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

// Int returns the named parameter as an int, accepting JSON numbers
// and numeric strings. Returns def when absent or unparseable.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Handler executes one named command for an owner.
type Handler func(ctx context.Context, ownerID string, p Params) *Result

// Processor dispatches named commands to their handlers.
type Processor struct {
	logger   *slog.Logger
	store    *store.Store
	disp     *dispatch.Dispatcher
	weather  *weather.Client
	news     *news.Client
	bus      *events.Bus
	registry map[string]Handler

	mu     sync.Mutex
	timers map[string]*Timer

	// pick selects a random table entry; replaceable for tests.
	pick func(n int) int
}

// New creates a Processor with the full command registry.
func New(st *store.Store, disp *dispatch.Dispatcher, wc *weather.Client, nc *news.Client, bus *events.Bus, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		logger:  logger,
		store:   st,
		disp:    disp,
		weather: wc,
		news:    nc,
		bus:     bus,
		timers:  make(map[string]*Timer),
		pick:    rand.Intn,
	}
	p.registry = map[string]Handler{
		"weather":   p.getWeather,
		"news":      p.getNews,
		"reminder":  p.setReminder,
		"timer":     p.setTimer,
		"note":      p.takeNote,
		"search":    p.webSearch,
		"translate": p.translateText,
		"calculate": p.calculate,
		"fact":      p.randomFact,
		"joke":      p.randomJoke,
	}
	return p
}

// Names returns the registered command names.
func (p *Processor) Names() []string {
	names := make([]string, 0, len(p.registry))
	for name := range p.registry {
		names = append(names, name)
	}
	return names
}

// Process runs a named command. Unknown names and handler panics are
// converted into failed Results here; callers never see an error.
func (p *Processor) Process(ctx context.Context, ownerID, name string, params Params) (result *Result) {
	handler, ok := p.registry[name]
	if !ok {
		p.logger.Warn("unknown command", "command", name, "owner", ownerID)
		p.audit(ownerID, "WARNING", fmt.Sprintf("Unknown command: %s", name), map[string]any{"command": name})
		return &Result{
			Success:     false,
			Err:         fmt.Sprintf("unknown command: %s", name),
			Kind:        KindUnknownCommand,
			UserMessage: fmt.Sprintf("I don't recognize the command '%s'. Try asking for weather, news, or setting a reminder.", name),
		}
	}

	p.logger.Info("processing command", "command", name, "owner", ownerID)
	p.audit(ownerID, "INFO", fmt.Sprintf("Processing voice command: %s", name), params)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("command handler panicked", "command", name, "panic", r)
			p.audit(ownerID, "ERROR", fmt.Sprintf("Error processing command '%s': %v", name, r), nil)
			result = &Result{
				Success:     false,
				Err:         fmt.Sprintf("panic in %s: %v", name, r),
				Kind:        KindProvider,
				UserMessage: "Sorry, I encountered an error processing that command.",
			}
		}
		p.bus.Publish(events.Event{
			Source: events.SourceCommands,
			Kind:   events.KindCommandProcessed,
			Data: map[string]any{
				"owner_id":   ownerID,
				"command":    name,
				"ok":         result.Success,
				"error_kind": string(result.Kind),
			},
		})
	}()

	result = handler(ctx, ownerID, params)

	if result.Success {
		p.audit(ownerID, "INFO", fmt.Sprintf("Command '%s' completed successfully", name), nil)
	} else {
		p.audit(ownerID, "ERROR", fmt.Sprintf("Command '%s' failed: %s", name, result.Err), nil)
	}
	return result
}

// audit writes a best-effort audit entry. Audit failures are logged
// and swallowed so they never affect command outcomes.
func (p *Processor) audit(ownerID, level, message string, extra map[string]any) {
	if p.store == nil {
		return
	}
	err := p.store.AppendAudit(&store.AuditEntry{
		OwnerID: ownerID,
		Level:   level,
		Message: message,
		Source:  "command_processor",
		Extra:   extra,
	})
	if err != nil {
		p.logger.Error("audit write failed", "error", err)
	}
}

func failure(kind ErrorKind, errMsg, userMessage string) *Result {
	return &Result{Success: false, Err: errMsg, Kind: kind, UserMessage: userMessage}
}

func humanDuration(seconds int) string {
	minutes := seconds / 60
	remainder := seconds % 60
	if minutes > 0 {
		s := fmt.Sprintf("%d minute%s", minutes, plural(minutes))
		if remainder > 0 {
			s += fmt.Sprintf(" and %d second%s", remainder, plural(remainder))
		}
		return s
	}
	return fmt.Sprintf("%d second%s", seconds, plural(seconds))
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// formatNumber renders an arithmetic result the way a person would
// say it: integers without a decimal point.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
