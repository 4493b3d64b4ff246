// Verbalis is a voice assistant backend.
//
// It manages conversational sessions, routes spoken utterances to a
// registry of commands (weather, news, reminders, timers, notes, and
// more), answers calendar questions over CalDAV, and exposes an HTTP
// API with a WebSocket event stream. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]), with secrets optionally supplied via a
// .env file.
//
// Usage:
//
//	verbalis serve             Start the API server
//	verbalis say <utterance>   Process a single utterance (for testing)
//	verbalis version           Print version and build information
//	verbalis -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/verbalis/verbalis/internal/api"
	"github.com/verbalis/verbalis/internal/buildinfo"
	"github.com/verbalis/verbalis/internal/calendar"
	"github.com/verbalis/verbalis/internal/commands"
	"github.com/verbalis/verbalis/internal/config"
	"github.com/verbalis/verbalis/internal/dispatch"
	"github.com/verbalis/verbalis/internal/events"
	"github.com/verbalis/verbalis/internal/news"
	"github.com/verbalis/verbalis/internal/notify"
	"github.com/verbalis/verbalis/internal/router"
	"github.com/verbalis/verbalis/internal/session"
	"github.com/verbalis/verbalis/internal/speech"
	"github.com/verbalis/verbalis/internal/store"
	"github.com/verbalis/verbalis/internal/weather"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the verbalis command. All OS-level
// dependencies are injected as parameters so the lifecycle can be
// driven from tests. Arguments are parsed by hand: the flag package
// relies on package-level globals, and our argument surface is small
// enough that manual parsing is clearer than a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	// Secrets like API keys commonly live in a .env file next to the
	// binary. Absence is not an error.
	_ = godotenv.Load()

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "say":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: verbalis say <utterance>")
		}
		return runSay(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Verbalis - Voice Assistant Backend")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: verbalis [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  say          Process a single utterance (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/verbalis/config.yaml, /etc/verbalis/config.yaml")
	return nil
}

// runSay handles the "verbalis say <utterance>" subcommand. It boots a
// minimal assistant (ephemeral store, in-memory calendar, logged
// speech), starts a session, processes one utterance, and prints the
// reply. Useful for smoke tests without starting the server.
func runSay(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	utterance := strings.Join(args, " ")

	st, err := store.New(filepath.Join(os.TempDir(), fmt.Sprintf("verbalis-say-%d.db", os.Getpid())))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	bus := events.New()
	disp := dispatch.New(logger, bus)
	defer disp.Stop()

	proc := commands.New(st, disp,
		weather.NewClient(cfg.Weather.APIKey, cfg.Weather.BaseURL, logger),
		news.NewClient(cfg.News.APIKey, cfg.News.BaseURL, logger),
		bus, logger)
	cal := calendar.NewService(calendar.NewMemoryProvider(), logger)

	sessions := session.New(session.Deps{
		Sink:     speech.NewNoop(logger),
		Router:   router.New(logger),
		Proc:     proc,
		Calendar: cal,
		Disp:     disp,
		Bus:      bus,
		Store:    st,
	}, session.RetryPolicy{MaxAttempts: 1, Delay: time.Second}, time.Minute, logger)

	owner := "cli"
	if _, err := sessions.Start(ctx, owner); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sessions.Stop(ctx, owner)

	reply, err := sessions.ProcessUtterance(ctx, owner, utterance)
	if err != nil {
		return fmt.Errorf("say: %w", err)
	}

	fmt.Fprintln(stdout, reply)
	return nil
}

// runServe handles the "verbalis serve" subcommand. It is the primary
// operating mode: loads config, opens the database, wires the command
// pipeline, starts the API server and optional MQTT notifier, and
// blocks until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Verbalis", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure logger now that we know the desired level. The initial
	// Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port)

	// --- Data directory ---
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Store ---
	// SQLite-backed notes, reminders, and audit trail. Persists across
	// restarts; sessions and timers are deliberately ephemeral.
	dbPath := filepath.Join(cfg.DataDir, "verbalis.db")
	st, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", dbPath, err)
	}
	defer st.Close()
	logger.Info("database opened", "path", dbPath)

	// --- Event bus and task dispatcher ---
	bus := events.New()
	disp := dispatch.New(logger, bus)
	defer disp.Stop()

	// --- Providers ---
	weatherClient := weather.NewClient(cfg.Weather.APIKey, cfg.Weather.BaseURL, logger)
	if weatherClient.DemoMode() {
		logger.Warn("weather API key not configured, using demo data")
	}
	newsClient := news.NewClient(cfg.News.APIKey, cfg.News.BaseURL, logger)
	if newsClient.DemoMode() {
		logger.Warn("news API key not configured, using demo headlines")
	}

	// --- Speech sink ---
	var sink speech.Sink
	if cfg.Speech.APIKey != "" {
		sink = speech.NewElevenLabs(cfg.Speech.APIKey, cfg.Speech.VoiceID, cfg.Speech.AgentID, cfg.Speech.BaseURL, logger)
		logger.Info("speech synthesis enabled", "voice_id", cfg.Speech.VoiceID)
	} else {
		sink = speech.NewNoop(logger)
		logger.Warn("speech API key not configured, spoken output will be logged only")
	}

	// --- Calendar ---
	var provider calendar.Provider
	if cfg.Calendar.URL != "" {
		caldav, err := calendar.NewCalDAV(cfg.Calendar.URL, cfg.Calendar.Username, cfg.Calendar.Password, logger)
		if err != nil {
			return fmt.Errorf("calendar backend: %w", err)
		}
		provider = caldav
		logger.Info("calendar backend configured", "url", cfg.Calendar.URL)
	} else {
		provider = calendar.NewMemoryProvider()
		logger.Warn("calendar not configured, using empty in-memory calendar")
	}
	cal := calendar.NewService(provider, logger)

	// --- Command pipeline ---
	proc := commands.New(st, disp, weatherClient, newsClient, bus, logger)
	rtr := router.New(logger)

	sessions := session.New(session.Deps{
		Sink:     sink,
		Router:   rtr,
		Proc:     proc,
		Calendar: cal,
		Disp:     disp,
		Bus:      bus,
		Store:    st,
	}, session.RetryPolicy{
		MaxAttempts: cfg.Session.MaxStartAttempts,
		Delay:       cfg.Session.StartRetryDelay(),
	}, cfg.Session.InactivityTimeout(), logger)

	// --- MQTT notifier ---
	notifier := notify.New(cfg.MQTT, bus, logger)
	if notifier.Enabled() {
		go func() {
			if err := notifier.Start(ctx); err != nil {
				logger.Error("mqtt notifier failed", "error", err)
			}
		}()
		logger.Info("mqtt notifications enabled", "broker", cfg.MQTT.Broker)
	} else {
		logger.Info("mqtt notifications disabled (not configured)")
	}

	// --- API server ---
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, sessions, proc, cal, bus, st, logger)

	// --- Signal handling and graceful shutdown ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		// Publish MQTT offline status before disconnecting.
		if notifier.Enabled() {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := notifier.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		_ = server.Shutdown(context.Background())
	}()

	// Start the API server. This blocks until the server is shut down
	// via context cancellation or fatal error.
	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Verbalis stopped")
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level. All log output goes through slog; this helper standardizes
// the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used and must exist.
// Otherwise [config.FindConfig] searches the default locations; when
// nothing is found the built-in defaults are used, which keeps the
// binary runnable out of the box in demo mode.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "(defaults)", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
