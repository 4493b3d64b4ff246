// Package api implements the HTTP control surface for the assistant:
// session lifecycle, command execution, calendar queries, and a
// WebSocket event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/verbalis/verbalis/internal/buildinfo"
	"github.com/verbalis/verbalis/internal/calendar"
	"github.com/verbalis/verbalis/internal/commands"
	"github.com/verbalis/verbalis/internal/events"
	"github.com/verbalis/verbalis/internal/session"
	"github.com/verbalis/verbalis/internal/store"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *slog.Logger) {
	writeJSON(w, status, map[string]string{"error": msg}, logger)
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	sessions *session.Controller
	proc     *commands.Processor
	cal      *calendar.Service
	bus      *events.Bus
	store    *store.Store
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, sessions *session.Controller, proc *commands.Processor, cal *calendar.Service, bus *events.Bus, st *store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:  address,
		port:     port,
		sessions: sessions,
		proc:     proc,
		cal:      cal,
		bus:      bus,
		store:    st,
		logger:   logger,
	}
}

// Routes builds the HTTP handler. Exposed separately from Start so
// tests can drive it with httptest.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.withLogging)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/v1/version", s.handleVersion)

	r.Route("/v1/sessions/{owner}", func(r chi.Router) {
		r.Post("/start", s.handleSessionStart)
		r.Post("/stop", s.handleSessionStop)
		r.Post("/utterance", s.handleUtterance)
		r.Get("/", s.handleSessionStatus)
	})

	r.Get("/v1/commands", s.handleCommandList)
	r.Post("/v1/commands/{name}", s.handleCommand)

	r.Route("/v1/calendar", func(r chi.Router) {
		r.Get("/schedule", s.handleSchedule)
		r.Get("/upcoming", s.handleUpcoming)
		r.Get("/next-meeting", s.handleNextMeeting)
		r.Get("/free-time", s.handleFreeTime)
		r.Post("/meeting-slots", s.handleMeetingSlots)
	})

	r.Get("/v1/timers", s.handleTimers)
	r.Get("/v1/reminders", s.handleReminders)
	r.Get("/v1/notes", s.handleNotes)
	r.Get("/v1/audit", s.handleAudit)

	r.Get("/v1/events", s.handleEvents)

	return r
}

// Start begins serving HTTP requests. Blocks until the listener fails
// or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Routes(),
		ReadTimeout: 30 * time.Second,
		// No write timeout: the event stream holds connections open.
		IdleTimeout: 120 * time.Second,
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "Verbalis",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info(), s.logger)
}

// --- Sessions ---

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	sess, err := s.sessions.Start(r.Context(), owner)
	switch {
	case errors.Is(err, session.ErrSessionExists):
		writeError(w, http.StatusConflict, err.Error(), s.logger)
	case errors.Is(err, session.ErrRetryExhausted):
		writeError(w, http.StatusBadGateway, err.Error(), s.logger)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
	default:
		writeJSON(w, http.StatusCreated, sess, s.logger)
	}
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	if err := s.sessions.Stop(r.Context(), owner); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"}, s.logger)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	writeJSON(w, http.StatusOK, s.sessions.GetStatus(owner), s.logger)
}

type utteranceRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleUtterance(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	var req utteranceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}

	reply, err := s.sessions.ProcessUtterance(r.Context(), owner, req.Text)
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
			"reply": reply,
		}, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply}, s.logger)
}

// --- Commands ---

func (s *Server) handleCommandList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"commands": s.proc.Names()}, s.logger)
}

type commandRequest struct {
	OwnerID string         `json:"owner_id"`
	Params  map[string]any `json:"params"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}

	result := s.proc.Process(r.Context(), req.OwnerID, name, commands.Params(req.Params))

	status := http.StatusOK
	if !result.Success {
		switch result.Kind {
		case commands.KindUnknownCommand:
			status = http.StatusNotFound
		case commands.KindValidation:
			status = http.StatusBadRequest
		default:
			status = http.StatusBadGateway
		}
	}
	writeJSON(w, status, result, s.logger)
}

// --- Calendar ---

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := s.cal.TodaySchedule(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error(), s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"schedule": schedule}, s.logger)
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer", s.logger)
			return
		}
		days = n
	}

	upcoming, err := s.cal.UpcomingEvents(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error(), s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "upcoming": upcoming}, s.logger)
}

func (s *Server) handleNextMeeting(w http.ResponseWriter, r *http.Request) {
	meeting, err := s.cal.NextMeeting(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error(), s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"next_meeting": meeting}, s.logger)
}

func (s *Server) handleFreeTime(w http.ResponseWriter, r *http.Request) {
	if dayStr := r.URL.Query().Get("day"); dayStr != "" {
		day, err := time.ParseInLocation("2006-01-02", dayStr, time.Local)
		if err != nil {
			writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD", s.logger)
			return
		}
		slots, err := s.cal.FreeSlotsOn(r.Context(), day)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error(), s.logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"day": dayStr, "slots": slots}, s.logger)
		return
	}

	free, err := s.cal.FreeTimeToday(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error(), s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"free_time": free}, s.logger)
}

type meetingSlotsRequest struct {
	DurationMinutes int      `json:"duration_minutes"`
	Participants    []string `json:"participants"`
	Days            int      `json:"days"`
}

func (s *Server) handleMeetingSlots(w http.ResponseWriter, r *http.Request) {
	var req meetingSlotsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = 60
	}
	if req.Days <= 0 {
		req.Days = 7
	}

	slots, err := s.cal.FindMeetingSlots(r.Context(),
		time.Duration(req.DurationMinutes)*time.Minute, req.Participants, req.Days)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error(), s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots}, s.logger)
}

// --- Tasks and records ---

func (s *Server) handleTimers(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	timers := s.proc.ActiveTimers(owner)
	writeJSON(w, http.StatusOK, map[string]any{
		"timers":  timers,
		"summary": s.proc.TimerSummary(owner),
	}, s.logger)
}

func (s *Server) handleReminders(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	reminders, err := s.store.ListPendingReminders(owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reminders": reminders}, s.logger)
}

func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	notes, err := s.store.ListNotes(owner, queryLimit(r, 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": notes}, s.logger)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	entries, err := s.store.ListAudit(owner, queryLimit(r, 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries}, s.logger)
}

func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
