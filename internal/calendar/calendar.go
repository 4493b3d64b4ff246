// Package calendar provides calendar lookups and the spoken-form
// summaries the assistant reads back. The Provider interface abstracts
// the backend; production uses CalDAV, tests use the in-memory
// provider.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/verbalis/verbalis/internal/freebusy"
)

// Event is a single calendar entry.
type Event struct {
	ID       string    `json:"id"`
	Summary  string    `json:"summary"`
	Location string    `json:"location,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	AllDay   bool      `json:"all_day,omitempty"`
}

// Provider is a calendar backend.
type Provider interface {
	// ListEvents returns events overlapping [from, to), ordered by
	// start time.
	ListEvents(ctx context.Context, from, to time.Time) ([]Event, error)
	// FreeBusy returns busy intervals per participant for [from, to).
	// Participants the backend cannot resolve map to an empty list.
	FreeBusy(ctx context.Context, participants []string, from, to time.Time) (map[string][]freebusy.Interval, error)
}

// minFreeGap is the shortest gap worth announcing as free time.
const minFreeGap = time.Hour

// Service composes spoken-form calendar answers on top of a Provider.
type Service struct {
	provider Provider
	logger   *slog.Logger

	// now is replaceable for tests.
	now func() time.Time
}

// NewService creates a calendar service.
func NewService(provider Provider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{provider: provider, logger: logger, now: time.Now}
}

// TodaySchedule summarizes today's events as a single spoken string.
func (s *Service) TodaySchedule(ctx context.Context) (string, error) {
	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	events, err := s.provider.ListEvents(ctx, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return "", fmt.Errorf("list today: %w", err)
	}
	if len(events) == 0 {
		return "No events scheduled for today", nil
	}

	items := make([]string, 0, len(events))
	for _, ev := range events {
		when := "All day"
		if !ev.AllDay {
			when = ev.Start.Format("15:04")
		}
		item := fmt.Sprintf("%s at %s", summaryOrUntitled(ev), when)
		if ev.Location != "" {
			item += " at " + ev.Location
		}
		items = append(items, item)
	}
	return strings.Join(items, "; "), nil
}

// UpcomingEvents summarizes events over the next days.
func (s *Service) UpcomingEvents(ctx context.Context, days int) (string, error) {
	if days <= 0 {
		days = 7
	}
	now := s.now()

	events, err := s.provider.ListEvents(ctx, now, now.AddDate(0, 0, days))
	if err != nil {
		return "", fmt.Errorf("list upcoming: %w", err)
	}
	if len(events) == 0 {
		return fmt.Sprintf("No events scheduled for the next %d days", days), nil
	}

	items := make([]string, 0, len(events))
	for _, ev := range events {
		if ev.AllDay {
			items = append(items, fmt.Sprintf("%s on %s (All day)",
				summaryOrUntitled(ev), ev.Start.Format("2006-01-02")))
			continue
		}
		items = append(items, fmt.Sprintf("%s on %s at %s",
			summaryOrUntitled(ev), ev.Start.Format("2006-01-02"), ev.Start.Format("15:04")))
	}
	return strings.Join(items, "; "), nil
}

// NextMeeting describes the next upcoming event.
func (s *Service) NextMeeting(ctx context.Context) (string, error) {
	now := s.now()

	events, err := s.provider.ListEvents(ctx, now, now.AddDate(1, 0, 0))
	if err != nil {
		return "", fmt.Errorf("list next: %w", err)
	}
	if len(events) == 0 {
		return "No upcoming meetings", nil
	}

	ev := events[0]
	when := fmt.Sprintf("All day on %s", ev.Start.Format("2006-01-02"))
	if !ev.AllDay {
		when = ev.Start.Format("15:04 on January 02")
	}
	return fmt.Sprintf("Next meeting: %s at %s", summaryOrUntitled(ev), when), nil
}

// FreeTimeToday describes gaps of at least an hour between now and the
// end of today's last timed event.
func (s *Service) FreeTimeToday(ctx context.Context) (string, error) {
	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	events, err := s.provider.ListEvents(ctx, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return "", fmt.Errorf("list today: %w", err)
	}
	if len(events) == 0 {
		return "You have the whole day free!", nil
	}

	var busy []freebusy.Interval
	for _, ev := range events {
		if ev.AllDay {
			continue
		}
		busy = append(busy, freebusy.Interval{Start: ev.Start, End: ev.End})
	}
	if len(busy) == 0 {
		return "No timed events today, mostly free!", nil
	}

	merged := freebusy.Merge(busy)
	windowEnd := merged[len(merged)-1].End
	slots := freebusy.FreeSlots(busy, now, windowEnd, minFreeGap)
	if len(slots) == 0 {
		return "No significant free time slots found today", nil
	}

	parts := make([]string, 0, len(slots))
	for _, slot := range slots {
		parts = append(parts, fmt.Sprintf("%s - %s",
			slot.Start.Format("15:04"), slot.End.Format("15:04")))
	}
	return "Free time slots: " + strings.Join(parts, "; "), nil
}

// FreeSlotsOn returns the free gaps of at least an hour on the given
// day. For today the search starts at the current time; for other days
// it covers the day from midnight to the end of the last timed event.
func (s *Service) FreeSlotsOn(ctx context.Context, day time.Time) ([]freebusy.Interval, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	events, err := s.provider.ListEvents(ctx, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("list day: %w", err)
	}

	windowStart := dayStart
	if now := s.now(); now.After(dayStart) && now.Before(dayEnd) {
		windowStart = now
	}

	var busy []freebusy.Interval
	for _, ev := range events {
		if ev.AllDay {
			continue
		}
		busy = append(busy, freebusy.Interval{Start: ev.Start, End: ev.End})
	}
	if len(busy) == 0 {
		return []freebusy.Interval{{Start: windowStart, End: dayEnd}}, nil
	}

	merged := freebusy.Merge(busy)
	return freebusy.FreeSlots(busy, windowStart, merged[len(merged)-1].End, minFreeGap), nil
}

// FindMeetingSlots proposes spoken-form meeting times that work for
// every participant. The search always includes the provider's own
// calendar.
func (s *Service) FindMeetingSlots(ctx context.Context, duration time.Duration, participants []string, days int) ([]string, error) {
	if days <= 0 {
		days = 7
	}

	ids := make([]string, 0, len(participants)+1)
	seen := make(map[string]bool)
	for _, p := range participants {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		ids = append(ids, p)
	}
	if !seen["primary"] {
		ids = append(ids, "primary")
	}

	now := s.now()
	searchStart := time.Date(now.Year(), now.Month(), now.Day(), 8, 0, 0, 0, now.Location())

	busy, err := s.provider.FreeBusy(ctx, ids, searchStart, now.AddDate(0, 0, days))
	if err != nil {
		return nil, fmt.Errorf("free/busy query: %w", err)
	}

	total := 0
	for _, list := range busy {
		total += len(list)
	}
	if total == 0 {
		return []string{fmt.Sprintf("Everyone is free for the next %d days during work hours.", days)}, nil
	}

	slots := freebusy.MeetingSlots(duration, busy, searchStart, days, freebusy.DefaultSearchOptions())
	if len(slots) == 0 {
		return []string{"No common slots found."}, nil
	}

	spoken := make([]string, 0, len(slots))
	for _, slot := range slots {
		spoken = append(spoken, slot.Start.Format("Monday, Jan 02 at 03:04 PM"))
	}
	return spoken, nil
}

func summaryOrUntitled(ev Event) string {
	if ev.Summary == "" {
		return "Untitled Event"
	}
	return ev.Summary
}
