package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"github.com/verbalis/verbalis/internal/freebusy"
	"github.com/verbalis/verbalis/internal/httpkit"
)

// CalDAVProvider reads events from a CalDAV calendar collection.
type CalDAVProvider struct {
	client *caldav.Client
	logger *slog.Logger

	// calendarPath is resolved lazily on first use.
	calendarPath string
}

// NewCalDAV connects to a CalDAV endpoint with basic auth. The
// calendar collection is discovered on first query.
func NewCalDAV(endpoint, username, password string, logger *slog.Logger) (*CalDAVProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := webdav.HTTPClientWithBasicAuth(
		httpkit.NewClient(httpkit.WithTimeout(30*time.Second)), username, password)

	client, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("caldav client: %w", err)
	}

	return &CalDAVProvider{client: client, logger: logger}, nil
}

// resolveCalendar discovers the first calendar collection under the
// current user's calendar home set.
func (p *CalDAVProvider) resolveCalendar(ctx context.Context) (string, error) {
	if p.calendarPath != "" {
		return p.calendarPath, nil
	}

	principal, err := p.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("find principal: %w", err)
	}
	homeSet, err := p.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("find calendar home set: %w", err)
	}
	calendars, err := p.client.FindCalendars(ctx, homeSet)
	if err != nil {
		return "", fmt.Errorf("find calendars: %w", err)
	}
	if len(calendars) == 0 {
		return "", fmt.Errorf("no calendars under %s", homeSet)
	}

	p.calendarPath = calendars[0].Path
	p.logger.Debug("resolved calendar", "path", p.calendarPath, "name", calendars[0].Name)
	return p.calendarPath, nil
}

// ListEvents queries VEVENTs overlapping [from, to).
func (p *CalDAVProvider) ListEvents(ctx context.Context, from, to time.Time) ([]Event, error) {
	path, err := p.resolveCalendar(ctx)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name: ical.CompEvent,
				Props: []string{
					ical.PropUID,
					ical.PropSummary,
					ical.PropLocation,
					ical.PropDateTimeStart,
					ical.PropDateTimeEnd,
				},
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: from,
				End:   to,
			}},
		},
	}

	objects, err := p.client.QueryCalendar(ctx, path, query)
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}

	var events []Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, raw := range obj.Data.Events() {
			ev, err := decodeEvent(raw, from.Location())
			if err != nil {
				p.logger.Warn("skipping malformed event", "path", obj.Path, "error", err)
				continue
			}
			if ev.Start.Before(to) && from.Before(ev.End) {
				events = append(events, ev)
			}
		}
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return events, nil
}

// FreeBusy reports this calendar's busy intervals under "primary".
// A single-user CalDAV collection cannot resolve other participants;
// they are returned with no busy time, widening rather than narrowing
// the proposed slots.
func (p *CalDAVProvider) FreeBusy(ctx context.Context, participants []string, from, to time.Time) (map[string][]freebusy.Interval, error) {
	events, err := p.ListEvents(ctx, from, to)
	if err != nil {
		return nil, err
	}

	var busy []freebusy.Interval
	for _, ev := range events {
		if ev.AllDay {
			continue
		}
		busy = append(busy, freebusy.Interval{Start: ev.Start, End: ev.End})
	}

	result := make(map[string][]freebusy.Interval, len(participants))
	for _, id := range participants {
		if id == "primary" {
			result[id] = busy
			continue
		}
		p.logger.Warn("cannot resolve participant calendar, assuming free", "participant", id)
		result[id] = nil
	}
	return result, nil
}

func decodeEvent(raw ical.Event, loc *time.Location) (Event, error) {
	start, err := raw.DateTimeStart(loc)
	if err != nil {
		return Event{}, fmt.Errorf("dtstart: %w", err)
	}
	end, err := raw.DateTimeEnd(loc)
	if err != nil {
		return Event{}, fmt.Errorf("dtend: %w", err)
	}

	ev := Event{Start: start, End: end}

	if prop := raw.Props.Get(ical.PropUID); prop != nil {
		ev.ID = prop.Value
	}
	if prop := raw.Props.Get(ical.PropSummary); prop != nil {
		ev.Summary = prop.Value
	}
	if prop := raw.Props.Get(ical.PropLocation); prop != nil {
		ev.Location = prop.Value
	}
	if prop := raw.Props.Get(ical.PropDateTimeStart); prop != nil && prop.ValueType() == ical.ValueDate {
		ev.AllDay = true
	}

	return ev, nil
}
