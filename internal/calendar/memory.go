package calendar

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/verbalis/verbalis/internal/freebusy"
)

// MemoryProvider is an in-memory calendar backend. Used in tests and
// when no CalDAV server is configured.
type MemoryProvider struct {
	mu     sync.Mutex
	events []Event
	busy   map[string][]freebusy.Interval
}

// NewMemoryProvider creates an empty in-memory calendar.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{busy: make(map[string][]freebusy.Interval)}
}

// Add stores an event.
func (m *MemoryProvider) Add(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

// SetBusy records a participant's busy intervals for FreeBusy queries.
// The provider's own events are always reported under "primary" in
// addition to anything set here.
func (m *MemoryProvider) SetBusy(participant string, busy []freebusy.Interval) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy[participant] = busy
}

func (m *MemoryProvider) ListEvents(_ context.Context, from, to time.Time) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Event
	for _, ev := range m.events {
		if ev.Start.Before(to) && from.Before(ev.End) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *MemoryProvider) FreeBusy(_ context.Context, participants []string, from, to time.Time) (map[string][]freebusy.Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string][]freebusy.Interval, len(participants))
	for _, p := range participants {
		var list []freebusy.Interval
		for _, iv := range m.busy[p] {
			if iv.Start.Before(to) && from.Before(iv.End) {
				list = append(list, iv)
			}
		}
		if p == "primary" {
			for _, ev := range m.events {
				if ev.AllDay {
					continue
				}
				if ev.Start.Before(to) && from.Before(ev.End) {
					list = append(list, freebusy.Interval{Start: ev.Start, End: ev.End})
				}
			}
		}
		result[p] = list
	}
	return result, nil
}
