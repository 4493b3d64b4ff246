// Package freebusy implements the interval arithmetic behind free-time
// and meeting-slot discovery: merging busy calendar intervals and
// searching for open slots under work-hour constraints.
//
// All intervals are half-open ranges [Start, End) with Start < End, and
// all comparisons happen at minute granularity.
package freebusy

import (
	"sort"
	"time"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the interval length.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Overlaps reports whether two half-open intervals share any time.
// [a,b) and [c,d) overlap iff max(a,c) < min(b,d).
func (iv Interval) Overlaps(other Interval) bool {
	start := iv.Start
	if other.Start.After(start) {
		start = other.Start
	}
	end := iv.End
	if other.End.Before(end) {
		end = other.End
	}
	return start.Before(end)
}

// Merge sorts intervals by start time and coalesces overlapping or
// touching-by-overlap ranges into a minimal disjoint set. The input is
// not modified. Merge is idempotent: merging an already-merged list
// returns an equal list.
func Merge(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}

	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := make([]Interval, 0, len(sorted))
	current := sorted[0]
	for _, next := range sorted[1:] {
		if next.Start.Before(current.End) {
			if next.End.After(current.End) {
				current.End = next.End
			}
			continue
		}
		merged = append(merged, current)
		current = next
	}
	merged = append(merged, current)

	return merged
}

// FreeSlots returns the gaps inside [windowStart, windowEnd) not covered
// by any busy interval, keeping only gaps strictly longer than minGap.
// Busy intervals are merged first, so callers may pass raw, unsorted,
// overlapping lists.
func FreeSlots(busy []Interval, windowStart, windowEnd time.Time, minGap time.Duration) []Interval {
	windowStart = windowStart.Truncate(time.Minute)
	windowEnd = windowEnd.Truncate(time.Minute)
	if !windowStart.Before(windowEnd) {
		return nil
	}

	var free []Interval
	cursor := windowStart

	for _, b := range Merge(busy) {
		start := b.Start.Truncate(time.Minute)
		end := b.End.Truncate(time.Minute)
		if !end.After(cursor) {
			continue
		}
		if !start.Before(windowEnd) {
			break
		}
		if cursor.Before(start) {
			gap := Interval{Start: cursor, End: minTime(start, windowEnd)}
			if gap.Duration() > minGap {
				free = append(free, gap)
			}
		}
		if end.After(cursor) {
			cursor = end
		}
	}

	if cursor.Before(windowEnd) {
		gap := Interval{Start: cursor, End: windowEnd}
		if gap.Duration() > minGap {
			free = append(free, gap)
		}
	}

	return free
}

// SearchOptions constrain a meeting-slot search. The zero value is not
// usable directly; call DefaultSearchOptions and override fields.
type SearchOptions struct {
	// WorkHourStart and WorkHourEnd bound candidate slots to the local
	// working day, as hours in [0, 24). Candidates start only at or
	// after WorkHourStart and before WorkHourEnd.
	WorkHourStart int
	WorkHourEnd   int
	// StepMinutes is the cursor advance after each accepted candidate.
	StepMinutes int
	// MaxResults caps the number of returned slots.
	MaxResults int
}

// DefaultSearchOptions returns the standard 9-to-5 search: 30 minute
// steps, at most 5 results.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		WorkHourStart: 9,
		WorkHourEnd:   17,
		StepMinutes:   30,
		MaxResults:    5,
	}
}

// MeetingSlots finds up to opts.MaxResults candidate intervals of the
// given duration inside [searchStart, searchStart + windowDays) where
// none of the participants is busy. The union of all participants' busy
// lists is merged before scanning. Returns nil when no slot fits.
func MeetingSlots(duration time.Duration, participantBusy map[string][]Interval, searchStart time.Time, windowDays int, opts SearchOptions) []Interval {
	if duration <= 0 || windowDays <= 0 || opts.MaxResults <= 0 {
		return nil
	}

	var all []Interval
	for _, list := range participantBusy {
		all = append(all, list...)
	}
	merged := Merge(all)

	cursor := searchStart.Truncate(time.Minute)
	windowEnd := cursor.AddDate(0, 0, windowDays)

	var slots []Interval
	for cursor.Before(windowEnd) && len(slots) < opts.MaxResults {
		// Keep the cursor inside working hours, rolling forward to the
		// next day's start when past the end of the working day.
		if cursor.Hour() >= opts.WorkHourEnd {
			cursor = startOfWorkDay(cursor.AddDate(0, 0, 1), opts.WorkHourStart)
			continue
		}
		if cursor.Hour() < opts.WorkHourStart {
			cursor = startOfWorkDay(cursor, opts.WorkHourStart)
			continue
		}

		candidate := Interval{Start: cursor, End: cursor.Add(duration)}
		blocked := false
		for _, b := range merged {
			if candidate.Overlaps(b) {
				blocked = true
				next := b.End.Truncate(time.Minute)
				if !next.After(cursor) {
					// Sub-minute busy tail truncated back onto the
					// cursor; force progress.
					next = cursor.Add(time.Minute)
				}
				cursor = next
				break
			}
		}
		if blocked {
			continue
		}

		slots = append(slots, candidate)
		cursor = cursor.Add(time.Duration(opts.StepMinutes) * time.Minute)
	}

	return slots
}

func startOfWorkDay(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
