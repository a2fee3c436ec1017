package domain

import (
	"sort"
	"time"
)

// BusyInterval is the part of an appointment the slot arithmetic needs.
type BusyInterval struct {
	Start  Clock
	End    Clock
	Status Status
}

func (b BusyInterval) Interval() Interval {
	return Interval{Start: b.Start, End: b.End}
}

// Blocking reports whether the interval still occupies the calendar.
func (b BusyInterval) Blocking() bool {
	return b.Status != StatusCancelled
}

// Slot is a transient bookable interval. It is recomputed on every request and
// never cached across a booking.
type Slot struct {
	Date      time.Time
	DayOfWeek int
	StartTime Clock
	EndTime   Clock
}

func (s Slot) DayName() string {
	return DayName(s.DayOfWeek)
}

func (s Slot) Interval() Interval {
	return Interval{Start: s.StartTime, End: s.EndTime}
}

// StartsAt is the slot start instant in loc.
func (s Slot) StartsAt(loc *time.Location) time.Time {
	return At(s.Date, s.StartTime, loc)
}

// GenerateSlots returns the free slots of one day. Inputs must already be
// filtered to date's weekday (windows, breaks) and date (busy). Each window is
// walked in durationMinutes steps from its start; a candidate is kept only if
// it ends inside the window and touches no active break and no non-cancelled
// appointment. The result is sorted by start with duplicates from overlapping
// windows removed. It never returns nil.
func GenerateSlots(date time.Time, windows []AvailabilityWindow, breaks []Break, busy []BusyInterval, durationMinutes int) []Slot {
	out := make([]Slot, 0)
	if durationMinutes <= 0 || len(windows) == 0 {
		return out
	}

	blocked := make([]Interval, 0, len(breaks)+len(busy))
	for _, b := range breaks {
		if b.IsActive && b.Interval().Valid() {
			blocked = append(blocked, b.Interval())
		}
	}
	for _, b := range busy {
		if b.Blocking() && b.Interval().Valid() {
			blocked = append(blocked, b.Interval())
		}
	}

	dow := DayOfWeek(date)
	seen := make(map[Clock]struct{})
	for _, w := range windows {
		if !w.IsActive || !w.Interval().Valid() {
			continue
		}
		for start := w.StartTime; start.Add(durationMinutes) <= w.EndTime; start = start.Add(durationMinutes) {
			candidate := Interval{Start: start, End: start.Add(durationMinutes)}
			if overlapsAny(candidate, blocked) {
				continue
			}
			if _, dup := seen[start]; dup {
				continue
			}
			seen[start] = struct{}{}
			out = append(out, Slot{
				Date:      date,
				DayOfWeek: dow,
				StartTime: candidate.Start,
				EndTime:   candidate.End,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

func overlapsAny(candidate Interval, blocked []Interval) bool {
	for _, b := range blocked {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}
