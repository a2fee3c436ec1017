package domain

import (
	"errors"
	"strings"
	"time"
)

// Horizon is the lookahead span of a multi-day slot search.
type Horizon string

const (
	HorizonNextWeek Horizon = "next_week"
	HorizonTwoWeeks Horizon = "two_weeks"
	HorizonMonth    Horizon = "month"
)

var errUnknownHorizon = errors.New("unknown horizon")

func ParseHorizon(s string) (Horizon, error) {
	switch h := Horizon(strings.ToLower(strings.TrimSpace(s))); h {
	case HorizonNextWeek, HorizonTwoWeeks, HorizonMonth:
		return h, nil
	default:
		return "", errUnknownHorizon
	}
}

// End returns the last date (inclusive) covered by h when searching from base.
// A month is a calendar month, so Jan 31 rolls over the way time.AddDate does.
func (h Horizon) End(base time.Time) (time.Time, error) {
	switch h {
	case HorizonNextWeek:
		return base.AddDate(0, 0, 7), nil
	case HorizonTwoWeeks:
		return base.AddDate(0, 0, 14), nil
	case HorizonMonth:
		return base.AddDate(0, 1, 0), nil
	default:
		return time.Time{}, errUnknownHorizon
	}
}

// DatesBetween lists every calendar date in [start, end], both normalised to
// midnight UTC. It returns nil when end is before start.
func DatesBetween(start, end time.Time) []time.Time {
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	if end.Before(start) {
		return nil
	}
	days := int(end.Sub(start)/(24*time.Hour)) + 1
	out := make([]time.Time, 0, days)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

var dayNames = [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// DayOfWeek uses 0 = Sunday through 6 = Saturday.
func DayOfWeek(date time.Time) int {
	return int(date.Weekday())
}

func DayName(dayOfWeek int) string {
	if dayOfWeek < 0 || dayOfWeek > 6 {
		return ""
	}
	return dayNames[dayOfWeek]
}

func ValidDayOfWeek(dayOfWeek int) bool {
	return dayOfWeek >= 0 && dayOfWeek <= 6
}
