package domain

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a wall-clock time of day with minute precision, stored as minutes
// since midnight. 24:00 is allowed so a window can run to the end of the day.
type Clock int

const (
	MinutesPerDay = 24 * 60
	dateLayout    = "2006-01-02"
)

var errInvalidClock = errors.New("invalid time of day")

func NewClock(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

// ParseClock accepts HH:MM and HH:MM:SS. Seconds must be zero.
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, errInvalidClock
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || len(parts[0]) > 2 {
		return 0, errInvalidClock
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 2 {
		return 0, errInvalidClock
	}
	if len(parts) == 3 {
		sec, err := strconv.Atoi(parts[2])
		if err != nil || sec != 0 {
			return 0, errInvalidClock
		}
	}
	if h < 0 || m < 0 || m > 59 {
		return 0, errInvalidClock
	}
	c := NewClock(h, m)
	if c > MinutesPerDay {
		return 0, errInvalidClock
	}
	return c, nil
}

func MustParseClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(fmt.Sprintf("domain: %q: %v", s, err))
	}
	return c
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) Add(minutes int) Clock {
	return c + Clock(minutes)
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

func (c Clock) Valid() bool {
	return c >= 0 && c <= MinutesPerDay
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	v, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Value stores the clock as a Postgres TIME literal.
func (c Clock) Value() (driver.Value, error) {
	if !c.Valid() {
		return nil, errInvalidClock
	}
	return fmt.Sprintf("%02d:%02d:00", c.Hour(), c.Minute()), nil
}

// Scan rejects anything that is not a textual or time.Time TIME value.
func (c *Clock) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return c.UnmarshalText([]byte(trimZeroFraction(v)))
	case []byte:
		return c.UnmarshalText([]byte(trimZeroFraction(string(v))))
	case time.Time:
		if v.Second() != 0 {
			return fmt.Errorf("scan clock: %w: %s has seconds", errInvalidClock, v.Format("15:04:05"))
		}
		*c = NewClock(v.Hour(), v.Minute())
		return nil
	default:
		return fmt.Errorf("scan clock: unsupported type %T", src)
	}
}

// trimZeroFraction drops a ".000000" suffix; drivers render TIME with
// microseconds.
func trimZeroFraction(s string) string {
	i := strings.IndexByte(s, '.')
	if i < 0 || strings.Trim(s[i+1:], "0") != "" {
		return s
	}
	return s[:i]
}

// Interval is a half-open [Start, End) span within one day.
type Interval struct {
	Start Clock
	End   Clock
}

func (i Interval) Valid() bool {
	return i.Start.Valid() && i.End.Valid() && i.Start < i.End
}

func (i Interval) Minutes() int {
	return int(i.End - i.Start)
}

// Overlaps reports whether two half-open intervals share any minute. Touching
// endpoints do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start < o.End && o.Start < i.End
}

func (i Interval) Contains(o Interval) bool {
	return i.Start <= o.Start && o.End <= i.End
}

func (i Interval) String() string {
	return i.Start.String() + "-" + i.End.String()
}

// ParseDate parses a YYYY-MM-DD calendar date into midnight UTC.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, strings.TrimSpace(s), time.UTC)
}

func FormatDate(d time.Time) string {
	return d.Format(dateLayout)
}

// DateOf returns the calendar date of t as observed in loc, as midnight UTC.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// At returns the instant at which clock c falls on date in loc.
func At(date time.Time, c Clock, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(date.Year(), date.Month(), date.Day(), c.Hour(), c.Minute(), 0, 0, loc)
}
