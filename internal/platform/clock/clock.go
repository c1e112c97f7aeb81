// Package clock holds the calendar helpers shared by the queue, the
// vaccination schedule and the reminder sweeps. Every "day" in the system is
// a calendar date in the clinic time zone, carried as midnight UTC so that it
// round-trips through a Postgres DATE column unchanged.
package clock

import (
	"fmt"
	"time"
)

// Clock is the time source injected into services and sweeps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns the wall clock.
func System() Clock { return systemClock{} }

// Fixed is a Clock that always returns T. Tests move it by assigning T.
type Fixed struct {
	T time.Time
}

func (f *Fixed) Now() time.Time { return f.T }

// Day returns the calendar date of t in loc.
func Day(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayStart returns the instant day begins in loc.
func DayStart(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// ParseHHMM parses a 24h "HH:MM" string.
func ParseHHMM(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// At returns the instant hhmm on day in loc.
func At(day time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	h, m, err := ParseHHMM(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	y, mo, d := day.Date()
	return time.Date(y, mo, d, h, m, 0, 0, loc), nil
}

// HHMM formats t as "HH:MM" in loc.
func HHMM(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("15:04")
}
