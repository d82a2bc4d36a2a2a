// Package timeutil provides calendar-day helpers bound to an explicit location.
// Every helper takes the *time.Location it works in, so a single computation
// never mixes zones. Day stepping uses calendar arithmetic (time.Date with a
// day offset), which stays correct across DST transitions where a day is
// 23 or 25 hours long.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"time"
)

// Clock abstracts the current time for services and jobs.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant. Useful in tests.
type FixedClock struct{ T time.Time }

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time { return c.T }

// LoadLocation resolves an IANA zone name. An empty name resolves to UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", name, err)
	}
	return loc, nil
}

// Day is a civil calendar date, comparable and usable as a map key.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// DayOf returns the calendar day of t in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	y, m, d := t.In(loc).Date()
	return Day{Year: y, Month: m, Day: d}
}

// Start returns midnight of the day in loc.
func (d Day) Start(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays steps n calendar days. Normalization is done in UTC, which has no
// DST, so the result is independent of any location.
func (d Day) AddDays(n int) Day {
	t := time.Date(d.Year, d.Month, d.Day+n, 0, 0, 0, 0, time.UTC)
	return Day{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// Before reports whether d is earlier than other.
func (d Day) Before(other Day) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// String formats the day as YYYY-MM-DD.
func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// StartOfDay returns the start of the day (00:00:00) of t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	return DayOf(t, loc).Start(loc)
}

// EndOfDay returns the start of the next calendar day of t in loc.
// Intervals built with it are half-open: [StartOfDay, EndOfDay).
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	return DayOf(t, loc).AddDays(1).Start(loc)
}

// AddDays moves t by n calendar days in loc, keeping the wall-clock time.
func AddDays(t time.Time, n int, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day()+n, lt.Hour(), lt.Minute(), lt.Second(), lt.Nanosecond(), loc)
}

// DaysBetween returns the number of calendar days from a to b in loc
// (negative when b is before a).
func DaysBetween(a, b time.Time, loc *time.Location) int {
	da := DayOf(a, loc)
	db := DayOf(b, loc)
	ua := time.Date(da.Year, da.Month, da.Day, 0, 0, 0, 0, time.UTC)
	ub := time.Date(db.Year, db.Month, db.Day, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// IsSameDay checks if two times fall on the same calendar day in loc.
func IsSameDay(t1, t2 time.Time, loc *time.Location) bool {
	return DayOf(t1, loc) == DayOf(t2, loc)
}

// DaysInRange lists every calendar day touched by the half-open interval
// [from, to) in loc, oldest first.
func DaysInRange(from, to time.Time, loc *time.Location) []Day {
	if !from.Before(to) {
		return nil
	}
	first := DayOf(from, loc)
	last := DayOf(to.Add(-time.Nanosecond), loc)
	days := make([]Day, 0, DaysBetween(from, to, loc)+1)
	for d := first; !last.Before(d); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}
