// Package dateutil provides calendar helpers bound to one configured zone.
// Every date string in the engine is YYYY-MM-DD in that zone, and weeks
// start on Sunday.
package dateutil

import (
	"fmt"
	"strings"
	"time"

	"github.com/limber-app/limber/internal/domain"
)

// Layout is the canonical date-string layout.
const Layout = "2006-01-02"

// Calendar converts instants to calendar days in a fixed location.
type Calendar struct {
	loc *time.Location
}

// New returns a calendar for loc. A nil loc means time.Local.
func New(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.Local
	}
	return Calendar{loc: loc}
}

// Load returns a calendar for an IANA zone name. "" and "Local" use time.Local.
func Load(name string) (Calendar, error) {
	if name == "" || name == "Local" {
		return New(time.Local), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Calendar{}, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return New(loc), nil
}

// Location returns the calendar's zone.
func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.Local
	}
	return c.loc
}

// In converts t into the calendar's zone.
func (c Calendar) In(t time.Time) time.Time {
	return t.In(c.Location())
}

// DateString formats t as YYYY-MM-DD in the calendar's zone.
func (c Calendar) DateString(t time.Time) string {
	return c.In(t).Format(Layout)
}

// Today returns the date string of now.
func (c Calendar) Today(now time.Time) string {
	return c.DateString(now)
}

// ParseDate parses a YYYY-MM-DD string as midnight in the calendar's zone.
func (c Calendar) ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(Layout, s, c.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", domain.ErrInvalidDate, s)
	}
	return t, nil
}

// Normalize accepts a date string or an RFC 3339 timestamp and returns the
// canonical YYYY-MM-DD form.
func (c Calendar) Normalize(s string) (string, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(Layout, s, c.Location()); err == nil {
		return t.Format(Layout), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return c.DateString(t), nil
	}
	return "", fmt.Errorf("%w: %q", domain.ErrInvalidDate, s)
}

// AddDays shifts a date string by n calendar days.
func (c Calendar) AddDays(date string, n int) (string, error) {
	t, err := c.ParseDate(date)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(Layout), nil
}

// MustAddDays is AddDays for dates that are already known to be valid.
func (c Calendar) MustAddDays(date string, n int) string {
	out, err := c.AddDays(date, n)
	if err != nil {
		panic(err)
	}
	return out
}

// StartOfDay returns 00:00 of t's day.
func (c Calendar) StartOfDay(t time.Time) time.Time {
	l := c.In(t)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, c.Location())
}

// EndOfDay returns the last nanosecond of t's day.
func (c Calendar) EndOfDay(t time.Time) time.Time {
	return c.StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// StartOfWeek returns Sunday 00:00 of t's week.
func (c Calendar) StartOfWeek(t time.Time) time.Time {
	day := c.StartOfDay(t)
	return day.AddDate(0, 0, -int(day.Weekday()))
}

// EndOfWeek returns the last nanosecond of Saturday.
func (c Calendar) EndOfWeek(t time.Time) time.Time {
	return c.StartOfWeek(t).AddDate(0, 0, 7).Add(-time.Nanosecond)
}

// StartOfMonth returns the first day of t's month at 00:00.
func (c Calendar) StartOfMonth(t time.Time) time.Time {
	l := c.In(t)
	return time.Date(l.Year(), l.Month(), 1, 0, 0, 0, 0, c.Location())
}

// EndOfMonth returns the last nanosecond of t's month.
func (c Calendar) EndOfMonth(t time.Time) time.Time {
	return c.StartOfMonth(t).AddDate(0, 1, 0).Add(-time.Nanosecond)
}

// IsSameDay reports whether a and b fall on the same calendar day.
func (c Calendar) IsSameDay(a, b time.Time) bool {
	return c.DateString(a) == c.DateString(b)
}

// IsSameWeek reports whether a and b fall in the same Sunday-based week.
func (c Calendar) IsSameWeek(a, b time.Time) bool {
	return c.StartOfWeek(a).Equal(c.StartOfWeek(b))
}

// IsSameMonth reports whether a and b fall in the same calendar month.
func (c Calendar) IsSameMonth(a, b time.Time) bool {
	la, lb := c.In(a), c.In(b)
	return la.Year() == lb.Year() && la.Month() == lb.Month()
}

// DaysBetween returns the number of calendar days from a to b.
// Negative when b is before a.
func (c Calendar) DaysBetween(a, b time.Time) int {
	da, db := c.StartOfDay(a), c.StartOfDay(b)
	// Use the date components so DST shifts never change the count.
	ua := time.Date(da.Year(), da.Month(), da.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(db.Year(), db.Month(), db.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
