// Package civiltime computes calendar boundaries in a single fixed civil timezone.
//
// Stored instants are UTC. "Today", "this week" and "this month" are defined in the
// calendar's fixed offset, never in the host's local zone, so results are identical on
// every machine. Every boundary is returned as a UTC instant suitable for store queries.
package civiltime

import (
	"fmt"
	"time"

	"github.com/emberlog/service_layer/internal/clock"
)

// DefaultOffsetHours is the civil offset of the reference deployment (UTC+8).
const DefaultOffsetHours = 8

// DateKeyLayout is the layout of civil date grouping keys.
const DateKeyLayout = "2006-01-02"

// Calendar converts instants to and from one fixed civil zone.
type Calendar struct {
	loc *time.Location
}

// New returns a calendar for a fixed offset east of UTC.
func New(offset time.Duration) Calendar {
	secs := int(offset / time.Second)
	sign := "+"
	abs := secs
	if secs < 0 {
		sign = "-"
		abs = -secs
	}
	name := fmt.Sprintf("UTC%s%02d:%02d", sign, abs/3600, (abs%3600)/60)
	return Calendar{loc: time.FixedZone(name, secs)}
}

// NewHours returns a calendar for a whole-hour offset.
func NewHours(hours int) Calendar {
	return New(time.Duration(hours) * time.Hour)
}

// Default returns the UTC+8 calendar.
func Default() Calendar {
	return NewHours(DefaultOffsetHours)
}

// Location exposes the fixed zone.
func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Now returns the clock's instant expressed in the civil zone. Use it for deriving
// calendar fields only; elapsed-time arithmetic must use the UTC instant directly.
func (c Calendar) Now(clk clock.Clock) time.Time {
	return clk.Now().In(c.Location())
}

// StartOfDay returns civil midnight of the day containing t.
func (c Calendar) StartOfDay(t time.Time) time.Time {
	lt := t.In(c.Location())
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, c.Location()).UTC()
}

// StartOfWeek returns civil Monday 00:00 of the ISO week containing t.
func (c Calendar) StartOfWeek(t time.Time) time.Time {
	lt := t.In(c.Location())
	back := (int(lt.Weekday()) + 6) % 7
	return time.Date(lt.Year(), lt.Month(), lt.Day()-back, 0, 0, 0, 0, c.Location()).UTC()
}

// StartOfMonth returns civil 00:00 on the first of the month containing t.
func (c Calendar) StartOfMonth(t time.Time) time.Time {
	lt := t.In(c.Location())
	return time.Date(lt.Year(), lt.Month(), 1, 0, 0, 0, 0, c.Location()).UTC()
}

// DaysAgo returns civil midnight n days before the day containing now.
func (c Calendar) DaysAgo(now time.Time, n int) time.Time {
	lt := now.In(c.Location())
	return time.Date(lt.Year(), lt.Month(), lt.Day()-n, 0, 0, 0, 0, c.Location()).UTC()
}

// DateKey returns the YYYY-MM-DD civil date of t.
func (c Calendar) DateKey(t time.Time) string {
	return t.In(c.Location()).Format(DateKeyLayout)
}

// Hour returns the civil hour of day of t, in [0, 23].
func (c Calendar) Hour(t time.Time) int {
	return t.In(c.Location()).Hour()
}
