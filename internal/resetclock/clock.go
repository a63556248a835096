package resetclock

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Clock computes usage-window keys and reset boundaries for a configured
// timezone and local reset hour.
type Clock struct {
	loc       *time.Location
	resetHour int
}

// New constructs a Clock. An invalid timezone name fails safe to UTC and
// an out-of-range reset hour falls back to midnight.
func New(tzName string, resetHour int) *Clock {
	loc := time.UTC
	if tzName != "" {
		parsed, errLoad := time.LoadLocation(tzName)
		if errLoad != nil {
			log.WithError(errLoad).Warnf("reset clock: invalid timezone %q, using UTC", tzName)
		} else {
			loc = parsed
		}
	}
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	return &Clock{loc: loc, resetHour: resetHour}
}

// NewUTC constructs a Clock with UTC-midnight boundaries.
func NewUTC() *Clock {
	return &Clock{loc: time.UTC}
}

// shifted returns the local time moved back by the reset hour, so that
// instants before the boundary belong to the previous day's window.
func (c *Clock) shifted(t time.Time) time.Time {
	lt := t.In(c.loc)
	if lt.Hour() < c.resetHour {
		lt = lt.AddDate(0, 0, -1)
	}
	return lt
}

// DayKey returns the usage-day key an instant belongs to.
func (c *Clock) DayKey(t time.Time) string {
	return c.shifted(t).Format("2006-01-02")
}

// MonthKey returns the usage-month key an instant belongs to.
func (c *Clock) MonthKey(t time.Time) string {
	return c.shifted(t).Format("2006-01")
}

// NextDailyReset returns the next instant at which the day window rolls over.
func (c *Clock) NextDailyReset(t time.Time) time.Time {
	day := c.shifted(t).AddDate(0, 0, 1)
	return c.localWallToUTC(day.Year(), day.Month(), day.Day())
}

// NextMonthlyReset returns the next instant at which the month window rolls over.
func (c *Clock) NextMonthlyReset(t time.Time) time.Time {
	day := c.shifted(t)
	firstOfNext := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, c.loc).AddDate(0, 1, 0)
	return c.localWallToUTC(firstOfNext.Year(), firstOfNext.Month(), firstOfNext.Day())
}

// localWallToUTC converts the local wall-clock boundary (reset hour on the
// given date) to an absolute instant. The offset is resolved at a candidate
// instant and refined once more, so a DST transition at or near the
// boundary converges instead of landing an hour off.
func (c *Clock) localWallToUTC(year int, month time.Month, day int) time.Time {
	wall := time.Date(year, month, day, c.resetHour, 0, 0, 0, time.UTC)
	_, off1 := wall.In(c.loc).Zone()
	candidate := wall.Add(-time.Duration(off1) * time.Second)
	_, off2 := candidate.In(c.loc).Zone()
	if off2 != off1 {
		candidate = wall.Add(-time.Duration(off2) * time.Second)
	}
	return candidate
}
