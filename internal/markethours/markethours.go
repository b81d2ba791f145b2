// Package markethours gates live sweeps on the US equity session. Crypto
// watchlists run with ModeAlways; stock watchlists use ModeUS so the scanner
// stays quiet outside NYSE hours.
package markethours

import (
	"fmt"
	"time"
)

// Mode selects the gating behavior.
type Mode string

const (
	// ModeAlways never blocks a sweep.
	ModeAlways Mode = "always"
	// ModeUS allows sweeps only during the NYSE session, 9:30-16:00 ET
	// inclusive, on weekdays that are not holidays.
	ModeUS Mode = "us"
)

// Calendar answers whether the market is open at a given instant.
type Calendar struct {
	mode Mode
	loc  *time.Location
}

// Status describes the market state at one instant, for status summaries.
type Status struct {
	Open     bool
	Weekend  bool
	Holiday  bool
	NextOpen time.Time     // Next opening bell; zero in always mode
	ToClose  time.Duration // Time until the closing bell when open
}

// New builds a calendar for the given mode.
func New(mode Mode) (*Calendar, error) {
	switch mode {
	case ModeAlways:
		return &Calendar{mode: mode}, nil
	case ModeUS:
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			return nil, fmt.Errorf("loading US eastern timezone: %w", err)
		}
		return &Calendar{mode: mode, loc: loc}, nil
	default:
		return nil, fmt.Errorf("unknown market hours mode %q (use %q or %q)", mode, ModeAlways, ModeUS)
	}
}

// IsOpen reports whether a sweep should run at the given instant.
func (c *Calendar) IsOpen(at time.Time) bool {
	if c.mode == ModeAlways {
		return true
	}
	et := at.In(c.loc)
	if !isTradingDay(et) {
		return false
	}
	open := sessionOpen(et)
	close := sessionClose(et)
	return !et.Before(open) && !et.After(close)
}

// NextOpen returns the next opening bell at or after the given instant.
// Returns the zero time in always mode, where the market never closes.
func (c *Calendar) NextOpen(at time.Time) time.Time {
	if c.mode == ModeAlways {
		return time.Time{}
	}
	et := at.In(c.loc)
	for i := 0; i < 14; i++ {
		day := et.AddDate(0, 0, i)
		open := sessionOpen(day)
		if i == 0 && et.After(open) {
			continue
		}
		if isTradingDay(open) {
			return open
		}
	}
	return time.Time{}
}

// Snapshot reports the full market state at the given instant.
func (c *Calendar) Snapshot(at time.Time) Status {
	if c.mode == ModeAlways {
		return Status{Open: true}
	}
	et := at.In(c.loc)
	st := Status{
		Open:    c.IsOpen(at),
		Weekend: et.Weekday() == time.Saturday || et.Weekday() == time.Sunday,
		Holiday: isHoliday(et),
	}
	if st.Open {
		st.ToClose = sessionClose(et).Sub(et)
	} else {
		st.NextOpen = c.NextOpen(at)
	}
	return st
}

func sessionOpen(et time.Time) time.Time {
	return time.Date(et.Year(), et.Month(), et.Day(), 9, 30, 0, 0, et.Location())
}

func sessionClose(et time.Time) time.Time {
	return time.Date(et.Year(), et.Month(), et.Day(), 16, 0, 0, 0, et.Location())
}

func isTradingDay(et time.Time) bool {
	if et.Weekday() == time.Saturday || et.Weekday() == time.Sunday {
		return false
	}
	return !isHoliday(et)
}

// isHoliday covers the fixed-list market holidays: New Year's Day,
// Independence Day, Christmas, and Thanksgiving (fourth Thursday of November).
func isHoliday(et time.Time) bool {
	month, day := et.Month(), et.Day()
	switch {
	case month == time.January && day == 1:
		return true
	case month == time.July && day == 4:
		return true
	case month == time.December && day == 25:
		return true
	}
	if month == time.November && et.Weekday() == time.Thursday {
		firstDay := time.Date(et.Year(), time.November, 1, 0, 0, 0, 0, et.Location())
		firstThursday := 1 + (int(time.Thursday)-int(firstDay.Weekday())+7)%7
		return day == firstThursday+21
	}
	return false
}
