package marketdata

import (
	"fmt"
	"time"
)

// Window is one continuous trading period within a day, in minutes after
// local midnight. End is exclusive.
type Window struct {
	Start int
	End   int
}

// Hours describes when the exchange is open.
type Hours struct {
	Location *time.Location
	Windows  []Window
	Holidays map[string]bool // "2006-01-02" in Location
}

// ChinaAShareHours returns the Shanghai/Shenzhen continuous trading sessions
// (09:30-11:30, 13:00-15:00 local time, weekdays).
func ChinaAShareHours(loc *time.Location) *Hours {
	return &Hours{
		Location: loc,
		Windows: []Window{
			{Start: 9*60 + 30, End: 11*60 + 30},
			{Start: 13 * 60, End: 15 * 60},
		},
		Holidays: make(map[string]bool),
	}
}

// AddHoliday marks a local calendar date (YYYY-MM-DD) as closed.
func (h *Hours) AddHoliday(date string) error {
	if _, err := time.ParseInLocation("2006-01-02", date, h.Loc()); err != nil {
		return fmt.Errorf("parse holiday %q: %w", date, err)
	}
	if h.Holidays == nil {
		h.Holidays = make(map[string]bool)
	}
	h.Holidays[date] = true
	return nil
}

// IsOpen reports whether t falls inside a trading window.
func (h *Hours) IsOpen(t time.Time) bool {
	local := t.In(h.Loc())
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	if h.Holidays[local.Format("2006-01-02")] {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	for _, w := range h.Windows {
		if minute >= w.Start && minute < w.End {
			return true
		}
	}
	return false
}

// StartOfDay returns local midnight for the calendar day containing t.
func (h *Hours) StartOfDay(t time.Time) time.Time {
	local := t.In(h.Loc())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, h.Loc())
}

func (h *Hours) Loc() *time.Location {
	if h.Location == nil {
		return time.UTC
	}
	return h.Location
}
