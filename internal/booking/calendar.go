// Package booking holds the appointment-booking view logic: the month
// calendar, the slot-fetch state machine and the draft assembler.
package booking

import "time"

// MonthFormat is the layout of the ?month= query parameter.
const MonthFormat = "2006-01"

// Day is one cell of a month grid. Blank cells pad the first and last week.
type Day struct {
	Date       time.Time
	Blank      bool
	Selectable bool
	Today      bool
}

// Number is the day of month, or 0 for a blank cell.
func (d Day) Number() int {
	if d.Blank {
		return 0
	}
	return d.Date.Day()
}

// ISO is the YYYY-MM-DD form used in booking URLs.
func (d Day) ISO() string {
	if d.Blank {
		return ""
	}
	return d.Date.Format("2006-01-02")
}

// Calendar is a Sunday-first month grid.
type Calendar struct {
	Month time.Time
	Days  []Day
}

// Weeks splits the grid into rows of seven.
func (c Calendar) Weeks() [][]Day {
	weeks := make([][]Day, 0, len(c.Days)/7)
	for i := 0; i+7 <= len(c.Days); i += 7 {
		weeks = append(weeks, c.Days[i:i+7])
	}
	return weeks
}

// Prev is the first day of the preceding month.
func (c Calendar) Prev() time.Time { return c.Month.AddDate(0, -1, 0) }

// Next is the first day of the following month.
func (c Calendar) Next() time.Time { return c.Month.AddDate(0, 1, 0) }

// Title renders e.g. "June 2024".
func (c Calendar) Title() string { return c.Month.Format("January 2006") }

// Month builds the grid for the month containing ref, in ref's location.
// Days before now's calendar day are kept but not selectable.
func Month(ref, now time.Time) Calendar {
	loc := ref.Location()
	first := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, loc)
	daysInMonth := first.AddDate(0, 1, -1).Day()

	n := now.In(loc)
	today := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)

	leading := int(first.Weekday())
	total := leading + daysInMonth
	if rem := total % 7; rem != 0 {
		total += 7 - rem
	}

	days := make([]Day, 0, total)
	for i := 0; i < leading; i++ {
		days = append(days, Day{Blank: true})
	}
	for d := 1; d <= daysInMonth; d++ {
		date := time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, loc)
		days = append(days, Day{
			Date:       date,
			Selectable: !date.Before(today),
			Today:      date.Equal(today),
		})
	}
	for len(days) < total {
		days = append(days, Day{Blank: true})
	}
	return Calendar{Month: first, Days: days}
}

// ParseMonth reads a ?month= value, defaulting to now's month.
func ParseMonth(value string, now time.Time) time.Time {
	loc := now.Location()
	if t, err := time.ParseInLocation(MonthFormat, value, loc); err == nil {
		return t
	}
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
}

// ParseDate reads a YYYY-MM-DD value in loc.
func ParseDate(value string, loc *time.Location) (time.Time, bool) {
	t, err := time.ParseInLocation("2006-01-02", value, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
