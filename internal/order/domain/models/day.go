package models

import "time"

const DayLayout = "2006-01-02"

// DayOf returns the calendar date of t in loc as a UTC midnight value.
// Day keys are compared and stored in this form.
func DayOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DayLayout, s, time.UTC)
}

func FormatDay(day time.Time) string {
	return day.Format(DayLayout)
}

// DayStart is the first instant of the calendar day in loc.
func DayStart(day time.Time, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
}

// DaysBetween lists every calendar day in [from, to], ascending.
func DaysBetween(from, to time.Time) []time.Time {
	if to.Before(from) {
		return nil
	}
	var days []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
