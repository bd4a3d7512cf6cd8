package model

import (
	"time"
)

// WireLayout is the event date format used by the API. The trailing Z is a
// literal: timestamps are read and written in the display location, not UTC.
const WireLayout = "2006-01-02T15:04:05.000Z"

const (
	weekPathLayout = "01-02-2006"
	clockLayout    = "03:04 PM"
	dayKeyLayout   = "2006-01-02"
)

// ParseWireTime parses an API date string in loc (time.Local when nil).
func ParseWireTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(WireLayout, s, loc)
}

// FormatWireTime formats t for the API using t's own location.
func FormatWireTime(t time.Time) string {
	return t.Format(WireLayout)
}

// FormatDay formats t as MM-dd-yyyy, the format of the week path segment.
func FormatDay(t time.Time) string {
	return t.Format(weekPathLayout)
}

// FormatClock formats t as hh:mm AM/PM.
func FormatClock(t time.Time) string {
	return t.Format(clockLayout)
}

// DayKey formats t as YYYY-MM-DD. Used by JSON views and query parameters.
func DayKey(t time.Time) string {
	return t.Format(dayKeyLayout)
}

// ParseDayKey parses a YYYY-MM-DD string as midnight in loc.
func ParseDayKey(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(dayKeyLayout, s, loc)
}

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// StartOfWeek returns the week anchor for t: midnight of the most recent
// day (t's day included) falling on first.
func StartOfWeek(t time.Time, first time.Weekday) time.Time {
	day := StartOfDay(t)
	offset := (int(day.Weekday()) - int(first) + 7) % 7
	return day.AddDate(0, 0, -offset)
}

// SameDay reports whether a and b fall on the same calendar day in a's location.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}

// NextWholeHour returns the top of the hour following t.
func NextWholeHour(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), 0, 0, 0, t.Location()).Add(time.Hour)
}
