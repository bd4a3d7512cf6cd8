package ics

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"guardsched/internal/model"
)

const (
	defaultMaxOccurrences = 500
	defaultHorizon        = 90 * 24 * time.Hour
)

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// Location is the zone the wire dates are read and written in.
	// If nil, time.Local is used.
	Location *time.Location

	// Until is the inclusive end of the expansion window. If zero, the
	// window ends defaultHorizon after the first occurrence.
	Until time.Time

	// MaxOccurrences caps the result. If zero, defaultMaxOccurrences is used.
	MaxOccurrences int
}

// Expand turns a recurring event into one input per occurrence. The first
// occurrence is in.Date itself; rule is an RRULE value such as
// "FREQ=WEEKLY;BYDAY=MO,WE;COUNT=6". All other fields are copied.
//
// truncated reports whether MaxOccurrences cut the series short.
func Expand(in model.EventInput, rule string, cfg ExpandConfig) (out []model.EventInput, truncated bool, err error) {
	if rule == "" {
		return nil, false, errors.New("expand: empty RRULE")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxOccurrences
	}

	start, err := model.ParseWireTime(in.Date, cfg.Location)
	if err != nil {
		return nil, false, fmt.Errorf("expand: invalid start date: %w", err)
	}

	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, false, fmt.Errorf("expand: invalid RRULE: %w", err)
	}
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)

	times, truncated := between(&set, start, cfg.Until, cfg.MaxOccurrences)
	out = make([]model.EventInput, 0, len(times))
	for _, t := range times {
		occ := in
		occ.Date = model.FormatWireTime(t.In(cfg.Location))
		if in.UserID != nil {
			id := *in.UserID
			occ.UserID = &id
		}
		out = append(out, occ)
	}
	return out, truncated, nil
}

// between returns the occurrences of set in [from, until], capped at limit.
func between(set *rrule.Set, from, until time.Time, limit int) ([]time.Time, bool) {
	if until.IsZero() {
		until = from.Add(defaultHorizon)
	}
	if until.Before(from) {
		return nil, false
	}
	times := set.Between(from, until, true)
	if len(times) > limit {
		return times[:limit], true
	}
	return times, false
}
