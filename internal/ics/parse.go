package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "guardsched/internal/log"
	"guardsched/internal/model"
)

// ImportOptions controls how an iCalendar payload becomes event inputs.
type ImportOptions struct {
	// Location is the zone wire dates are written in. If nil, time.Local.
	Location *time.Location

	// RangeStart / RangeEnd bound recurring series. Single events are
	// imported regardless of the range. A zero RangeEnd means
	// RangeStart + defaultHorizon.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrences caps each recurring series.
	MaxOccurrences int
}

// Import parses an iCalendar payload into event inputs ready to be created.
//
//   - SUMMARY becomes the title and DESCRIPTION the notes.
//   - Duration is DTEND - DTSTART, clamped into the editable range; a
//     missing or empty DTEND gets the default duration.
//   - On-site is read from X-GUARDSCHED-ONSITE or a LOCATION of "On-site".
//   - RRULE series are expanded within the range, EXDATEs removed.
//
// VEVENTs that fail to parse are logged and skipped.
func Import(body []byte, opts ImportOptions) ([]model.EventInput, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.MaxOccurrences <= 0 {
		opts.MaxOccurrences = defaultMaxOccurrences
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err)
		return nil, err
	}

	out := make([]model.EventInput, 0)
	for _, ve := range cal.Events() {
		inputs, perr := importVEvent(ve, opts)
		if perr != nil {
			appLog.Error("ics vevent import failed", perr, "uid", propValue(ve, ical.ComponentPropertyUniqueId))
			continue
		}
		out = append(out, inputs...)
	}

	appLog.Info("ics import completed", "vevents", len(cal.Events()), "inputs", len(out))
	return out, nil
}

func importVEvent(ve *ical.VEvent, opts ImportOptions) ([]model.EventInput, error) {
	start, err := ve.GetStartAt()
	if err != nil {
		return nil, err
	}
	start = start.In(opts.Location)

	duration := model.DefaultEventDuration
	if end, err := ve.GetEndAt(); err == nil && end.After(start) {
		duration = clampDuration(end.Sub(start).Milliseconds())
	}

	in := model.EventInput{
		Date:     model.FormatWireTime(start),
		Title:    propValue(ve, ical.ComponentPropertySummary),
		Notes:    propValue(ve, ical.ComponentPropertyDescription),
		Duration: duration,
		Onsite: strings.EqualFold(propValue(ve, onsiteProperty), "TRUE") ||
			strings.EqualFold(propValue(ve, ical.ComponentPropertyLocation), onsiteLocation),
	}

	rule := propValue(ve, ical.ComponentPropertyRrule)
	if rule == "" {
		return []model.EventInput{in}, nil
	}

	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, err
	}
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, opts.Location); err == nil {
				set.ExDate(t.In(start.Location()))
			}
		}
	}

	from := opts.RangeStart
	if from.IsZero() || from.Before(start) {
		from = start
	}
	until := opts.RangeEnd
	if until.IsZero() {
		until = from.Add(defaultHorizon)
	}

	times, truncated := between(&set, from, until, opts.MaxOccurrences)
	if truncated {
		appLog.Warn("ics import: recurring series truncated", "uid", propValue(ve, ical.ComponentPropertyUniqueId), "cap", opts.MaxOccurrences)
	}

	out := make([]model.EventInput, 0, len(times))
	for _, t := range times {
		occ := in
		occ.Date = model.FormatWireTime(t.In(opts.Location))
		out = append(out, occ)
	}
	return out, nil
}

func propValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return p.Value
	}
	return ""
}

func clampDuration(ms int64) int64 {
	if ms < model.MinEventDuration {
		return model.MinEventDuration
	}
	if ms > model.MaxEventDuration {
		return model.MaxEventDuration
	}
	return ms
}

// parseICSTime parses a basic DATE / DATE-TIME / UTC value as used by EXDATE.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}
