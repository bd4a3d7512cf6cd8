package ics

import (
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "guardsched/internal/log"
	"guardsched/internal/model"
)

const (
	ProductID      = "-//guardsched//schedule//EN"
	onsiteProperty = ical.ComponentProperty("X-GUARDSCHED-ONSITE")
	onsiteLocation = "On-site"
	defaultDomain  = "guardsched.local"
)

// ExportOptions controls calendar serialization.
type ExportOptions struct {
	// Location is the zone event wire dates are interpreted in.
	Location *time.Location
	// Domain is the right-hand side of generated UIDs (event-<id>@Domain).
	Domain string
	// Now stamps DTSTAMP; zero means time.Now().
	Now time.Time
}

// Export renders events as an iCalendar document, one VEVENT per event.
// Events whose date does not parse are skipped and logged.
func Export(events []model.Event, opts ExportOptions) string {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Domain == "" {
		opts.Domain = defaultDomain
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)

	for _, ev := range events {
		start, err := ev.Start(opts.Location)
		if err != nil {
			appLog.Error("ics export: skipping event with invalid date", err, "id", ev.ID, "date", ev.Date)
			continue
		}
		end, ok := ev.End(opts.Location)
		if !ok {
			end = start
		}

		vev := cal.AddEvent(EventUID(ev.ID, opts.Domain))
		vev.SetDtStampTime(opts.Now)
		vev.SetStartAt(start)
		vev.SetEndAt(end)
		vev.SetSummary(ev.Title)
		if ev.Notes != "" {
			vev.SetDescription(ev.Notes)
		}
		if ev.Onsite {
			vev.SetLocation(onsiteLocation)
			vev.SetProperty(onsiteProperty, "TRUE")
		}
	}

	return cal.Serialize()
}

// EventUID is the stable iCalendar UID of a server event.
func EventUID(id int, domain string) string {
	return "event-" + strconv.Itoa(id) + "@" + domain
}
