package ics

import (
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "eventcal/internal/log"
	"eventcal/internal/model"
)

// defaultDuration is used for events that have a start but no end.
const defaultDuration = time.Hour

// FeedOptions controls iCalendar export.
type FeedOptions struct {
	// Name is shown by calendar clients (X-WR-CALNAME).
	Name string
	// Domain is the right-hand side of each UID ("<id>@<domain>").
	Domain string
	// Now is written as DTSTAMP. Zero means time.Now().
	Now time.Time
}

// Feed renders events as an iCalendar document (METHOD:PUBLISH). Events
// without a start time cannot be placed in a calendar and are skipped.
func Feed(events []model.Entity, opts FeedOptions) string {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.Domain == "" {
		opts.Domain = "eventcal.local"
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//eventcal//events feed//EN")
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	skipped := 0
	for _, e := range events {
		if e.Start == nil {
			skipped++
			continue
		}
		addEvent(cal, e, opts)
	}

	if skipped > 0 {
		appLog.Debug("ics feed: skipped events without start", "count", skipped)
	}
	return cal.Serialize()
}

func addEvent(cal *ical.Calendar, e model.Entity, opts FeedOptions) {
	ve := cal.AddEvent(UID(e, opts.Domain))
	ve.SetDtStampTime(opts.Now)

	start := *e.Start
	end := start.Add(defaultDuration)
	if e.End != nil && e.End.After(start) {
		end = *e.End
	}
	ve.SetStartAt(start)
	ve.SetEndAt(end)

	ve.SetSummary(e.Title)
	if e.Detail != "" {
		ve.SetDescription(e.Detail)
	}
	if e.LocationURL != "" {
		ve.SetLocation(e.LocationURL)
	}
	if e.PageLink != "" {
		ve.SetURL(e.PageLink)
	}
	if e.Category != "" {
		ve.SetProperty(ical.ComponentPropertyCategories, e.Category)
	}
	if e.Coords != nil {
		ve.SetProperty(ical.ComponentPropertyGeo, formatGeo(*e.Coords))
	}
}

// UID builds a stable iCalendar UID for e.
func UID(e model.Entity, domain string) string {
	return string(e.Kind) + "-" + e.ID + "@" + domain
}

// formatGeo renders coordinates as the GEO property value "lat;lon".
func formatGeo(c model.Coordinates) string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + ";" + strconv.FormatFloat(c.Lon, 'f', -1, 64)
}
