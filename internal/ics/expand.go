package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "eventcal/internal/log"
	"eventcal/internal/model"
)

// MaxSpanDays caps how many days one event can cover in the month grid, so a
// typo in an upstream end date cannot flood the calendar.
const MaxSpanDays = 366

// Day is one cell of the month grid.
type Day struct {
	// Date is local midnight of the day in the grid's location.
	Date   time.Time
	Events []model.Entity
}

// MonthGrid returns every day of the given month with the events that cover
// it. Multi-day events appear on each day from their start day to their end
// day inclusive. Events keep their input order within a day.
func MonthGrid(events []model.Entity, year int, month time.Month, loc *time.Location) ([]Day, error) {
	if month < time.January || month > time.December {
		return nil, errors.New("ics: month out of range")
	}
	if loc == nil {
		loc = time.Local
	}

	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	next := first.AddDate(0, 1, 0)

	grid := make([]Day, 0, 31)
	for d := first; d.Before(next); d = d.AddDate(0, 0, 1) {
		grid = append(grid, Day{Date: d, Events: []model.Entity{}})
	}

	for _, e := range events {
		days, err := CoveredDays(e, loc, first, next.Add(-time.Nanosecond))
		if err != nil {
			appLog.Error("ics: cannot expand event span", err, "id", e.ID)
			continue
		}
		for _, d := range days {
			idx := d.Day() - 1
			if idx >= 0 && idx < len(grid) {
				grid[idx].Events = append(grid[idx].Events, e)
			}
		}
	}
	return grid, nil
}

// CoveredDays expands e into the local midnights it covers that fall within
// [from, to]. The span is a DAILY recurrence from the start day until the
// end day (or the start day when there is no usable end).
func CoveredDays(e model.Entity, loc *time.Location, from, to time.Time) ([]time.Time, error) {
	if e.Start == nil {
		return nil, nil
	}

	startDay := midnight(e.Start.In(loc))
	endDay := startDay
	if e.End != nil {
		if d := midnight(e.End.In(loc)); d.After(startDay) {
			endDay = d
		}
	}
	if limit := startDay.AddDate(0, 0, MaxSpanDays-1); endDay.After(limit) {
		appLog.Warn("ics: event span truncated", "id", e.ID, "max_days", MaxSpanDays)
		endDay = limit
	}

	// Cheap reject before building a rule.
	if endDay.Before(midnight(from.In(loc))) || startDay.After(to) {
		return nil, nil
	}

	r, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.DAILY,
		Dtstart: startDay,
		Until:   endDay,
	})
	if err != nil {
		return nil, err
	}
	return r.Between(from, to, true), nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
