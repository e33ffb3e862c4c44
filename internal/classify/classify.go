// Package classify orders events for display and derives their temporal
// status relative to a caller-supplied "now".
package classify

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"eventcal/internal/model"
)

const day = 24 * time.Hour

// Sort returns a new slice with the same elements, ordered in two buckets:
// entities still running or yet to come (end time >= now) first, then past
// ones. Each bucket is ascending by start time only; entities without a
// start time go last within their bucket in input order. The input is not
// modified, and sorting a sorted slice leaves it unchanged.
//
// An entity without an end time is judged by its start time; one with
// neither is past.
func Sort(entities []model.Entity, now time.Time) []model.Entity {
	upcoming := make([]model.Entity, 0, len(entities))
	past := make([]model.Entity, 0)

	for _, e := range entities {
		if IsUpcomingOrOngoing(e, now) {
			upcoming = append(upcoming, e)
		} else {
			past = append(past, e)
		}
	}

	sortByStart(upcoming)
	sortByStart(past)

	return append(upcoming, past...)
}

// IsUpcomingOrOngoing reports whether e belongs in the first bucket.
func IsUpcomingOrOngoing(e model.Entity, now time.Time) bool {
	switch {
	case e.End != nil:
		return !e.End.Before(now)
	case e.Start != nil:
		return !e.Start.Before(now)
	default:
		return false
	}
}

func sortByStart(es []model.Entity) {
	sort.SliceStable(es, func(i, j int) bool {
		a, b := es[i].Start, es[j].Start
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
}

// DaysUntil returns ceil((start-now)/24h). It is zero or negative once the
// start has passed.
func DaysUntil(start, now time.Time) int {
	d := start.Sub(now)
	return int(math.Ceil(float64(d) / float64(day)))
}

// StatusOf classifies e. Entities without a start time are ongoing-or-past.
func StatusOf(e model.Entity, now time.Time, soonDays int) model.Status {
	if e.Start == nil {
		return model.Status{Kind: model.StatusOngoingOrPast}
	}
	n := DaysUntil(*e.Start, now)
	switch {
	case n <= 0:
		return model.Status{Kind: model.StatusOngoingOrPast, DaysUntil: n}
	case n <= soonDays:
		return model.Status{Kind: model.StatusStartingSoon, DaysUntil: n}
	default:
		return model.Status{Kind: model.StatusUpcoming, DaysUntil: n}
	}
}

// IsStartingSoon gates whether Label is worth showing.
func IsStartingSoon(e model.Entity, now time.Time, soonDays int) bool {
	return StatusOf(e, now, soonDays).Kind == model.StatusStartingSoon
}

// Label renders the countdown text for e: "starting in N days" before the
// start, "started" afterwards, and "" when the start is unknown.
func Label(e model.Entity, now time.Time) string {
	if e.Start == nil {
		return ""
	}
	n := DaysUntil(*e.Start, now)
	switch {
	case n == 1:
		return "starting in 1 day"
	case n > 1:
		return fmt.Sprintf("starting in %d days", n)
	default:
		return "started"
	}
}

// Categories recognised by the event-type filter.
var Categories = []string{"Festival", "ArtandMusic", "Sport", "Food", "custom"}

// FilterCategory keeps entities whose category equals category (case
// insensitive). "" and "all" keep everything.
func FilterCategory(entities []model.Entity, category string) []model.Entity {
	category = strings.TrimSpace(category)
	if category == "" || strings.EqualFold(category, "all") {
		return entities
	}
	out := make([]model.Entity, 0, len(entities))
	for _, e := range entities {
		if strings.EqualFold(e.Category, category) {
			out = append(out, e)
		}
	}
	return out
}
