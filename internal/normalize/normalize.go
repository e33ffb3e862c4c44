// Package normalize maps upstream records to model.Entity values and fills
// in missing coordinates through a resolve.Resolver.
package normalize

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "eventcal/internal/log"
	"eventcal/internal/model"
	"eventcal/internal/resolve"
	"eventcal/internal/upstream"
)

const defaultMaxConcurrency = 8

// Options controls a normalization pass.
type Options struct {
	// Location is used for upstream dates without a zone. Defaults to
	// time.Local.
	Location *time.Location

	// MaxConcurrency caps in-flight resolutions. Defaults to 8.
	MaxConcurrency int
}

// Normalize converts records of the given kind into entities. The result has
// exactly one entity per record, in input order.
//
// Records without a usable coordinate pair are resolved concurrently from
// LocationLink (preferred) or Location. A failed resolution only leaves that
// entity's coordinates unset. If r is nil no resolution is attempted.
func Normalize(ctx context.Context, records []upstream.Record, kind model.Kind, r resolve.Resolver, opts Options) []model.Entity {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaultMaxConcurrency
	}

	out := make([]model.Entity, len(records))
	for i, rec := range records {
		out[i] = toEntity(rec, kind, opts.Location)
	}

	if r == nil {
		return out
	}

	var g errgroup.Group
	g.SetLimit(opts.MaxConcurrency)

	pending := 0
	for i, rec := range records {
		if out[i].HasCoords() {
			continue
		}
		target := resolveTarget(rec)
		if target == "" {
			continue
		}
		pending++
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			coords, ok := r.Resolve(ctx, target)
			if ok && !out[i].SetCoords(coords) {
				appLog.Warn("resolver returned non-finite coordinates", "kind", kind, "id", out[i].ID)
			}
			return nil
		})
	}
	_ = g.Wait()

	if pending > 0 {
		resolved := 0
		for _, e := range out {
			if e.HasCoords() {
				resolved++
			}
		}
		appLog.Info("normalize completed",
			"kind", kind,
			"records", len(records),
			"resolution_attempts", pending,
			"with_coords", resolved,
			"canceled", errors.Is(ctx.Err(), context.Canceled),
		)
	}
	return out
}

// resolveTarget picks the string handed to the resolver.
func resolveTarget(rec upstream.Record) string {
	if rec.LocationLink != "" {
		return rec.LocationLink
	}
	return rec.Location
}

func toEntity(rec upstream.Record, kind model.Kind, loc *time.Location) model.Entity {
	e := model.Entity{
		ID:           rec.ID,
		Kind:         kind,
		Title:        strings.TrimSpace(rec.Title),
		Detail:       rec.Detail,
		Image:        rec.Image,
		LocationURL:  resolveTarget(rec),
		PageLink:     rec.PageLink,
		RegisterLink: rec.RegisterLink,
	}

	switch kind {
	case model.KindEvent:
		e.Category = rec.EventType
	default:
		e.Category = rec.Type
	}

	if t, ok := ParseTime(rec.Start, loc); ok {
		e.Start = &t
	}
	if t, ok := ParseTime(rec.End, loc); ok {
		e.End = &t
	}
	if rec.Coords != nil {
		e.SetCoords(*rec.Coords)
	}
	return e
}

// Layouts accepted for upstream Start/End values, most specific first.
var timeLayouts = []struct {
	layout string
	zoned  bool
}{
	{time.RFC3339Nano, true},
	{time.RFC3339, true},
	{"2006-01-02T15:04:05.999999999", false},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02T15:04", false},
	{"2006-01-02 15:04:05", false},
	{"2006-01-02 15:04", false},
	{"2006-01-02", false},
}

// ParseTime parses an upstream date or date-time. Values without a zone are
// interpreted in loc.
func ParseTime(v string, loc *time.Location) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, l := range timeLayouts {
		var (
			t   time.Time
			err error
		)
		if l.zoned {
			t, err = time.Parse(l.layout, v)
		} else {
			t, err = time.ParseInLocation(l.layout, v, loc)
		}
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
