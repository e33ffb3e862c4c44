// Package catalog runs the fetch/normalize/classify pipeline for businesses
// and events and keeps the latest snapshot in a TTL cache it owns.
package catalog

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"eventcal/internal/cache"
	"eventcal/internal/classify"
	appLog "eventcal/internal/log"
	"eventcal/internal/metrics"
	"eventcal/internal/model"
	"eventcal/internal/normalize"
	"eventcal/internal/resolve"
	"eventcal/internal/upstream"
)

const snapshotKey = "snapshot"

// Source provides raw records for one kind. *upstream.Client implements it.
type Source interface {
	Fetch(ctx context.Context, kind model.Kind) ([]upstream.Record, error)
}

// Snapshot is one complete load of both collections.
type Snapshot struct {
	// Events are ordered by classify.Sort as of FetchedAt.
	Events     []model.Entity
	Businesses []model.Entity
	FetchedAt  time.Time

	// Errors holds a message per kind that could not be loaded. The
	// matching slice is empty in that case.
	Errors map[model.Kind]string
}

// Err returns the load error for kind, or "".
func (s *Snapshot) Err(kind model.Kind) string {
	if s == nil || s.Errors == nil {
		return ""
	}
	return s.Errors[kind]
}

// Options configures a Catalog.
type Options struct {
	// TTL is how long a snapshot is served before the next Load refetches.
	TTL time.Duration
	// Location is used for zone-less upstream dates.
	Location *time.Location
	// MaxConcurrency caps in-flight link resolutions per kind.
	MaxConcurrency int
	// RefreshTimeout bounds a refresh started by Load. Defaults to two
	// minutes.
	RefreshTimeout time.Duration
	// Now is swappable for tests. Defaults to time.Now.
	Now func() time.Time
}

const defaultRefreshTimeout = 2 * time.Minute

// purger is implemented by resolvers that hold a cache of past lookups.
type purger interface {
	Purge() int
}

// Catalog loads and caches snapshots.
type Catalog struct {
	source   Source
	resolver resolve.Resolver
	metrics  *metrics.Metrics
	opts     Options

	cache *cache.TTL[string, *Snapshot]
	group singleflight.Group
}

// New creates a Catalog. resolver may be nil to skip coordinate resolution.
func New(source Source, resolver resolve.Resolver, m *metrics.Metrics, opts Options) *Catalog {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = defaultRefreshTimeout
	}
	return &Catalog{
		source:   source,
		resolver: resolver,
		metrics:  m,
		opts:     opts,
		cache:    cache.New[string, *Snapshot](opts.TTL),
	}
}

// Load returns the cached snapshot while it is fresh and refreshes it
// otherwise. Concurrent callers share one refresh. The shared refresh is
// detached from any single caller, so a caller that gives up only stops
// waiting; the others still get the snapshot.
func (c *Catalog) Load(ctx context.Context) (*Snapshot, error) {
	if s, ok := c.cache.Get(snapshotKey); ok {
		return s, nil
	}
	ch := c.group.DoChan(snapshotKey, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.RefreshTimeout)
		defer cancel()
		return c.Refresh(rctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Refresh fetches both kinds concurrently and replaces the cached snapshot.
// A kind that fails to load is recorded in Snapshot.Errors and the other kind
// is still returned. Snapshots with errors are not cached, so the next Load
// tries again. The only returned error is ctx's.
func (c *Catalog) Refresh(ctx context.Context) (*Snapshot, error) {
	started := time.Now()

	var (
		events, businesses []model.Entity
		eventsErr, bizErr  error
	)

	var g errgroup.Group
	g.Go(func() error {
		events, eventsErr = c.loadKind(ctx, model.KindEvent)
		return nil
	})
	g.Go(func() error {
		businesses, bizErr = c.loadKind(ctx, model.KindBusiness)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := c.opts.Now()
	snap := &Snapshot{
		Events:     classify.Sort(events, now),
		Businesses: businesses,
		FetchedAt:  now,
	}
	if snap.Businesses == nil {
		snap.Businesses = []model.Entity{}
	}
	if eventsErr != nil || bizErr != nil {
		snap.Errors = make(map[model.Kind]string)
		if eventsErr != nil {
			snap.Errors[model.KindEvent] = eventsErr.Error()
		}
		if bizErr != nil {
			snap.Errors[model.KindBusiness] = bizErr.Error()
		}
	} else {
		c.cache.Set(snapshotKey, snap)
	}

	if p, ok := c.resolver.(purger); ok {
		if n := p.Purge(); n > 0 {
			appLog.Debug("expired resolutions dropped", "count", n)
		}
	}

	c.metrics.Refresh(started)
	appLog.Info("catalog refreshed",
		"events", len(snap.Events),
		"businesses", len(snap.Businesses),
		"errors", len(snap.Errors),
		"took", time.Since(started).Round(time.Millisecond),
	)
	return snap, nil
}

// Invalidate drops the cached snapshot.
func (c *Catalog) Invalidate() {
	c.cache.Delete(snapshotKey)
}

func (c *Catalog) loadKind(ctx context.Context, kind model.Kind) ([]model.Entity, error) {
	recs, err := c.source.Fetch(ctx, kind)
	if err != nil {
		appLog.Error("catalog: upstream load failed", err, "kind", kind)
		return []model.Entity{}, err
	}
	return normalize.Normalize(ctx, recs, kind, c.resolver, normalize.Options{
		Location:       c.opts.Location,
		MaxConcurrency: c.opts.MaxConcurrency,
	}), nil
}
