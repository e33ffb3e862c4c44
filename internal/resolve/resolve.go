// Package resolve turns map links and location strings into coordinates.
//
// Two strategies exist and one is chosen per deployment:
//
//   - redirect: follow a (usually shortened) map URL and read "@lat,lon"
//     out of the final URL.
//   - geocode: send the location string to a geocoding API.
//
// Resolvers never return errors to their callers. Any failure means "no
// coordinates", which leaves the entity off the map but keeps it in listings.
package resolve

import (
	"context"
	"errors"
	"strings"

	"eventcal/internal/cache"
	"eventcal/internal/config"
	appLog "eventcal/internal/log"
	"eventcal/internal/metrics"
	"eventcal/internal/model"
)

var (
	// ErrNoMatch means the final URL carried no "@lat,lon" segment.
	ErrNoMatch = errors.New("resolve: no coordinates in resolved URL")
	// ErrInvalidURL means the input is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("resolve: not an http(s) URL")
	// ErrBlockedAddress means a link, or one of its redirects, targets a
	// loopback or private address.
	ErrBlockedAddress = errors.New("resolve: link points at a non-public address")
	// ErrNoResults means the geocoder returned an empty result set.
	ErrNoResults = errors.New("resolve: geocoder returned no results")
)

// Resolver converts a location URL or string into coordinates.
type Resolver interface {
	Resolve(ctx context.Context, location string) (model.Coordinates, bool)
}

// Func adapts a plain function to Resolver.
type Func func(ctx context.Context, location string) (model.Coordinates, bool)

func (f Func) Resolve(ctx context.Context, location string) (model.Coordinates, bool) {
	return f(ctx, location)
}

// New builds the resolver selected by cfg.Strategy, wrapped in a cache of
// successful lookups.
func New(cfg config.ResolverConfig, m *metrics.Metrics) Resolver {
	var r Resolver
	switch cfg.Strategy {
	case config.StrategyGeocode:
		r = NewGeocodeResolver(GeocodeOptions{
			Endpoint: cfg.GeocodeEndpoint,
			APIKey:   cfg.GeocodeAPIKey,
			Timeout:  cfg.Timeout,
			Rate:     cfg.GeocodeRate,
			Burst:    cfg.GeocodeBurst,
		}, m)
	default:
		r = NewRedirectResolver(cfg.Timeout, m)
	}
	appLog.Info("link resolver ready", "strategy", cfg.Strategy, "timeout", cfg.Timeout)
	return NewCached(r, cache.New[string, model.Coordinates](cfg.CacheTTL))
}

// Cached memoizes successful resolutions. Failures are not cached so a
// temporarily unreachable link gets another chance on the next refresh.
type Cached struct {
	next  Resolver
	store *cache.TTL[string, model.Coordinates]
}

func NewCached(next Resolver, store *cache.TTL[string, model.Coordinates]) *Cached {
	return &Cached{next: next, store: store}
}

func (c *Cached) Resolve(ctx context.Context, location string) (model.Coordinates, bool) {
	key := strings.TrimSpace(location)
	if key == "" {
		return model.Coordinates{}, false
	}
	if coords, ok := c.store.Get(key); ok {
		return coords, true
	}
	coords, ok := c.next.Resolve(ctx, key)
	if ok {
		c.store.Set(key, coords)
	}
	return coords, ok
}

// Purge drops expired lookups and returns how many were removed.
func (c *Cached) Purge() int {
	return c.store.Purge()
}
