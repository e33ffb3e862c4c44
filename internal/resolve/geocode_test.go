package resolve

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventcal/internal/cache"
	"eventcal/internal/config"
	"eventcal/internal/model"
)

func newGeocoder(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("address") {
		case "Khao Yai National Park":
			_, _ = w.Write([]byte(`{"status":"OK","results":[
				{"geometry":{"location":{"lat":14.4392,"lng":101.3722}}},
				{"geometry":{"location":{"lat":0,"lng":0}}}
			]}`))
		case "denied":
			_, _ = w.Write([]byte(`{"status":"REQUEST_DENIED","error_message":"bad key","results":[]}`))
		case "broken":
			http.Error(w, "oops", http.StatusInternalServerError)
		default:
			_, _ = w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestGeocodeResolver(t *testing.T) {
	srv, _ := newGeocoder(t)
	g := NewGeocodeResolver(GeocodeOptions{Endpoint: srv.URL, APIKey: "test-key", Timeout: time.Second}, nil)

	coords, ok := g.Resolve(context.Background(), "Khao Yai National Park")
	require.True(t, ok)
	assert.Equal(t, model.Coordinates{Lat: 14.4392, Lon: 101.3722}, coords, "first result wins")

	_, err := g.Geocode(context.Background(), "Atlantis")
	assert.True(t, errors.Is(err, ErrNoResults))

	for _, q := range []string{"Atlantis", "denied", "broken"} {
		_, ok := g.Resolve(context.Background(), q)
		assert.False(t, ok, q)
	}
}

func TestCachedResolverOnlyCachesSuccess(t *testing.T) {
	srv, calls := newGeocoder(t)
	g := NewGeocodeResolver(GeocodeOptions{Endpoint: srv.URL, APIKey: "test-key"}, nil)
	c := NewCached(g, cache.New[string, model.Coordinates](time.Hour))

	for i := 0; i < 3; i++ {
		_, ok := c.Resolve(context.Background(), "Khao Yai National Park")
		require.True(t, ok)
	}
	assert.EqualValues(t, 1, calls.Load())

	for i := 0; i < 2; i++ {
		_, ok := c.Resolve(context.Background(), "Atlantis")
		assert.False(t, ok)
	}
	assert.EqualValues(t, 3, calls.Load())

	_, ok := c.Resolve(context.Background(), "   ")
	assert.False(t, ok)
	assert.EqualValues(t, 3, calls.Load(), "blank input never hits the network")
}

func TestNewSelectsStrategy(t *testing.T) {
	srv, calls := newGeocoder(t)

	cfg := config.DefaultConfig().Resolver
	cfg.Strategy = config.StrategyGeocode
	cfg.GeocodeEndpoint = srv.URL
	cfg.GeocodeAPIKey = "test-key"

	r := New(cfg, nil)
	_, ok := r.Resolve(context.Background(), "Khao Yai National Park")
	assert.True(t, ok)
	assert.EqualValues(t, 1, calls.Load())

	cfg.Strategy = config.StrategyRedirect
	_, ok = New(cfg, nil).Resolve(context.Background(), "Khao Yai National Park")
	assert.False(t, ok, "redirect strategy rejects non-URL input")
	assert.EqualValues(t, 1, calls.Load())
}
