package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventcal/internal/cache"
	"eventcal/internal/model"
	"eventcal/internal/resolve"
	"eventcal/internal/upstream"
)

const eventsBody = `{"event_entities": [
	{"ID": 1, "Title": "Night market", "Start": "2024-11-20T18:00:00", "End": "2024-11-20T23:00:00", "EventType": "Market", "Latitude": 14.97, "Longitude": 102.1},
	{"ID": 2, "Title": "Temple fair", "Start": "2024-11-12T09:00:00", "EventType": "Festival", "LocationLink": "https://maps.app.goo.gl/fair"},
	{"ID": 3, "Title": "Harvest run", "Start": "2024-11-25T06:00:00", "End": "2024-11-26T12:00:00", "EventType": "Sport", "Latitude": "14.9", "Longitude": "102.0"}
]}`

const businessBody = `{"business_entities": [
	{"ID": 10, "Title": "Silk shop", "Type": "Shop", "Latitude": 14.95, "Longitude": 102.08}
]}`

type upstreamStub struct {
	srv            *httptest.Server
	eventHits      atomic.Int32
	businessHits   atomic.Int32
	failBusinesses atomic.Bool
}

func newUpstream(t *testing.T) *upstreamStub {
	t.Helper()
	u := &upstreamStub{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/event/", func(w http.ResponseWriter, r *http.Request) {
		u.eventHits.Add(1)
		_, _ = w.Write([]byte(eventsBody))
	})
	mux.HandleFunc("/api/business/", func(w http.ResponseWriter, r *http.Request) {
		u.businessHits.Add(1)
		if u.failBusinesses.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(businessBody))
	})
	u.srv = httptest.NewServer(mux)
	t.Cleanup(u.srv.Close)
	return u
}

func newCatalog(u *upstreamStub, r resolve.Resolver) *Catalog {
	now := time.Date(2024, 11, 10, 12, 0, 0, 0, time.UTC)
	return New(upstream.NewClient(u.srv.URL+"/api/", time.Second, nil), r, nil, Options{
		TTL:            time.Minute,
		Location:       time.UTC,
		MaxConcurrency: 2,
		Now:            func() time.Time { return now },
	})
}

func ids(es []model.Entity) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.ID)
	}
	return out
}

func TestRefreshEndToEnd(t *testing.T) {
	u := newUpstream(t)

	var resolved atomic.Int32
	r := resolve.Func(func(ctx context.Context, location string) (model.Coordinates, bool) {
		resolved.Add(1)
		assert.Equal(t, "https://maps.app.goo.gl/fair", location)
		return model.Coordinates{Lat: 14.98, Lon: 102.11}, true
	})

	snap, err := newCatalog(u, r).Refresh(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Errors)

	// All three are upcoming: ascending start regardless of input order.
	assert.Equal(t, []string{"2", "1", "3"}, ids(snap.Events))
	for i := 1; i < len(snap.Events); i++ {
		assert.True(t, snap.Events[i-1].Start.Before(*snap.Events[i].Start))
	}
	assert.Equal(t, int32(1), resolved.Load())

	fair := snap.Events[0]
	require.NotNil(t, fair.Coords)
	assert.Equal(t, 14.98, fair.Coords.Lat)
	assert.Equal(t, "Festival", fair.Category)
	require.NotNil(t, fair.Start)
	assert.True(t, fair.Start.Equal(time.Date(2024, 11, 12, 9, 0, 0, 0, time.UTC)))

	run := snap.Events[2]
	require.NotNil(t, run.Coords)
	assert.Equal(t, 102.0, run.Coords.Lon)

	require.Len(t, snap.Businesses, 1)
	assert.Equal(t, "Shop", snap.Businesses[0].Category)
	assert.Equal(t, model.KindBusiness, snap.Businesses[0].Kind)
}

func TestLoadServesCachedSnapshot(t *testing.T) {
	u := newUpstream(t)
	c := newCatalog(u, nil)
	ctx := context.Background()

	first, err := c.Load(ctx)
	require.NoError(t, err)
	second, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), u.eventHits.Load())

	c.Invalidate()
	_, err = c.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), u.eventHits.Load())
}

func TestOneKindFailingKeepsTheOther(t *testing.T) {
	u := newUpstream(t)
	u.failBusinesses.Store(true)
	c := newCatalog(u, nil)

	snap, err := c.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Events, 3)
	assert.Empty(t, snap.Businesses)
	assert.NotEmpty(t, snap.Err(model.KindBusiness))
	assert.Empty(t, snap.Err(model.KindEvent))

	// Errored snapshots are not cached.
	u.failBusinesses.Store(false)
	snap, err = c.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Errors)
	assert.Len(t, snap.Businesses, 1)
	assert.Equal(t, int32(2), u.businessHits.Load())
}

func TestRefreshCanceled(t *testing.T) {
	u := newUpstream(t)
	c := newCatalog(u, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Refresh(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadSurvivesFirstCallerCanceling(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	releaseAll := func() { once.Do(func() { close(release) }) }

	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/event/", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(eventsBody))
	})
	mux.HandleFunc("/api/business/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(businessBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(releaseAll)

	now := time.Date(2024, 11, 10, 12, 0, 0, 0, time.UTC)
	c := New(upstream.NewClient(srv.URL+"/api/", 5*time.Second, nil), nil, nil, Options{
		TTL:      time.Minute,
		Location: time.UTC,
		Now:      func() time.Time { return now },
	})

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := c.Load(ctxA)
		errA <- err
	}()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	type result struct {
		snap *Snapshot
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		snap, err := c.Load(context.Background())
		resB <- result{snap, err}
	}()

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("canceled caller is still waiting")
	}

	releaseAll()
	select {
	case res := <-resB:
		require.NoError(t, res.err)
		assert.Len(t, res.snap.Events, 3)
	case <-time.After(3 * time.Second):
		t.Fatal("live caller never got a snapshot")
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestRefreshPurgesExpiredResolutions(t *testing.T) {
	u := newUpstream(t)

	var calls atomic.Int32
	store := cache.New[string, model.Coordinates](time.Nanosecond)
	r := resolve.NewCached(resolve.Func(func(context.Context, string) (model.Coordinates, bool) {
		calls.Add(1)
		return model.Coordinates{Lat: 14.98, Lon: 102.11}, true
	}), store)

	_, err := newCatalog(u, r).Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Zero(t, store.Len())
}
