package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	appLog "eventcal/internal/log"
	"eventcal/internal/metrics"
	"eventcal/internal/model"
)

// GeocodeOptions configures a GeocodeResolver.
type GeocodeOptions struct {
	// Endpoint is a Google-compatible geocode JSON URL.
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	// Rate and Burst pace outgoing requests (token bucket).
	Rate  float64
	Burst int
}

// geocodeResponse is the subset of the geocoding API response we read.
type geocodeResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// GeocodeResolver submits the raw location string to a geocoding API and
// takes the first result.
type GeocodeResolver struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
}

func NewGeocodeResolver(opts GeocodeOptions, m *metrics.Metrics) *GeocodeResolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Rate <= 0 {
		opts.Rate = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	return &GeocodeResolver{
		endpoint: opts.Endpoint,
		apiKey:   opts.APIKey,
		client:   &http.Client{Timeout: opts.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		metrics:  m,
	}
}

// Resolve implements Resolver.
func (g *GeocodeResolver) Resolve(ctx context.Context, location string) (model.Coordinates, bool) {
	coords, err := g.Geocode(ctx, location)
	if err != nil {
		appLog.Debug("geocode failed", "location", location, "err", err)
		g.metrics.Resolution("geocode", false)
		return model.Coordinates{}, false
	}
	g.metrics.Resolution("geocode", true)
	return coords, true
}

// Geocode performs a single lookup.
func (g *GeocodeResolver) Geocode(ctx context.Context, location string) (model.Coordinates, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return model.Coordinates{}, err
	}

	params := url.Values{}
	params.Set("address", location)
	params.Set("key", g.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return model.Coordinates{}, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return model.Coordinates{}, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Coordinates{}, fmt.Errorf("geocode: unexpected status %s", resp.Status)
	}

	var body geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.Coordinates{}, fmt.Errorf("geocode decode: %w", err)
	}

	if len(body.Results) == 0 {
		if body.Status != "" && body.Status != "OK" && body.Status != "ZERO_RESULTS" {
			return model.Coordinates{}, fmt.Errorf("geocode status %s: %s", body.Status, body.ErrorMessage)
		}
		return model.Coordinates{}, ErrNoResults
	}

	loc := body.Results[0].Geometry.Location
	coords := model.Coordinates{Lat: loc.Lat, Lon: loc.Lng}
	if !coords.Valid() {
		return model.Coordinates{}, ErrNoResults
	}
	return coords, nil
}
