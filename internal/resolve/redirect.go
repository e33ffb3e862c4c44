package resolve

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
	"syscall"
	"time"

	appLog "eventcal/internal/log"
	"eventcal/internal/metrics"
	"eventcal/internal/model"
)

// coordPattern matches the "@lat,lon" segment map services put in place URLs.
var coordPattern = regexp.MustCompile(`@(-?\d+\.\d+),(-?\d+\.\d+)`)

// maxRedirects mirrors net/http's default limit.
const maxRedirects = 10

// RedirectResolver follows a map link to its final URL and extracts the
// embedded coordinates. It only connects to public addresses.
type RedirectResolver struct {
	client  *http.Client
	metrics *metrics.Metrics

	// allowPrivate lifts the public-address check, for tests against
	// local servers.
	allowPrivate bool
}

func NewRedirectResolver(timeout time.Duration, m *metrics.Metrics) *RedirectResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	r := &RedirectResolver{metrics: m}

	dialer := &net.Dialer{
		Timeout: timeout,
		Control: func(_, address string, _ syscall.RawConn) error {
			if r.allowPrivate {
				return nil
			}
			return checkPublic(address)
		},
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext

	r.client = &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	return r
}

// checkPublic rejects dial targets that are not globally routable. address
// is the resolved "ip:port", so names that resolve to private ranges are
// caught too.
func checkPublic(address string) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	ip := ap.Addr().Unmap()
	if !ip.IsGlobalUnicast() || ip.IsPrivate() {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, ip)
	}
	return nil
}

// Resolve implements Resolver.
func (r *RedirectResolver) Resolve(ctx context.Context, location string) (model.Coordinates, bool) {
	coords, err := r.Extract(ctx, location)
	if err != nil {
		appLog.Debug("redirect resolve failed", "url", location, "err", err)
		r.metrics.Resolution("redirect", false)
		return model.Coordinates{}, false
	}
	r.metrics.Resolution("redirect", true)
	return coords, true
}

// Extract issues a GET for rawURL, follows redirects and matches the final
// URL. It returns ErrInvalidURL for non-http(s) input, ErrNoMatch when the
// pattern is absent, a wrapped ErrBlockedAddress when a hop targets a
// non-public address, and a wrapped transport error otherwise.
func (r *RedirectResolver) Extract(ctx context.Context, rawURL string) (model.Coordinates, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return model.Coordinates{}, ErrInvalidURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return model.Coordinates{}, ErrInvalidURL
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return model.Coordinates{}, fmt.Errorf("follow %s: %w", u.Host, err)
	}
	// Only the final URL matters; drain a little so the connection can be reused.
	_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
	resp.Body.Close()

	final := resp.Request.URL.String()
	coords, ok := MatchCoordinates(final)
	if !ok {
		return model.Coordinates{}, ErrNoMatch
	}
	return coords, nil
}

// MatchCoordinates extracts the first "@lat,lon" pair from s.
func MatchCoordinates(s string) (model.Coordinates, bool) {
	m := coordPattern.FindStringSubmatch(s)
	if m == nil {
		return model.Coordinates{}, false
	}
	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return model.Coordinates{}, false
	}
	lon, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return model.Coordinates{}, false
	}
	return model.Coordinates{Lat: lat, Lon: lon}, true
}
