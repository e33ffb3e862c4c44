// Package metrics holds the Prometheus instruments for the service. All
// instruments live on a private registry so tests can create as many
// Metrics values as they like.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	upstreamFetches *prometheus.CounterVec
	resolutions     *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	lastRefreshTS   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.upstreamFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventcal",
		Name:      "upstream_fetches_total",
		Help:      "Upstream API fetches by entity kind and outcome",
	}, []string{"kind", "outcome"})
	m.resolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventcal",
		Name:      "link_resolutions_total",
		Help:      "Map link resolutions by strategy and outcome",
	}, []string{"strategy", "outcome"})
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventcal",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code",
	}, []string{"route", "code"})
	m.refreshDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "eventcal",
		Name:      "catalog_refresh_duration_seconds",
		Help:      "Time spent fetching, normalizing and classifying entities",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	m.lastRefreshTS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "eventcal",
		Name:      "catalog_last_refresh_timestamp_seconds",
		Help:      "Unix time of the last completed catalog refresh",
	})

	m.registry.MustRegister(
		m.upstreamFetches,
		m.resolutions,
		m.httpRequests,
		m.refreshDuration,
		m.lastRefreshTS,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests that want to gather values directly.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// The recorders below are nil-safe so packages can be used without metrics.

func (m *Metrics) UpstreamFetch(kind string, err error) {
	if m == nil {
		return
	}
	m.upstreamFetches.WithLabelValues(kind, outcome(err)).Inc()
}

func (m *Metrics) Resolution(strategy string, ok bool) {
	if m == nil {
		return
	}
	res := "resolved"
	if !ok {
		res = "unresolved"
	}
	m.resolutions.WithLabelValues(strategy, res).Inc()
}

func (m *Metrics) HTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func (m *Metrics) Refresh(started time.Time) {
	if m == nil {
		return
	}
	m.refreshDuration.Observe(time.Since(started).Seconds())
	m.lastRefreshTS.SetToCurrentTime()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
