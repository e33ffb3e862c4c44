package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"eventcal/internal/catalog"
	"eventcal/internal/classify"
	"eventcal/internal/config"
	"eventcal/internal/ics"
	appLog "eventcal/internal/log"
	"eventcal/internal/metrics"
	"eventcal/internal/model"
	"eventcal/internal/resolve"
)

// Extractor pulls coordinates out of a map link. *resolve.RedirectResolver
// implements it.
type Extractor interface {
	Extract(ctx context.Context, rawURL string) (model.Coordinates, error)
}

// Server provides the HTTP API over the catalog.
type Server struct {
	cfg       *config.Config
	catalog   *catalog.Catalog
	extractor Extractor
	metrics   *metrics.Metrics
	mux       *http.ServeMux

	// now is swappable for tests.
	now func() time.Time
}

// NewServer constructs a new Server. m may be nil, in which case /metrics is
// not registered.
func NewServer(cfg *config.Config, cat *catalog.Catalog, ex Extractor, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:       cfg,
		catalog:   cat,
		extractor: ex,
		metrics:   m,
		mux:       http.NewServeMux(),
		now:       time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the routed handler wrapped with request IDs, logging and
// metrics.
func (s *Server) Handler() http.Handler {
	return s.instrument(s.mux)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/extractLatLon", s.handleExtractLatLon)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/businesses", s.handleBusinesses)
	s.mux.HandleFunc("GET /api/map", s.handleMap)
	s.mux.HandleFunc("GET /api/calendar", s.handleCalendar)
	s.mux.HandleFunc("GET /calendar.ics", s.handleFeed)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleExtractLatLon resolves a short map link to coordinates.
//
// GET /api/extractLatLon?url=https://maps.app.goo.gl/...
//   - 200 {"lat":..,"lon":..}
//   - 400 when url is missing, invalid or targets a non-public host, or the
//     final URL has no @lat,lon
//   - 500 when the link could not be followed
func (s *Server) handleExtractLatLon(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}

	coords, err := s.extractor.Extract(r.Context(), raw)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, coords)
	case errors.Is(err, resolve.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
	case errors.Is(err, resolve.ErrBlockedAddress):
		writeError(w, http.StatusBadRequest, "url must point at a public host")
	case errors.Is(err, resolve.ErrNoMatch):
		writeError(w, http.StatusBadRequest, "no coordinates found in resolved URL")
	default:
		appLog.Error("extractLatLon failed", err)
		writeError(w, http.StatusInternalServerError, "failed to resolve url")
	}
}

type eventsResponse struct {
	Events     []eventDTO `json:"events"`
	Count      int        `json:"count"`
	Categories []string   `json:"categories"`
	FetchedAt  time.Time  `json:"fetched_at"`
	Error      string     `json:"error,omitempty"`
}

// handleEvents returns events in display order with their status.
//
// GET /api/events?type=Festival&limit=20
//   - type:  category filter; "all" or empty keeps everything
//   - limit: maximum number of events; <= 0 means no limit
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.load(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	now := s.now()

	events := classify.Sort(classify.FilterCategory(snap.Events, q.Get("type")), now)
	events = limit(events, parseIntDefault(q.Get("limit"), 0))

	dtos := make([]eventDTO, 0, len(events))
	for _, e := range events {
		dtos = append(dtos, s.toEventDTO(e, now))
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		Events:     dtos,
		Count:      len(dtos),
		Categories: classify.Categories,
		FetchedAt:  snap.FetchedAt,
		Error:      snap.Err(model.KindEvent),
	})
}

type businessesResponse struct {
	Businesses []entityDTO `json:"businesses"`
	Count      int         `json:"count"`
	FetchedAt  time.Time   `json:"fetched_at"`
	Error      string      `json:"error,omitempty"`
}

// GET /api/businesses?limit=10
func (s *Server) handleBusinesses(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.load(w, r)
	if !ok {
		return
	}
	businesses := limit(snap.Businesses, parseIntDefault(r.URL.Query().Get("limit"), 0))

	dtos := make([]entityDTO, 0, len(businesses))
	for _, b := range businesses {
		dtos = append(dtos, toEntityDTO(b))
	}
	writeJSON(w, http.StatusOK, businessesResponse{
		Businesses: dtos,
		Count:      len(dtos),
		FetchedAt:  snap.FetchedAt,
		Error:      snap.Err(model.KindBusiness),
	})
}

type mapResponse struct {
	Markers []markerDTO `json:"markers"`

	// Skipped counts entities left off the map for lack of coordinates.
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// handleMap returns one marker per business and event with coordinates.
// Businesses come first, then events in display order.
func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.load(w, r)
	if !ok {
		return
	}
	now := s.now()

	resp := mapResponse{Markers: []markerDTO{}}
	for _, b := range snap.Businesses {
		if !b.HasCoords() {
			resp.Skipped++
			continue
		}
		resp.Markers = append(resp.Markers, toMarkerDTO(b, ""))
	}
	for _, e := range classify.Sort(snap.Events, now) {
		if !e.HasCoords() {
			resp.Skipped++
			continue
		}
		st := classify.StatusOf(e, now, s.cfg.StartingSoonDays)
		resp.Markers = append(resp.Markers, toMarkerDTO(e, string(st.Kind)))
	}
	for _, kind := range []model.Kind{model.KindBusiness, model.KindEvent} {
		if msg := snap.Err(kind); msg != "" {
			resp.Errors = append(resp.Errors, string(kind)+": "+msg)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type calendarResponse struct {
	Year     int           `json:"year"`
	Month    int           `json:"month"`
	Timezone string        `json:"timezone"`
	Days     []calendarDay `json:"days"`
	Error    string        `json:"error,omitempty"`
}

type calendarDay struct {
	Date   string     `json:"date"`
	Events []eventDTO `json:"events"`
}

// handleCalendar returns a month grid of events.
//
// GET /api/calendar?year=2024&month=11&type=Festival
//   - year, month: default to the current month in the configured timezone
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loc := s.cfg.Location()
	now := s.now()
	local := now.In(loc)

	year := parseIntDefault(q.Get("year"), local.Year())
	month := parseIntDefault(q.Get("month"), int(local.Month()))
	if month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "month must be between 1 and 12")
		return
	}

	snap, ok := s.load(w, r)
	if !ok {
		return
	}

	events := classify.FilterCategory(snap.Events, q.Get("type"))
	grid, err := ics.MonthGrid(events, year, time.Month(month), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	days := make([]calendarDay, 0, len(grid))
	for _, d := range grid {
		cd := calendarDay{Date: d.Date.Format("2006-01-02"), Events: make([]eventDTO, 0, len(d.Events))}
		for _, e := range d.Events {
			cd.Events = append(cd.Events, s.toEventDTO(e, now))
		}
		days = append(days, cd)
	}
	writeJSON(w, http.StatusOK, calendarResponse{
		Year:     year,
		Month:    month,
		Timezone: loc.String(),
		Days:     days,
		Error:    snap.Err(model.KindEvent),
	})
}

// handleFeed serves events as an iCalendar subscription.
//
// GET /calendar.ics?type=Food
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.load(w, r)
	if !ok {
		return
	}
	events := classify.FilterCategory(snap.Events, r.URL.Query().Get("type"))
	body := ics.Feed(events, ics.FeedOptions{
		Name:   "eventcal",
		Domain: s.cfg.FeedDomain,
		Now:    s.now(),
	})

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="calendar.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

type refreshResponse struct {
	Events     int               `json:"events"`
	Businesses int               `json:"businesses"`
	FetchedAt  time.Time         `json:"fetched_at"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// handleRefresh drops the cached snapshot and reloads it synchronously.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.catalog.Invalidate()
	snap, err := s.catalog.Refresh(r.Context())
	if err != nil {
		appLog.Warn("api refresh aborted", "err", err)
		writeError(w, http.StatusServiceUnavailable, "refresh canceled")
		return
	}

	resp := refreshResponse{
		Events:     len(snap.Events),
		Businesses: len(snap.Businesses),
		FetchedAt:  snap.FetchedAt,
	}
	if len(snap.Errors) > 0 {
		resp.Errors = make(map[string]string, len(snap.Errors))
		for k, v := range snap.Errors {
			resp.Errors[string(k)] = v
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// load fetches the current snapshot. It writes a 503 and returns false when
// the request was canceled before a snapshot was available.
func (s *Server) load(w http.ResponseWriter, r *http.Request) (*catalog.Snapshot, bool) {
	snap, err := s.catalog.Load(r.Context())
	if err != nil {
		appLog.Warn("catalog load aborted", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusServiceUnavailable, "catalog unavailable")
		return nil, false
	}
	return snap, true
}

func limit(es []model.Entity, n int) []model.Entity {
	if n > 0 && n < len(es) {
		return es[:n]
	}
	return es
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
