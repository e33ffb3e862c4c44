package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	appLog "eventcal/internal/log"
	"eventcal/internal/metrics"
	"eventcal/internal/model"
)

// ErrMissingEntities is returned when the envelope lacks the expected array.
var ErrMissingEntities = errors.New("upstream: entity array missing from payload")

// maxBodyBytes caps how much of an upstream response is read.
const maxBodyBytes = 16 << 20

// cachedBody holds HTTP cache metadata for one upstream URL together with
// the last good payload.
type cachedBody struct {
	ETag         string
	LastModified string
	Body         []byte
	UpdatedAt    time.Time
}

// Client fetches business and event collections from the upstream API.
// It sends conditional requests (ETag / Last-Modified) and keeps the last
// good body in memory so a 304, a transport failure or a non-OK status can
// still be served.
type Client struct {
	baseURL string
	client  *http.Client
	metrics *metrics.Metrics

	mu    sync.Mutex
	cache map[string]cachedBody
}

// NewClient creates a Client for baseURL, which must end in "/".
func NewClient(baseURL string, timeout time.Duration, m *metrics.Metrics) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		metrics: m,
		cache:   make(map[string]cachedBody),
	}
}

// Path returns the collection path segment for kind.
func Path(kind model.Kind) string {
	return string(kind) + "/"
}

// EnvelopeKey returns the JSON key that carries the array for kind.
func EnvelopeKey(kind model.Kind) string {
	return string(kind) + "_entities"
}

// Fetch downloads and decodes one collection.
func (c *Client) Fetch(ctx context.Context, kind model.Kind) ([]Record, error) {
	body, err := c.fetchBody(ctx, c.baseURL+Path(kind), kind)
	if err == nil {
		var recs []Record
		recs, err = Decode(body, kind)
		if err == nil {
			c.metrics.UpstreamFetch(string(kind), nil)
			return recs, nil
		}
	}
	c.metrics.UpstreamFetch(string(kind), err)
	return nil, err
}

func (c *Client) fetchBody(ctx context.Context, url string, kind model.Kind) ([]byte, error) {
	c.mu.Lock()
	cached, haveCache := c.cache[url]
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if haveCache {
		if cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}

	appLog.Debug("upstream fetch start", "kind", kind, "url", url)

	resp, err := c.client.Do(req)
	if err != nil {
		if haveCache && ctx.Err() == nil {
			appLog.Error("upstream network error, using cached body", err, "kind", kind)
			return cached.Body, nil
		}
		return nil, fmt.Errorf("fetch %s: %w", kind, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("read %s body: %w", kind, err)
		}
		c.mu.Lock()
		c.cache[url] = cachedBody{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			Body:         body,
			UpdatedAt:    time.Now().UTC(),
		}
		c.mu.Unlock()
		appLog.Info("upstream fetch success", "kind", kind, "status", resp.StatusCode, "bytes", len(body))
		return body, nil

	case http.StatusNotModified:
		if !haveCache {
			return nil, fmt.Errorf("fetch %s: 304 Not Modified but no cached body", kind)
		}
		appLog.Debug("upstream not modified; using cache", "kind", kind)
		return cached.Body, nil

	default:
		statusErr := fmt.Errorf("fetch %s: unexpected status %s", kind, resp.Status)
		if haveCache {
			appLog.Error("upstream non-OK, using cached body", statusErr, "kind", kind)
			return cached.Body, nil
		}
		return nil, statusErr
	}
}

// Decode parses an upstream envelope such as {"event_entities": [...]}.
// Items that are not JSON objects are skipped and logged; every object
// becomes a Record, with fields of an unusable shape left empty.
func Decode(body []byte, kind model.Kind) ([]Record, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode %s envelope: %w", kind, err)
	}

	raw, ok := envelope[EnvelopeKey(kind)]
	if !ok || len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, fmt.Errorf("%w: %s", ErrMissingEntities, EnvelopeKey(kind))
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", EnvelopeKey(kind), err)
	}

	out := make([]Record, 0, len(items))
	for i, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '{' {
			appLog.Warn("upstream item is not an object; skipping", "kind", kind, "index", i)
			continue
		}
		var rec Record
		if err := json.Unmarshal(item, &rec); err != nil {
			appLog.Error("upstream record malformed; skipping", err, "kind", kind, "index", i)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
