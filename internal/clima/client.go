package clima

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/hmomobility/internal/httputil"
	"github.com/lox/hmomobility/internal/logging"
	"github.com/lox/hmomobility/internal/metrics"
	"github.com/lox/hmomobility/internal/store"
)

const (
	ArchiveURL = "https://archive-api.open-meteo.com/v1/archive"

	source   = "open-meteo"
	endpoint = "v1/archive"
)

// Request describes an hourly archive query.
type Request struct {
	Latitude  float64
	Longitude float64
	StartDate string
	EndDate   string
	Hourly    []string
}

// Query renders the request as URL parameters. The encoding is stable and is
// used as the cache key.
func (r Request) Query() url.Values {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(r.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(r.Longitude, 'f', -1, 64))
	q.Set("start_date", r.StartDate)
	q.Set("end_date", r.EndDate)
	q.Set("hourly", strings.Join(r.Hourly, ","))
	q.Set("timezone", "GMT")
	return q
}

// Hourly is the decoded hourly block of an archive response.
type Hourly struct {
	Time      []time.Time
	Variables []string
	Values    map[string][]*float64
}

type archiveResponse struct {
	Latitude  float64                    `json:"latitude"`
	Longitude float64                    `json:"longitude"`
	Timezone  string                     `json:"timezone"`
	Hourly    map[string]json.RawMessage `json:"hourly"`
}

type apiError struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// Client talks to the Open-Meteo archive API. Responses are cached in the
// store without expiry.
type Client struct {
	baseURL    string
	client     *http.Client
	store      *store.Store
	logger     *slog.Logger
	maxRetries uint64
	interval   time.Duration
}

func NewClient(st *store.Store, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    ArchiveURL,
		client:     httputil.NewClientWithTimeout(2 * time.Minute),
		store:      st,
		logger:     logging.For(logger, "open-meteo"),
		maxRetries: 5,
		interval:   200 * time.Millisecond,
	}
}

// Fetch returns the hourly series for req, from cache when available.
func (c *Client) Fetch(ctx context.Context, req Request) (*Hourly, error) {
	key := req.Query().Encode()

	body, cached, err := c.store.CachedPayload(source, endpoint, key)
	if err != nil {
		c.logger.Warn("cache lookup failed", "error", err)
	}
	if cached {
		c.logger.Info("using cached response")
	} else {
		body, err = c.fetch(ctx, key)
		if err != nil {
			return nil, err
		}
	}
	return decodeHourly(body, req.Hourly)
}

func (c *Client) fetch(ctx context.Context, query string) (body []byte, err error) {
	run, _ := c.store.StartIngestRun(source, endpoint, query)
	defer func() {
		run.SetError(err)
		c.store.CompleteIngestRun(run)
	}()

	reqURL := c.baseURL + "?" + query
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		start := time.Now()
		resp, err := c.client.Do(req)
		metrics.HTTPLatency.WithLabelValues(source).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.HTTPCallsTotal.WithLabelValues(source, metrics.StatusLabel(0, err)).Inc()
			return fmt.Errorf("fetch archive: %w", err)
		}
		defer resp.Body.Close()
		metrics.HTTPCallsTotal.WithLabelValues(source, metrics.StatusLabel(resp.StatusCode, nil)).Inc()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("fetch archive: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			var apiErr apiError
			if json.Unmarshal(b, &apiErr) == nil && apiErr.Reason != "" {
				return backoff.Permanent(fmt.Errorf("fetch archive: status %d: %s", resp.StatusCode, apiErr.Reason))
			}
			return backoff.Permanent(fmt.Errorf("fetch archive: status %d: %s", resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		run.SetHTTP(resp.StatusCode, int64(len(body)))
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.interval
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("request failed, retrying", "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx), notify); err != nil {
		return nil, err
	}

	var runID *int64
	if run != nil {
		runID = &run.ID
	}
	if _, err := c.store.StoreRawPayload(runID, source, endpoint, query, body); err != nil {
		c.logger.Warn("failed to cache response", "error", err)
	}
	return body, nil
}

func decodeHourly(body []byte, variables []string) (*Hourly, error) {
	var resp archiveResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	rawTimes, ok := resp.Hourly["time"]
	if !ok {
		return nil, fmt.Errorf("response has no hourly time axis")
	}
	var stamps []string
	if err := json.Unmarshal(rawTimes, &stamps); err != nil {
		return nil, fmt.Errorf("decode time: %w", err)
	}

	h := &Hourly{
		Time:      make([]time.Time, len(stamps)),
		Variables: variables,
		Values:    make(map[string][]*float64, len(variables)),
	}
	for i, s := range stamps {
		ts, err := time.ParseInLocation("2006-01-02T15:04", s, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse time %q: %w", s, err)
		}
		h.Time[i] = ts
	}
	for _, v := range variables {
		raw, ok := resp.Hourly[v]
		if !ok {
			return nil, fmt.Errorf("response missing variable %s", v)
		}
		var vals []*float64
		if err := json.Unmarshal(raw, &vals); err != nil {
			return nil, fmt.Errorf("decode %s: %w", v, err)
		}
		if len(vals) != len(stamps) {
			return nil, fmt.Errorf("variable %s has %d values for %d timestamps", v, len(vals), len(stamps))
		}
		h.Values[v] = vals
	}
	return h, nil
}
