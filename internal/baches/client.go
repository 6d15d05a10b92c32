package baches

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/lox/hmomobility/internal/httputil"
	"github.com/lox/hmomobility/internal/logging"
	"github.com/lox/hmomobility/internal/metrics"
	"github.com/lox/hmomobility/internal/store"
)

const (
	BaseURL = "https://bachometro.hermosillo.gob.mx/"

	source    = "bachometro"
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"
	accept    = "application/json, text/javascript, */*; q=0.01"
)

// ErrNoCSRFToken is returned when the portal page has no csrf-token meta tag.
var ErrNoCSRFToken = errors.New("csrf token not found")

// Client is a cookie-backed session against the Bachómetro portal. The CSRF
// token is read once, on the first request that needs it.
type Client struct {
	baseURL string
	client  *http.Client
	store   *store.Store
	logger  *slog.Logger
	token   string
}

func NewClient(st *store.Store, logger *slog.Logger) *Client {
	jar, _ := cookiejar.New(nil)
	hc := httputil.NewClient()
	hc.Jar = jar
	return &Client{
		baseURL: BaseURL,
		client:  hc,
		store:   st,
		logger:  logging.For(logger, source),
	}
}

func (c *Client) page(ctx context.Context) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.do(req, "home")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse portal page: %w", err)
	}
	return doc, nil
}

// session loads the portal page to obtain the session cookie and CSRF token.
func (c *Client) session(ctx context.Context) error {
	if c.token != "" {
		return nil
	}
	doc, err := c.page(ctx)
	if err != nil {
		return err
	}
	token, ok := doc.Find(`meta[name="csrf-token"]`).Attr("content")
	if !ok || token == "" {
		return ErrNoCSRFToken
	}
	c.token = token
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("X-CSRF-TOKEN", c.token)
	req.Header.Set("Referer", c.baseURL)
}

func (c *Client) do(req *http.Request, endpoint string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.HTTPLatency.WithLabelValues(source).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.HTTPCallsTotal.WithLabelValues(source, metrics.StatusLabel(0, err)).Inc()
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	metrics.HTTPCallsTotal.WithLabelValues(source, metrics.StatusLabel(resp.StatusCode, nil)).Inc()
	if err := httputil.CheckStatus(resp); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	return resp, nil
}

// AvailableYears lists the years offered by the portal's map slider.
func (c *Client) AvailableYears(ctx context.Context) ([]int, error) {
	doc, err := c.page(ctx)
	if err != nil {
		return nil, err
	}
	var years []int
	doc.Find("#map_slider button.btnYear").Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("id")
		if y, err := strconv.Atoi(strings.TrimSpace(id)); err == nil {
			years = append(years, y)
		}
	})
	sort.Ints(years)
	return years, nil
}

// Reports returns the map markers reported in a year.
func (c *Client) Reports(ctx context.Context, year int) (reports []*Record, err error) {
	if err := c.session(ctx); err != nil {
		return nil, err
	}
	key := strconv.Itoa(year)
	run, _ := c.store.StartIngestRun(source, "mapa/ajax", key)
	defer func() {
		run.SetError(err)
		c.store.CompleteIngestRun(run)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"mapa/ajax?"+url.Values{"year": {key}}.Encode(), nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	resp, err := c.do(req, "mapa/ajax")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read reports: %w", err)
	}
	run.SetHTTP(resp.StatusCode, int64(len(body)))
	if err := json.Unmarshal(body, &reports); err != nil {
		return nil, fmt.Errorf("decode reports for %d: %w", year, err)
	}
	run.SetRecords(len(reports), len(reports))

	var runID *int64
	if run != nil {
		runID = &run.ID
	}
	if _, err := c.store.StoreRawPayload(runID, source, "mapa/ajax", key, body); err != nil {
		c.logger.Warn("failed to store raw payload", "error", err)
	}
	return reports, nil
}

// Details returns the HTML fragment describing one report.
func (c *Client) Details(ctx context.Context, id string) (string, error) {
	if err := c.session(ctx); err != nil {
		return "", err
	}
	form := url.Values{"id": {id}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"mapa/bache/ajax", strings.NewReader(form))
	if err != nil {
		return "", err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.do(req, "mapa/bache/ajax")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read details %s: %w", id, err)
	}
	return string(b), nil
}

// FullDataset merges every report of a year with its parsed details. Reports
// whose details cannot be fetched are logged and skipped.
func (c *Client) FullDataset(ctx context.Context, year int) ([]*Record, error) {
	reports, err := c.Reports(ctx, year)
	if err != nil {
		return nil, err
	}
	c.logger.Info("reports listed", "year", year, "reports", len(reports))

	out := make([]*Record, 0, len(reports))
	for _, r := range reports {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		id := r.String("id")
		html, err := c.Details(ctx, id)
		if err != nil {
			c.logger.Warn("failed to fetch details", "id", id, "error", err)
			metrics.ItemsSkipped.WithLabelValues(Dataset, "extract").Inc()
			continue
		}
		combined := NewRecord()
		combined.Merge(r)
		combined.Merge(ParseDetails(html).Record())
		out = append(out, combined)
	}
	return out, nil
}
