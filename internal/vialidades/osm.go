package vialidades

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/hmomobility/internal/httputil"
	"github.com/lox/hmomobility/internal/logging"
	"github.com/lox/hmomobility/internal/metrics"
	"github.com/lox/hmomobility/internal/store"
)

const (
	NominatimURL = "https://nominatim.openstreetmap.org/search"
	OverpassURL  = "https://overpass-api.de/api/interpreter"

	overpassSource   = "overpass"
	overpassEndpoint = "interpreter"

	// Overpass area ids are offset from the OSM element id.
	relationAreaOffset = 3600000000
	wayAreaOffset      = 2400000000
)

// ErrPlaceNotFound is returned when Nominatim has no polygon for the query.
var ErrPlaceNotFound = errors.New("place not found")

// networkFilters are the Overpass way filters per network type, matching the
// selections OSMnx makes.
var networkFilters = map[string]string{
	"drive": `["highway"]["area"!~"yes"]` +
		`["highway"!~"abandoned|bridleway|bus_guideway|construction|corridor|cycleway|elevator|escalator|footway|no|path|pedestrian|planned|platform|proposed|raceway|razed|service|steps|track"]` +
		`["motor_vehicle"!~"no"]["motorcar"!~"no"]` +
		`["service"!~"alley|driveway|emergency_access|parking|parking_aisle|private"]`,
	"drive_service": `["highway"]["area"!~"yes"]` +
		`["highway"!~"abandoned|bridleway|bus_guideway|construction|corridor|cycleway|elevator|escalator|footway|no|path|pedestrian|planned|platform|proposed|raceway|razed|steps|track"]` +
		`["motor_vehicle"!~"no"]["motorcar"!~"no"]` +
		`["service"!~"emergency_access|parking|parking_aisle|private"]`,
}

// NetworkFilter returns the Overpass way filter for a network type.
func NetworkFilter(networkType string) (string, error) {
	f, ok := networkFilters[networkType]
	if !ok {
		return "", fmt.Errorf("unsupported network type %q", networkType)
	}
	return f, nil
}

// Place is a geocoded OSM boundary.
type Place struct {
	OSMType     string `json:"osm_type"`
	OSMID       int64  `json:"osm_id"`
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

// AreaID is the Overpass area id of the place.
func (p Place) AreaID() int64 {
	if p.OSMType == "way" {
		return wayAreaOffset + p.OSMID
	}
	return relationAreaOffset + p.OSMID
}

// Element is a node or way of an Overpass JSON response.
type Element struct {
	Type  string            `json:"type"`
	ID    int64             `json:"id"`
	Lat   float64           `json:"lat"`
	Lon   float64           `json:"lon"`
	Nodes []int64           `json:"nodes"`
	Tags  map[string]string `json:"tags"`
}

type overpassResponse struct {
	Elements []Element `json:"elements"`
	Remark   string    `json:"remark"`
}

// OSMClient geocodes places and downloads road networks. Overpass responses
// are cached in the store.
type OSMClient struct {
	nominatimURL string
	overpassURL  string
	client       *http.Client
	store        *store.Store
	logger       *slog.Logger
	maxRetries   uint64
	interval     time.Duration
}

func NewOSMClient(st *store.Store, logger *slog.Logger) *OSMClient {
	return &OSMClient{
		nominatimURL: NominatimURL,
		overpassURL:  OverpassURL,
		client:       httputil.NewClientWithTimeout(5 * time.Minute),
		store:        st,
		logger:       logging.For(logger, "osm"),
		maxRetries:   3,
		interval:     2 * time.Second,
	}
}

// Geocode returns the first boundary (relation or way) Nominatim finds for q.
func (c *OSMClient) Geocode(ctx context.Context, q string) (*Place, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("format", "json")
	params.Set("limit", "50")
	params.Set("dedupe", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.nominatimURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.HTTPLatency.WithLabelValues("nominatim").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.HTTPCallsTotal.WithLabelValues("nominatim", metrics.StatusLabel(0, err)).Inc()
		return nil, fmt.Errorf("geocode %q: %w", q, err)
	}
	defer resp.Body.Close()
	metrics.HTTPCallsTotal.WithLabelValues("nominatim", metrics.StatusLabel(resp.StatusCode, nil)).Inc()
	if err := httputil.CheckStatus(resp); err != nil {
		return nil, fmt.Errorf("geocode %q: %w", q, err)
	}

	var places []Place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, fmt.Errorf("decode nominatim response: %w", err)
	}
	for _, p := range places {
		if p.OSMType == "relation" || p.OSMType == "way" {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrPlaceNotFound, q)
}

// OverpassQuery builds the query for every way matching filter inside the
// area, recursing down to its nodes.
func OverpassQuery(areaID int64, filter string) string {
	return fmt.Sprintf("[out:json][timeout:180];(way%s(area:%d);>;);out;", filter, areaID)
}

// Overpass runs query and returns its elements.
func (c *OSMClient) Overpass(ctx context.Context, query string) ([]Element, error) {
	body, cached, err := c.store.CachedPayload(overpassSource, overpassEndpoint, query)
	if err != nil {
		c.logger.Warn("cache lookup failed", "error", err)
	}
	if cached {
		c.logger.Info("using cached Overpass response")
	} else {
		if body, err = c.overpass(ctx, query); err != nil {
			return nil, err
		}
	}

	var resp overpassResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode overpass response: %w", err)
	}
	if resp.Remark != "" && len(resp.Elements) == 0 {
		return nil, fmt.Errorf("overpass: %s", resp.Remark)
	}
	return resp.Elements, nil
}

func (c *OSMClient) overpass(ctx context.Context, query string) (body []byte, err error) {
	run, _ := c.store.StartIngestRun(overpassSource, overpassEndpoint, query)
	defer func() {
		run.SetError(err)
		c.store.CompleteIngestRun(run)
	}()

	form := url.Values{"data": {query}}.Encode()
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.overpassURL, strings.NewReader(form))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		start := time.Now()
		resp, err := c.client.Do(req)
		metrics.HTTPLatency.WithLabelValues(overpassSource).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.HTTPCallsTotal.WithLabelValues(overpassSource, metrics.StatusLabel(0, err)).Inc()
			return fmt.Errorf("overpass: %w", err)
		}
		defer resp.Body.Close()
		metrics.HTTPCallsTotal.WithLabelValues(overpassSource, metrics.StatusLabel(resp.StatusCode, nil)).Inc()

		// 429 and 504 are Overpass' "busy" answers.
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusGatewayTimeout {
			return fmt.Errorf("overpass: status %d", resp.StatusCode)
		}
		if err := httputil.CheckStatus(resp); err != nil {
			return backoff.Permanent(err)
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read overpass body: %w", err)
		}
		run.SetHTTP(resp.StatusCode, int64(len(body)))
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.interval
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("overpass busy, retrying", "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx), notify); err != nil {
		return nil, err
	}

	var runID *int64
	if run != nil {
		runID = &run.ID
	}
	if _, err := c.store.StoreRawPayload(runID, overpassSource, overpassEndpoint, query, body); err != nil {
		c.logger.Warn("failed to cache overpass response", "error", err)
	}
	return body, nil
}
