package httputil

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second

	// DownloadTimeout bounds whole-archive downloads, which run to hundreds of MB.
	DownloadTimeout = 30 * time.Minute

	UserAgent = "hmomobility/1.0 (+movilidad urbana Hermosillo)"
)

// NewClient returns an HTTP client with standard timeout configuration.
func NewClient() *http.Client {
	return NewClientWithTimeout(DefaultTimeout)
}

// NewClientWithTimeout returns an HTTP client that stamps the project User-Agent
// on every request that does not already carry one.
func NewClientWithTimeout(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &uaTransport{base: http.DefaultTransport},
	}
}

type uaTransport struct {
	base http.RoundTripper
}

func (t *uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", UserAgent)
	return t.base.RoundTrip(r)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.URL, e.StatusCode, e.Body)
}

// CheckStatus returns a *StatusError for non-2xx responses, including up to
// 512 bytes of the body.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{URL: resp.Request.URL.String(), StatusCode: resp.StatusCode, Body: string(b)}
}
