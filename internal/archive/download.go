package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/lox/hmomobility/internal/httputil"
	"github.com/lox/hmomobility/internal/logging"
	"github.com/lox/hmomobility/internal/metrics"
	"github.com/lox/hmomobility/internal/store"
)

const (
	DefaultChunkSize = 1024 * 1024
	DefaultWorkers   = 3
)

// Downloader fetches ZIP archives to disk and validates them.
type Downloader struct {
	client    *http.Client
	store     *store.Store
	logger    *slog.Logger
	dataset   string
	chunkSize int

	// Progress, when non-nil, receives a progress bar per download.
	Progress io.Writer
}

// NewDownloader creates a downloader for a dataset. The store may be nil.
func NewDownloader(dataset string, st *store.Store, logger *slog.Logger) *Downloader {
	return &Downloader{
		client:    httputil.NewClientWithTimeout(httputil.DownloadTimeout),
		store:     st,
		logger:    logging.For(logger, "archive").With("dataset", dataset),
		dataset:   dataset,
		chunkSize: DefaultChunkSize,
		Progress:  os.Stderr,
	}
}

// Download saves the archive at rawURL into dir and validates it. A download
// that fails validation is fetched once more; HTTP errors are not retried.
func (d *Downloader) Download(ctx context.Context, rawURL, dir string) (string, error) {
	name, err := FileName(rawURL)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, name)

	attempt := 0
	operation := func() error {
		attempt++
		if attempt > 1 {
			metrics.DownloadRetries.WithLabelValues(d.dataset).Inc()
			d.logger.Warn("invalid zip, retrying", "file", name)
		}
		if err := d.fetch(ctx, rawURL, dest); err != nil {
			return backoff.Permanent(err)
		}
		return Validate(dest)
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		if errors.Is(err, ErrCorruptZip) {
			os.Remove(dest)
		}
		return "", err
	}
	return dest, nil
}

func (d *Downloader) fetch(ctx context.Context, rawURL, dest string) (err error) {
	run, _ := d.store.StartIngestRun("inegi", d.dataset+"/zip", rawURL)
	defer func() {
		run.SetError(err)
		d.store.CompleteIngestRun(run)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	metrics.HTTPLatency.WithLabelValues(d.dataset).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.HTTPCallsTotal.WithLabelValues(d.dataset, metrics.StatusLabel(0, err)).Inc()
		return fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	metrics.HTTPCallsTotal.WithLabelValues(d.dataset, metrics.StatusLabel(resp.StatusCode, nil)).Inc()

	if err := httputil.CheckStatus(resp); err != nil {
		run.SetHTTP(resp.StatusCode, 0)
		return fmt.Errorf("download: %w", err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer f.Close()

	var w io.Writer = f
	if d.Progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(d.Progress),
			progressbar.OptionSetDescription("Descargando "+filepath.Base(dest)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(d.Progress) }),
		)
		defer bar.Finish()
		w = io.MultiWriter(f, bar)
	}

	n, err := io.CopyBuffer(w, resp.Body, make([]byte, d.chunkSize))
	run.SetHTTP(resp.StatusCode, n)
	metrics.DownloadBytes.WithLabelValues(d.dataset).Add(float64(n))
	if err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return f.Close()
}

// DownloadAll downloads urls concurrently with a fixed pool of workers.
// The result has one entry per url, in input order; failed downloads are
// logged and left empty.
func (d *Downloader) DownloadAll(ctx context.Context, urls []string, dir string, workers int) []string {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	results := make([]string, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, u := range urls {
		g.Go(func() error {
			p, err := d.Download(gctx, u, dir)
			if err != nil {
				d.logger.Error("download failed", "url", u, "error", err)
				metrics.ItemsSkipped.WithLabelValues(d.dataset, "download").Inc()
				return nil
			}
			results[i] = p
			return nil
		})
	}
	g.Wait()
	return results
}

// FileName returns the last path element of a URL.
func FileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." || name == "" {
		return "", fmt.Errorf("no file name in %q", rawURL)
	}
	return name, nil
}
