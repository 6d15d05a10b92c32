package metrics

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hmomobility_http_calls_total",
			Help: "Total upstream HTTP calls",
		},
		[]string{"source", "status"},
	)

	HTTPLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hmomobility_http_latency_seconds",
			Help:    "Upstream HTTP call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	DownloadBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hmomobility_download_bytes_total",
			Help: "Bytes written by archive downloads",
		},
		[]string{"dataset"},
	)

	DownloadRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hmomobility_download_retries_total",
			Help: "Archive downloads retried after failing validation",
		},
		[]string{"dataset"},
	)

	RecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hmomobility_records_written_total",
			Help: "Records written to output files",
		},
		[]string{"dataset", "stage"},
	)

	ItemsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hmomobility_items_skipped_total",
			Help: "Files or records skipped after an error",
		},
		[]string{"dataset", "stage"},
	)

	QualityFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hmomobility_quality_flags_total",
			Help: "Rows flagged by range validation",
		},
		[]string{"dataset", "flag"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hmomobility_stage_duration_seconds",
			Help:    "Wall time of a dataset stage",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"dataset", "stage"},
	)
)

// StatusLabel buckets an HTTP status code for the status label.
func StatusLabel(code int, err error) string {
	if code == 0 {
		if err != nil {
			return "error"
		}
		return "unknown"
	}
	return fmt.Sprintf("%dxx", code/100)
}

// WriteTextfile dumps the default registry in node-exporter textfile format.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}

// StartStage returns a func that records the stage duration and returns it.
func StartStage(clock clockwork.Clock, dataset, stage string) func() time.Duration {
	start := clock.Now()
	return func() time.Duration {
		d := clock.Since(start)
		StageDuration.WithLabelValues(dataset, stage).Observe(d.Seconds())
		return d
	}
}
