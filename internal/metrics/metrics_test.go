package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		code int
		err  error
		want string
	}{
		{200, nil, "2xx"},
		{204, nil, "2xx"},
		{404, nil, "4xx"},
		{503, nil, "5xx"},
		{0, errors.New("dial"), "error"},
		{0, nil, "unknown"},
	}
	for _, tt := range tests {
		if got := StatusLabel(tt.code, tt.err); got != tt.want {
			t.Errorf("StatusLabel(%d, %v) = %q, want %q", tt.code, tt.err, got, tt.want)
		}
	}
}

func TestWriteTextfile(t *testing.T) {
	RecordsWritten.WithLabelValues("atus", "clean").Add(3)

	path := filepath.Join(t.TempDir(), "hmomobility.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `hmomobility_records_written_total{dataset="atus",stage="clean"}`) {
		t.Errorf("textfile missing records metric:\n%s", b)
	}
}

func TestStartStage(t *testing.T) {
	clock := clockwork.NewFakeClock()
	stop := StartStage(clock, "clima", "clean")
	clock.Advance(1500 * time.Millisecond)
	if got := stop(); got != 1500*time.Millisecond {
		t.Errorf("elapsed = %v, want 1.5s", got)
	}
}
