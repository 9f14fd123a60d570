package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/johndauphine/chxfer/internal/metrics"
)

func TestNewBackendRequiresGateway(t *testing.T) {
	if _, err := NewBackend("job", ""); err == nil {
		t.Error("expected error without gateway URL")
	}
	b, err := NewBackend("", "http://localhost:9091")
	if err != nil {
		t.Fatal(err)
	}
	if b.jobName != "chxfer" {
		t.Errorf("default job = %q", b.jobName)
	}
}

func TestBackendCounters(t *testing.T) {
	b, err := NewBackend("test", "http://localhost:9091")
	if err != nil {
		t.Fatal(err)
	}
	b.IncCounter(metrics.RowsTotal, 250, metrics.Labels{"direction": "DB_TO_FILE", "kind": metrics.KindWritten})
	b.IncCounter(metrics.BatchesTotal, 2, metrics.Labels{"direction": "DB_TO_FILE"})
	b.IncCounter("unknown_metric", 1, nil)
	b.ObserveHistogram(metrics.TransferSeconds, 1.5, metrics.Labels{"direction": "DB_TO_FILE", "status": "DONE"})

	if got := testutil.ToFloat64(b.rows.WithLabelValues("DB_TO_FILE", metrics.KindWritten)); got != 250 {
		t.Errorf("rows = %v", got)
	}
	if got := testutil.ToFloat64(b.batches.WithLabelValues("DB_TO_FILE")); got != 2 {
		t.Errorf("batches = %v", got)
	}
	if n := testutil.CollectAndCount(b.duration); n != 1 {
		t.Errorf("duration series = %d", n)
	}
}

func TestFlushPushesToGateway(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, err := NewBackend("chxfer-test", srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	b.IncCounter(metrics.TransfersTotal, 1, metrics.Labels{"direction": "FILE_TO_DB", "status": "DONE"})
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 1 || paths[0] != "PUT /metrics/job/chxfer-test" {
		t.Errorf("requests = %v", paths)
	}
}
