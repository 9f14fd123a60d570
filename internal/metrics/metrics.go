// Package metrics records transfer counters through a pluggable backend. The
// default backend discards everything, so instrumentation is always safe to
// call.
package metrics

import (
	"sync"
	"time"
)

// Metric names understood by backends.
const (
	TransfersTotal  = "chxfer_transfers_total"
	TransferSeconds = "chxfer_transfer_duration_seconds"
	RowsTotal       = "chxfer_rows_total"
	BatchesTotal    = "chxfer_batches_total"
)

// Row kinds for RecordRows.
const (
	KindWritten     = "written"
	KindParseErrors = "parse_errors"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface a metrics system must provide.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes buffered metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. nil restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the installed backend.
func Flush() error {
	return current().Flush()
}

// RecordTransfer counts a finished transfer and its duration by direction and
// terminal status.
func RecordTransfer(direction, status string, d time.Duration) {
	lbls := Labels{"direction": direction, "status": status}
	b := current()
	b.IncCounter(TransfersTotal, 1, lbls)
	b.ObserveHistogram(TransferSeconds, d.Seconds(), lbls)
}

// RecordRows adds delta rows of the given kind.
func RecordRows(direction, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(delta), Labels{"direction": direction, "kind": kind})
}

// RecordBatches adds delta committed batches.
func RecordBatches(direction string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(BatchesTotal, float64(delta), Labels{"direction": direction})
}
