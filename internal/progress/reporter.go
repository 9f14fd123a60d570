package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/johndauphine/chxfer/internal/logging"
)

// ProgressUpdate is one JSON line for automation consumers.
type ProgressUpdate struct {
	Timestamp   string  `json:"timestamp"`
	Handle      string  `json:"handle"`
	Phase       Phase   `json:"phase"`
	Rows        int64   `json:"rows"`
	Total       int64   `json:"total"`
	Batches     int     `json:"batches"`
	ProgressPct float64 `json:"progress_pct,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// JSONReporter writes events as JSON lines (typically to stderr).
// Intermediate events are throttled; terminal events are always written.
// Publish writes synchronously, so runs reach it through Relay.
type JSONReporter struct {
	writer     io.Writer
	mu         sync.Mutex
	interval   time.Duration
	lastReport time.Time
	closed     bool
}

// NewJSONReporter creates a reporter. interval is the minimum time between
// intermediate lines.
func NewJSONReporter(writer io.Writer, interval time.Duration) *JSONReporter {
	if writer == nil {
		writer = os.Stderr
	}
	return &JSONReporter{
		writer:   writer,
		interval: interval,
	}
}

// Publish implements Publisher.
func (r *JSONReporter) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	now := time.Now()
	if !ev.Phase.Terminal() && r.interval > 0 && now.Sub(r.lastReport) < r.interval {
		return
	}
	r.lastReport = now

	update := ProgressUpdate{
		Timestamp: now.Format(time.RFC3339),
		Handle:    ev.Handle,
		Phase:     ev.Phase,
		Rows:      ev.Rows,
		Total:     ev.Total,
		Batches:   ev.Batches,
		Error:     ev.Error,
	}
	if ev.Total > 0 {
		update.ProgressPct = float64(ev.Rows) * 100 / float64(ev.Total)
	}

	data, err := json.Marshal(update)
	if err != nil {
		logging.Warn("Failed to marshal progress update: %v", err)
		return
	}
	fmt.Fprintln(r.writer, string(data))
}

// Close stops further output.
func (r *JSONReporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// BarReporter draws a terminal progress bar for a single transfer. Like
// JSONReporter it writes synchronously and is fed through Relay.
type BarReporter struct {
	writer io.Writer
	mu     sync.Mutex
	bar    *progressbar.ProgressBar
	start  time.Time
}

// NewBarReporter creates a bar writing to w (os.Stderr when nil).
func NewBarReporter(w io.Writer) *BarReporter {
	if w == nil {
		w = os.Stderr
	}
	return &BarReporter{writer: w, start: time.Now()}
}

// Publish implements Publisher.
func (r *BarReporter) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bar == nil {
		r.bar = progressbar.NewOptions64(
			ev.Total, // -1 renders a spinner
			progressbar.OptionSetWriter(r.writer),
			progressbar.OptionSetDescription("Transferring"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("rows"),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetRenderBlankState(true),
		)
	}
	_ = r.bar.Set64(ev.Rows)

	if ev.Phase.Terminal() {
		if ev.Phase == PhaseDone {
			_ = r.bar.Finish()
		}
		fmt.Fprintln(r.writer)
		elapsed := time.Since(r.start)
		logging.Info("Transfer %s: %d rows in %d batches, %s (%.0f rows/sec)",
			ev.Phase, ev.Rows, ev.Batches, elapsed.Round(time.Millisecond), float64(ev.Rows)/elapsed.Seconds())
	}
}
