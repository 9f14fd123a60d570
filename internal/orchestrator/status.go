package orchestrator

import (
	"fmt"
	"io"
	"time"

	"github.com/johndauphine/chxfer/internal/checkpoint"
	"github.com/johndauphine/chxfer/internal/logging"
	"github.com/johndauphine/chxfer/internal/notify"
	"github.com/johndauphine/chxfer/internal/progress"
	"github.com/johndauphine/chxfer/internal/transfer"
)

// recordStart writes the RUNNING history record. Failures are logged;
// history never blocks a transfer.
func (m *Manager) recordStart(e *entry) {
	req := e.request
	if h := m.opts.History; h != nil {
		rec := checkpoint.Record{
			ID:        string(e.handle),
			Direction: string(req.Direction),
			Table:     req.Table.Name,
			File:      req.File.Path,
			Host:      req.Conn.Host,
			Database:  req.Conn.Database,
			User:      req.Conn.User,
			Total:     -1,
			StartedAt: m.now(),
		}
		if err := h.BeginRun(rec); err != nil {
			logging.Warn("Transfer %s: recording history: %v", e.handle, err)
		}
	}
}

// notifyStart sends the start notification from the run goroutine.
func (m *Manager) notifyStart(e *entry) {
	n := m.opts.Notifier
	if n == nil {
		return
	}
	req := e.request
	if err := n.TransferStarted(string(e.handle), string(req.Direction), req.Table.Name, req.File.Path); err != nil {
		logging.Warn("Transfer %s: start notification failed: %v", e.handle, err)
	}
}

// recordFinish completes the history record.
func (m *Manager) recordFinish(e *entry, res transfer.Result) {
	if h := m.opts.History; h != nil {
		rec := checkpoint.Record{
			ID:          string(e.handle),
			Status:      string(res.Status),
			File:        res.File,
			Rows:        res.Rows,
			Total:       res.Total,
			Batches:     res.Batches,
			ParseErrors: res.ParseErrorCount,
			Digest:      res.Digest,
			Error:       res.Error,
		}
		if err := h.CompleteRun(rec); err != nil {
			logging.Warn("Transfer %s: recording history: %v", e.handle, err)
		}
	}
}

// notifyFinish sends the notification matching the terminal state.
func (m *Manager) notifyFinish(e *entry, res transfer.Result) {
	n := m.opts.Notifier
	if n == nil {
		return
	}
	sum := notify.Summary{
		Handle:      string(e.handle),
		Direction:   string(res.Direction),
		Table:       res.Table,
		File:        res.File,
		StartedAt:   res.StartedAt,
		Duration:    res.Elapsed,
		Rows:        res.Rows,
		Batches:     res.Batches,
		ParseErrors: res.ParseErrorCount,
	}
	var err error
	switch res.Status {
	case progress.PhaseDone:
		err = n.TransferCompleted(sum)
	case progress.PhaseCancelled:
		err = n.TransferCancelled(sum)
	default:
		err = n.TransferFailed(sum, res.Err)
	}
	if err != nil {
		logging.Warn("Transfer %s: notification failed: %v", e.handle, err)
	}
}

// ShowHistory writes recorded transfers, newest first.
func ShowHistory(w io.Writer, history checkpoint.HistoryBackend, limit int) error {
	runs, err := history.GetAllRuns(limit)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Fprintln(w, "No transfer history")
		return nil
	}

	fmt.Fprintf(w, "%-36s %-20s %-10s %-10s %12s  %s\n", "ID", "Started", "Direction", "Status", "Rows", "Table <-> File")
	fmt.Fprintln(w, "------------------------------------------------------------------------------------------------------------------")

	for _, r := range runs {
		fmt.Fprintf(w, "%-36s %-20s %-10s %-10s %12d  %s <-> %s\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), shortDirection(r.Direction), r.Status, r.Rows, r.Table, r.File)
		if r.Error != "" {
			fmt.Fprintf(w, "%36s Error: %s\n", "", r.Error)
		}
	}

	fmt.Fprintln(w, "\nUse 'history --id <ID>' to view one transfer")
	return nil
}

// ShowTransferDetails writes one recorded transfer.
func ShowTransferDetails(w io.Writer, history checkpoint.HistoryBackend, id string) error {
	r, err := history.GetRun(id)
	if err != nil {
		return fmt.Errorf("reading history: %w", err)
	}
	if r == nil {
		return fmt.Errorf("transfer %s not found in history", id)
	}

	fmt.Fprintf(w, "Transfer:      %s\n", r.ID)
	fmt.Fprintf(w, "Direction:     %s\n", r.Direction)
	fmt.Fprintf(w, "Status:        %s\n", r.Status)
	if r.Error != "" {
		fmt.Fprintf(w, "Error:         %s\n", r.Error)
	}
	fmt.Fprintf(w, "Table:         %s\n", r.Table)
	fmt.Fprintf(w, "File:          %s\n", r.File)
	if r.Host != "" {
		fmt.Fprintf(w, "Connection:    %s@%s/%s\n", r.User, r.Host, r.Database)
	}
	fmt.Fprintf(w, "Started:       %s\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if r.CompletedAt != nil {
		fmt.Fprintf(w, "Completed:     %s\n", r.CompletedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(w, "Duration:      %s\n", r.CompletedAt.Sub(r.StartedAt).Round(time.Second))
	}
	if r.Total >= 0 {
		fmt.Fprintf(w, "Rows:          %d of %d\n", r.Rows, r.Total)
	} else {
		fmt.Fprintf(w, "Rows:          %d\n", r.Rows)
	}
	fmt.Fprintf(w, "Batches:       %d\n", r.Batches)
	if r.ParseErrors > 0 {
		fmt.Fprintf(w, "Parse errors:  %d\n", r.ParseErrors)
	}
	if r.Digest != "" {
		fmt.Fprintf(w, "Digest:        %s\n", r.Digest)
	}
	return nil
}

func shortDirection(d string) string {
	switch transfer.Direction(d) {
	case transfer.DBToFile:
		return "export"
	case transfer.FileToDB:
		return "import"
	default:
		return d
	}
}
