package checkpoint

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func newBackends(t *testing.T) map[string]HistoryBackend {
	t.Helper()
	state, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { state.Close() })

	fs, err := NewFileState(filepath.Join(t.TempDir(), "history.yaml"))
	if err != nil {
		t.Fatalf("NewFileState() error: %v", err)
	}
	return map[string]HistoryBackend{"sqlite": state, "file": fs}
}

func TestRunLifecycle(t *testing.T) {
	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			rec := Record{
				ID: "abc", Direction: "DB_TO_FILE", Table: "events", File: "events.csv",
				Host: "ch.local", Database: "default", User: "reader", Total: -1,
				StartedAt: time.Now().Add(-time.Minute),
			}
			if err := b.BeginRun(rec); err != nil {
				t.Fatalf("BeginRun error: %v", err)
			}
			got, err := b.GetRun("abc")
			if err != nil || got == nil {
				t.Fatalf("GetRun = %v, %v", got, err)
			}
			if got.Status != StatusRunning || got.CompletedAt != nil || got.Host != "ch.local" {
				t.Errorf("running record = %+v", got)
			}

			rec.Status = "DONE"
			rec.Rows, rec.Total, rec.Batches = 250, 250, 3
			rec.Digest = "00000000deadbeef"
			if err := b.CompleteRun(rec); err != nil {
				t.Fatalf("CompleteRun error: %v", err)
			}
			got, _ = b.GetRun("abc")
			if got.Status != "DONE" || got.Rows != 250 || got.Batches != 3 || got.CompletedAt == nil {
				t.Errorf("completed record = %+v", got)
			}
			if got.Digest != "00000000deadbeef" {
				t.Errorf("digest = %q", got.Digest)
			}

			if missing, err := b.GetRun("nope"); err != nil || missing != nil {
				t.Errorf("GetRun(unknown) = %v, %v", missing, err)
			}
			if err := b.CompleteRun(Record{ID: "nope", Status: "DONE"}); err == nil {
				t.Error("CompleteRun(unknown) should fail")
			}
		})
	}
}

func TestGetAllRunsNewestFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			for i, id := range []string{"first", "second", "third"} {
				rec := Record{ID: id, Direction: "FILE_TO_DB", Table: "t", File: "f.csv", StartedAt: base.Add(time.Duration(i) * time.Hour)}
				if err := b.BeginRun(rec); err != nil {
					t.Fatal(err)
				}
			}
			runs, err := b.GetAllRuns(0)
			if err != nil {
				t.Fatal(err)
			}
			if len(runs) != 3 || runs[0].ID != "third" || runs[2].ID != "first" {
				t.Errorf("runs = %v", ids(runs))
			}
			runs, _ = b.GetAllRuns(2)
			if len(runs) != 2 || runs[0].ID != "third" {
				t.Errorf("limited runs = %v", ids(runs))
			}
		})
	}
}

func TestMarkInterrupted(t *testing.T) {
	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			_ = b.BeginRun(Record{ID: "done", Direction: "DB_TO_FILE", Table: "t", File: "a.csv"})
			_ = b.CompleteRun(Record{ID: "done", Status: "DONE"})
			_ = b.BeginRun(Record{ID: "orphan", Direction: "DB_TO_FILE", Table: "t", File: "b.csv"})

			n, err := b.MarkInterrupted()
			if err != nil || n != 1 {
				t.Fatalf("MarkInterrupted = %d, %v", n, err)
			}
			got, _ := b.GetRun("orphan")
			if got.Status != "FAILED" || got.Error == "" || got.CompletedAt == nil {
				t.Errorf("orphan = %+v", got)
			}
			if got, _ := b.GetRun("done"); got.Status != "DONE" {
				t.Errorf("finished run changed: %+v", got)
			}
		})
	}
}

func TestCleanupOldRuns(t *testing.T) {
	state, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer state.Close()

	for _, id := range []string{"old-done", "old-failed", "recent-done", "running"} {
		if err := state.BeginRun(Record{ID: id, Direction: "DB_TO_FILE", Table: "t", File: id + ".csv"}); err != nil {
			t.Fatalf("BeginRun(%s) error: %v", id, err)
		}
	}
	for id, status := range map[string]string{"old-done": "DONE", "old-failed": "FAILED", "recent-done": "DONE"} {
		if err := state.CompleteRun(Record{ID: id, Status: status}); err != nil {
			t.Fatalf("CompleteRun(%s) error: %v", id, err)
		}
	}

	oldTime := time.Now().UTC().AddDate(0, 0, -31).Format(timeLayout)
	if _, err := state.db.Exec(`UPDATE transfers SET completed_at = ? WHERE id IN (?, ?)`, oldTime, "old-done", "old-failed"); err != nil {
		t.Fatalf("update old completed_at error: %v", err)
	}
	recentTime := time.Now().UTC().AddDate(0, 0, -1).Format(timeLayout)
	if _, err := state.db.Exec(`UPDATE transfers SET completed_at = ? WHERE id = ?`, recentTime, "recent-done"); err != nil {
		t.Fatalf("update recent completed_at error: %v", err)
	}

	deleted, err := state.CleanupOldRuns(30)
	if err != nil {
		t.Fatalf("CleanupOldRuns error: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted runs = %d, want 2", deleted)
	}
	if got := countRows(t, state.db, `SELECT COUNT(*) FROM transfers`); got != 2 {
		t.Fatalf("transfers remaining = %d, want 2", got)
	}
	if got := countRows(t, state.db, `SELECT COUNT(*) FROM transfers WHERE id = ?`, "running"); got != 1 {
		t.Fatalf("running transfer missing after cleanup")
	}

	if n, _ := state.CleanupOldRuns(0); n != 0 {
		t.Errorf("retention 0 deleted %d runs", n)
	}
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var count int
	if err := db.QueryRow(query, args...).Scan(&count); err != nil {
		t.Fatalf("count query error: %v", err)
	}
	return count
}

func ids(runs []Record) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.ID
	}
	return out
}
