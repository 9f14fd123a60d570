package checkpoint

import "time"

// StatusRunning marks a transfer that has started but not finished. Finished
// records carry the terminal phase name (DONE, FAILED, CANCELLED).
const StatusRunning = "RUNNING"

// statusInterrupted is written over RUNNING records left by a process that
// exited mid-transfer.
const statusInterrupted = "FAILED"

// Record is one transfer in the history. Connection details are the redacted
// form only; the token is never stored.
type Record struct {
	ID          string     `json:"id" yaml:"id"`
	Direction   string     `json:"direction" yaml:"direction"`
	Status      string     `json:"status" yaml:"status"`
	Table       string     `json:"table" yaml:"table"`
	File        string     `json:"file" yaml:"file"`
	Host        string     `json:"host,omitempty" yaml:"host,omitempty"`
	Database    string     `json:"database,omitempty" yaml:"database,omitempty"`
	User        string     `json:"user,omitempty" yaml:"user,omitempty"`
	Rows        int64      `json:"rows" yaml:"rows"`
	Total       int64      `json:"total" yaml:"total"`
	Batches     int        `json:"batches" yaml:"batches"`
	ParseErrors int        `json:"parse_errors" yaml:"parse_errors"`
	Digest      string     `json:"digest,omitempty" yaml:"digest,omitempty"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// HistoryBackend persists transfer records.
// Implementations include SQLite (default) and a single YAML file for
// headless environments.
type HistoryBackend interface {
	// BeginRun stores rec with status RUNNING.
	BeginRun(rec Record) error
	// CompleteRun overwrites the outcome fields of an existing record and
	// stamps CompletedAt.
	CompleteRun(rec Record) error
	GetRun(id string) (*Record, error)
	// GetAllRuns returns the newest records first, at most limit of them
	// (all when limit <= 0).
	GetAllRuns(limit int) ([]Record, error)
	// MarkInterrupted fails every RUNNING record. Called at startup.
	MarkInterrupted() (int64, error)
	// CleanupOldRuns deletes finished records older than retentionDays.
	CleanupOldRuns(retentionDays int) (int64, error)
	Close() error
}

var (
	_ HistoryBackend = (*State)(nil)
	_ HistoryBackend = (*FileState)(nil)
)
