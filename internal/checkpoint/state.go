// Package checkpoint keeps the history of transfers so that the CLI and the
// server can report on runs after they finish.
package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const timeLayout = "2006-01-02 15:04:05"

// State manages transfer history in SQLite
type State struct {
	db *sql.DB
}

// New creates a history store in dataDir
func New(dataDir string) (*State, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "chxfer.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &State{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return s, nil
}

func (s *State) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transfers (
		id TEXT PRIMARY KEY,
		direction TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'RUNNING',
		table_name TEXT NOT NULL,
		file_path TEXT NOT NULL,
		host TEXT,
		database_name TEXT,
		user_name TEXT,
		rows_done INTEGER DEFAULT 0,
		rows_total INTEGER DEFAULT -1,
		batches INTEGER DEFAULT 0,
		parse_errors INTEGER DEFAULT 0,
		digest TEXT,
		error_message TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_started ON transfers(started_at);
	CREATE INDEX IF NOT EXISTS idx_transfers_status ON transfers(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *State) Close() error {
	return s.db.Close()
}

// BeginRun records a started transfer
func (s *State) BeginRun(rec Record) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO transfers (id, direction, status, table_name, file_path, host, database_name, user_name,
			rows_total, started_at)
		VALUES (?, ?, 'RUNNING', ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Direction, rec.Table, rec.File, rec.Host, rec.Database, rec.User,
		rec.Total, rec.StartedAt.UTC().Format(timeLayout))
	return err
}

// CompleteRun records the outcome of a transfer
func (s *State) CompleteRun(rec Record) error {
	res, err := s.db.Exec(`
		UPDATE transfers SET status = ?, file_path = ?, rows_done = ?, rows_total = ?, batches = ?,
			parse_errors = ?, digest = ?, error_message = ?, completed_at = datetime('now')
		WHERE id = ?
	`, rec.Status, rec.File, rec.Rows, rec.Total, rec.Batches, rec.ParseErrors, rec.Digest, rec.Error, rec.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transfer %s not found in history", rec.ID)
	}
	return nil
}

const selectColumns = `
	SELECT id, direction, status, table_name, file_path, host, database_name, user_name,
		rows_done, rows_total, batches, parse_errors, digest, error_message, started_at, completed_at
	FROM transfers`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		r                                        Record
		host, database, user, digest, errMessage sql.NullString
		startedAtStr                             string
		completedAtStr                           sql.NullString
	)
	err := row.Scan(&r.ID, &r.Direction, &r.Status, &r.Table, &r.File, &host, &database, &user,
		&r.Rows, &r.Total, &r.Batches, &r.ParseErrors, &digest, &errMessage, &startedAtStr, &completedAtStr)
	if err != nil {
		return nil, err
	}
	r.Host, r.Database, r.User = host.String, database.String, user.String
	r.Digest, r.Error = digest.String, errMessage.String
	// Parse SQLite datetime strings
	r.StartedAt, _ = time.ParseInLocation(timeLayout, startedAtStr, time.UTC)
	if completedAtStr.Valid {
		t, _ := time.ParseInLocation(timeLayout, completedAtStr.String, time.UTC)
		r.CompletedAt = &t
	}
	return &r, nil
}

// GetRun returns one transfer, or nil when the id is unknown
func (s *State) GetRun(id string) (*Record, error) {
	r, err := scanRecord(s.db.QueryRow(selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// GetAllRuns returns transfers for history, newest first
func (s *State) GetAllRuns(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(selectColumns+` ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// MarkInterrupted fails transfers left running by a previous process
func (s *State) MarkInterrupted() (int64, error) {
	res, err := s.db.Exec(`
		UPDATE transfers SET status = ?, error_message = 'interrupted: process exited during transfer',
			completed_at = datetime('now')
		WHERE status = 'RUNNING'
	`, statusInterrupted)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CleanupOldRuns deletes finished transfers completed more than retentionDays ago
func (s *State) CleanupOldRuns(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	res, err := s.db.Exec(`
		DELETE FROM transfers
		WHERE status != 'RUNNING' AND completed_at IS NOT NULL
			AND completed_at < datetime('now', ?)
	`, fmt.Sprintf("-%d days", retentionDays))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
