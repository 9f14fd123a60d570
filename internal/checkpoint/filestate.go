package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// FileState implements HistoryBackend using a single YAML file.
// Designed for headless environments where SQLite is impractical.
type FileState struct {
	path  string
	mu    sync.RWMutex
	state *fileStateData
}

// fileStateData is the YAML structure for the history file.
type fileStateData struct {
	Transfers []Record `yaml:"transfers"`
}

// NewFileState creates a file-based history store.
// If the file exists, it loads the existing records.
func NewFileState(path string) (*FileState, error) {
	fs := &FileState{
		path:  path,
		state: &fileStateData{},
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading history file: %w", err)
		}
		if err := yaml.Unmarshal(data, fs.state); err != nil {
			return nil, fmt.Errorf("parsing history file: %w", err)
		}
	}

	return fs, nil
}

// save writes the records to a temp file and renames it over the history file.
func (fs *FileState) save() error {
	data, err := yaml.Marshal(fs.state)
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(fs.path), 0755); err != nil {
		return fmt.Errorf("creating history dir: %w", err)
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing history file: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("replacing history file: %w", err)
	}
	return nil
}

func (fs *FileState) find(id string) int {
	for i := range fs.state.Transfers {
		if fs.state.Transfers[i].ID == id {
			return i
		}
	}
	return -1
}

// BeginRun records a started transfer.
func (fs *FileState) BeginRun(rec Record) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.find(rec.ID) >= 0 {
		return fmt.Errorf("transfer %s already recorded", rec.ID)
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	rec.StartedAt = rec.StartedAt.UTC()
	rec.Status = StatusRunning
	rec.CompletedAt = nil
	fs.state.Transfers = append(fs.state.Transfers, rec)
	return fs.save()
}

// CompleteRun records the outcome of a transfer.
func (fs *FileState) CompleteRun(rec Record) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	i := fs.find(rec.ID)
	if i < 0 {
		return fmt.Errorf("transfer %s not found in history", rec.ID)
	}
	cur := &fs.state.Transfers[i]
	now := time.Now().UTC()
	cur.Status = rec.Status
	cur.File = rec.File
	cur.Rows = rec.Rows
	cur.Total = rec.Total
	cur.Batches = rec.Batches
	cur.ParseErrors = rec.ParseErrors
	cur.Digest = rec.Digest
	cur.Error = rec.Error
	cur.CompletedAt = &now
	return fs.save()
}

// GetRun returns one transfer, or nil when the id is unknown.
func (fs *FileState) GetRun(id string) (*Record, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if i := fs.find(id); i >= 0 {
		r := fs.state.Transfers[i]
		return &r, nil
	}
	return nil, nil
}

// GetAllRuns returns transfers newest first.
func (fs *FileState) GetAllRuns(limit int) ([]Record, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	runs := make([]Record, len(fs.state.Transfers))
	copy(runs, fs.state.Transfers)
	// Appended in start order, so a stable reverse sort keeps ties newest first.
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// MarkInterrupted fails transfers left running by a previous process.
func (fs *FileState) MarkInterrupted() (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var n int64
	now := time.Now().UTC()
	for i := range fs.state.Transfers {
		r := &fs.state.Transfers[i]
		if r.Status != StatusRunning {
			continue
		}
		r.Status = statusInterrupted
		r.Error = "interrupted: process exited during transfer"
		r.CompletedAt = &now
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return n, fs.save()
}

// CleanupOldRuns deletes finished transfers completed more than retentionDays ago.
func (fs *FileState) CleanupOldRuns(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	kept := fs.state.Transfers[:0]
	var deleted int64
	for _, r := range fs.state.Transfers {
		if r.Status != StatusRunning && r.CompletedAt != nil && r.CompletedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	fs.state.Transfers = kept
	if deleted == 0 {
		return 0, nil
	}
	return deleted, fs.save()
}

// Close is a no-op; every change is saved as it happens.
func (fs *FileState) Close() error {
	return nil
}
