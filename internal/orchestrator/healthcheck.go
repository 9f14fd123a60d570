package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/johndauphine/chxfer/internal/driver"
)

// HealthCheckResult reports database reachability and storage writability.
type HealthCheckResult struct {
	Timestamp       string `json:"timestamp"`
	Healthy         bool   `json:"healthy"`
	Connected       bool   `json:"connected"`
	LatencyMs       int64  `json:"latency_ms"`
	TableCount      int    `json:"table_count"`
	Error           string `json:"error,omitempty"`
	StorageRoot     string `json:"storage_root"`
	StorageWritable bool   `json:"storage_writable"`
	StorageError    string `json:"storage_error,omitempty"`
	ActiveTransfers int    `json:"active_transfers"`
}

// HealthCheck tests connectivity to the database and write access to the
// storage root. Both checks run in parallel with independent timeouts so a
// slow database does not starve the storage probe.
func (m *Manager) HealthCheck(ctx context.Context, conn driver.ConnectionSpec) (*HealthCheckResult, error) {
	result := &HealthCheckResult{
		Timestamp:       time.Now().Format(time.RFC3339),
		StorageRoot:     m.Root().Dir(),
		ActiveTransfers: m.Active(),
	}

	// Use a per-check timeout of 30 seconds.
	const checkTimeout = 30 * time.Second

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		start := time.Now()
		dbCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()

		tables, err := m.ListTables(dbCtx, conn)
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Connected = true
			result.TableCount = len(tables)
		}
		result.LatencyMs = time.Since(start).Milliseconds()
	}()

	go func() {
		defer wg.Done()
		probe, err := os.CreateTemp(m.Root().Dir(), ".chxfer-health-*")
		if err != nil {
			result.StorageError = err.Error()
			return
		}
		name := probe.Name()
		probe.Close()
		if err := os.Remove(name); err != nil {
			result.StorageError = err.Error()
			return
		}
		result.StorageWritable = filepath.Dir(name) == m.Root().Dir()
	}()

	wg.Wait()

	result.Healthy = result.Connected && result.StorageWritable
	return result, nil
}
