package stats

import (
	"database/sql"
	"fmt"
	"time"
)

// PoolStats summarizes a session's connection pool for logging.
type PoolStats struct {
	DBType      string // "clickhouse", or "sqlite" in tests
	MaxConns    int    // Maximum connections allowed
	ActiveConns int    // Currently in-use connections
	IdleConns   int    // Currently idle connections
	WaitCount   int64  // Total number of times a connection was waited for
	WaitTimeMs  int64  // Total time spent waiting for connections (milliseconds)
}

// FromDB converts database/sql pool counters.
func FromDB(dbType string, s sql.DBStats) PoolStats {
	return PoolStats{
		DBType:      dbType,
		MaxConns:    s.MaxOpenConnections,
		ActiveConns: s.InUse,
		IdleConns:   s.Idle,
		WaitCount:   s.WaitCount,
		WaitTimeMs:  s.WaitDuration.Milliseconds(),
	}
}

// String returns a formatted string for logging pool stats.
func (s PoolStats) String() string {
	avg := time.Duration(0)
	if s.WaitCount > 0 {
		avg = time.Duration(s.WaitTimeMs) * time.Millisecond / time.Duration(s.WaitCount)
	}
	return fmt.Sprintf("%s: %d/%d active, %d idle, %d waits (%s avg)",
		s.DBType, s.ActiveConns, s.MaxConns, s.IdleConns, s.WaitCount, avg)
}
