// Package testutil provides an embedded SQLite database that stands in for
// ClickHouse in engine tests.
package testutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/johndauphine/chxfer/internal/driver"
)

// BadToken is the token DB rejects as invalid credentials.
const BadToken = "bad-token"

// Dialect implements driver.Dialect for SQLite.
type Dialect struct{}

func (Dialect) DBType() string { return "sqlite" }

func (Dialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (Dialect) ParameterPlaceholder(int) string { return "?" }

func (Dialect) ColumnsQuery(_, table string) (string, []any) {
	return "SELECT name, type FROM pragma_table_info(?) ORDER BY cid", []any{table}
}

func (Dialect) TablesQuery(string) (string, []any) {
	return "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name", nil
}

// ValueConverter binds text unchanged; SQLite applies column affinity itself.
func (Dialect) ValueConverter(string, *time.Location) driver.ValueConverter { return nil }

func (Dialect) TimezoneQuery() string { return "" }

func (Dialect) IsAuthError(err error) bool { return false }

func (Dialect) IsUnknownTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

// DB is a file-backed SQLite database. It implements driver.Connector; each
// Open returns a fresh single-connection session on the same file.
type DB struct {
	path  string
	opens atomic.Int64
}

// NewDB creates an empty database in a temp directory.
func NewDB(t testing.TB) *DB {
	t.Helper()
	return &DB{path: filepath.Join(t.TempDir(), "test.db")}
}

// Opens returns how many sessions have been opened.
func (d *DB) Opens() int64 { return d.opens.Load() }

// Open implements driver.Connector.
func (d *DB) Open(ctx context.Context, spec driver.ConnectionSpec) (*driver.Session, error) {
	d.opens.Add(1)
	if spec.Token == BadToken {
		return nil, &driver.AuthenticationError{User: spec.User, Addr: spec.Addr(), Err: errors.New("wrong password")}
	}
	db, err := sql.Open("sqlite", d.path)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return driver.NewSession(db, Dialect{}, "main"), nil
}

// Exec runs statements directly against the file.
func (d *DB) Exec(t testing.TB, stmts ...string) {
	t.Helper()
	db, err := sql.Open("sqlite", d.path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
}

// Seed creates table (id INTEGER, name TEXT) holding n rows with ids 1..n.
func (d *DB) Seed(t testing.TB, table string, n int) {
	t.Helper()
	db, err := sql.Open("sqlite", d.path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := db.Exec(fmt.Sprintf("CREATE TABLE %s (id INTEGER, name TEXT)", table)); err != nil {
		t.Fatal(err)
	}
	tx, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	stmt, err := tx.Prepare(fmt.Sprintf("INSERT INTO %s (id, name) VALUES (?, ?)", table))
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= n; i++ {
		if _, err := stmt.Exec(i, fmt.Sprintf("name-%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

// Count returns the number of rows in table.
func (d *DB) Count(t testing.TB, table string) int64 {
	t.Helper()
	db, err := sql.Open("sqlite", d.path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var n int64
	if err := db.QueryRow(fmt.Sprintf("SELECT count(*) FROM %s", table)).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}
