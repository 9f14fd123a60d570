package driver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/johndauphine/chxfer/internal/batch"
	"github.com/johndauphine/chxfer/internal/ident"
	"github.com/johndauphine/chxfer/internal/logging"
	"github.com/johndauphine/chxfer/internal/stats"
)

// Session is an authenticated database handle owned by one run. The
// underlying pool is capped at a single connection.
type Session struct {
	db       *sql.DB
	dialect  Dialect
	database string
}

// NewSession wraps db. Drivers call this after a successful ping.
func NewSession(db *sql.DB, dialect Dialect, database string) *Session {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &Session{db: db, dialect: dialect, database: database}
}

// DB returns the underlying handle.
func (s *Session) DB() *sql.DB { return s.db }

// Dialect returns the session's SQL dialect.
func (s *Session) Dialect() Dialect { return s.dialect }

// Database returns the database the session is bound to.
func (s *Session) Database() string { return s.database }

// PoolStats reports the session's pool counters.
func (s *Session) PoolStats() stats.PoolStats {
	return stats.FromDB(s.dialect.DBType(), s.db.Stats())
}

// Close releases the connection.
func (s *Session) Close() error {
	logging.Debug("closing session (%s)", s.PoolStats())
	return s.db.Close()
}

// ListTables returns table names in the session's database.
func (s *Session) ListTables(ctx context.Context) ([]string, error) {
	query, args := s.dialect.TablesQuery(s.database)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.classify("", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// ListColumns returns the columns of table in declaration order using a
// metadata query only. An unknown table yields *SchemaLookupError.
func (s *Session) ListColumns(ctx context.Context, table string) ([]batch.Column, error) {
	if _, err := ident.Validate(table); err != nil {
		return nil, err
	}
	query, args := s.dialect.ColumnsQuery(s.database, table)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &SchemaLookupError{Table: table, Err: err}
	}
	defer rows.Close()

	var cols []batch.Column
	for rows.Next() {
		var c batch.Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, &SchemaLookupError{Table: table, Err: err}
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &SchemaLookupError{Table: table, Err: err}
	}
	if len(cols) == 0 {
		return nil, &SchemaLookupError{Table: table}
	}
	return cols, nil
}

// Count returns the number of rows the projection yields.
func (s *Session) Count(ctx context.Context, p *Projection) (int64, error) {
	query, err := BuildCount(s.dialect, p)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, s.classify(p.Table, err)
	}
	return n, nil
}

// OpenReader runs the projection's select and returns a forward-only reader
// grouping rows into batches of batchSize. limit > 0 caps the statement.
func (s *Session) OpenReader(ctx context.Context, p *Projection, batchSize, limit int) (*RowReader, error) {
	query, err := BuildSelect(s.dialect, p, limit)
	if err != nil {
		return nil, err
	}
	logging.Debug("query: %s", query)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, s.classify(p.Table, err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("reading result columns: %w", err)
	}
	names := p.Names()
	if len(types) != len(names) {
		rows.Close()
		return nil, fmt.Errorf("result has %d columns, projection has %d", len(types), len(names))
	}
	schema := make([]batch.Column, len(names))
	for i, name := range names {
		schema[i] = batch.Column{Name: name, Type: types[i].DatabaseTypeName()}
	}
	return newRowReader(rows, schema, batchSize), nil
}

// NewWriter prepares a writer inserting into table's columns. Each column's
// declared type picks the conversion applied to text fields.
func (s *Session) NewWriter(ctx context.Context, table string, columns []batch.Column) (*BatchWriter, error) {
	query, err := BuildInsert(s.dialect, table, batch.Names(columns))
	if err != nil {
		return nil, err
	}
	loc := s.location(ctx)
	convert := make([]ValueConverter, len(columns))
	for i, c := range columns {
		convert[i] = s.dialect.ValueConverter(c.Type, loc)
	}
	return &BatchWriter{db: s.db, table: table, columns: columns, convert: convert, query: query}, nil
}

// location returns the server time zone, falling back to UTC.
func (s *Session) location(ctx context.Context) *time.Location {
	query := s.dialect.TimezoneQuery()
	if query == "" {
		return time.UTC
	}
	var name string
	if err := s.db.QueryRowContext(ctx, query).Scan(&name); err != nil {
		logging.Warn("reading server time zone, using UTC: %v", err)
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		logging.Warn("unknown server time zone %q, using UTC", name)
		return time.UTC
	}
	return loc
}

// classify maps driver errors onto the engine's error types.
func (s *Session) classify(table string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case s.dialect.IsAuthError(err):
		return &AuthenticationError{Err: err}
	case s.dialect.IsUnknownTable(err):
		return &SchemaLookupError{Table: table, Err: err}
	default:
		return err
	}
}
