package driver

import "time"

// ValueConverter turns a text field into the value bound for one column.
type ValueConverter func(string) (any, error)

// Dialect abstracts the SQL differences the engine depends on.
type Dialect interface {
	// DBType returns the database type (e.g., "clickhouse").
	DBType() string

	// QuoteIdentifier quotes an already validated identifier.
	QuoteIdentifier(name string) string

	// ParameterPlaceholder returns the bind placeholder for the 1-based index.
	ParameterPlaceholder(index int) string

	// ColumnsQuery returns a metadata query yielding (name, type) rows in
	// declaration order for one table. It never touches data rows.
	ColumnsQuery(database, table string) (string, []any)

	// TablesQuery returns a query yielding table names in a database.
	TablesQuery(database string) (string, []any)

	// ValueConverter returns the conversion for a column of columnType, or
	// nil when the text can be bound as is. loc applies to date and time
	// types that carry no zone of their own.
	ValueConverter(columnType string, loc *time.Location) ValueConverter

	// TimezoneQuery returns a query yielding the server time zone name, or ""
	// if the database has none.
	TimezoneQuery() string

	// IsAuthError reports whether err means the credentials were rejected.
	IsAuthError(err error) bool

	// IsUnknownTable reports whether err means the table or database is missing.
	IsUnknownTable(err error) bool
}
