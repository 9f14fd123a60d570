package clickhouse

import (
	"errors"
	"strings"

	ch "github.com/ClickHouse/clickhouse-go/v2"
)

// Server error codes the engine distinguishes.
const (
	codeUnknownIdentifier = 47
	codeUnknownTable      = 60
	codeUnknownDatabase   = 81
	codeUnknownUser       = 192
	codeWrongPassword     = 193
	codeRequiredPassword  = 194
	codeAuthFailed        = 516
)

// Dialect implements driver.Dialect for ClickHouse.
type Dialect struct{}

func (d *Dialect) DBType() string { return "clickhouse" }

func (d *Dialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d *Dialect) ParameterPlaceholder(int) string { return "?" }

func (d *Dialect) ColumnsQuery(database, table string) (string, []any) {
	return `SELECT name, type FROM system.columns
		WHERE database = ? AND table = ?
		ORDER BY position`, []any{database, table}
}

func (d *Dialect) TablesQuery(database string) (string, []any) {
	return `SELECT name FROM system.tables
		WHERE database = ? AND NOT is_temporary
		ORDER BY name`, []any{database}
}

func (d *Dialect) IsAuthError(err error) bool {
	switch exceptionCode(err) {
	case codeUnknownUser, codeWrongPassword, codeRequiredPassword, codeAuthFailed:
		return true
	}
	return false
}

func (d *Dialect) IsUnknownTable(err error) bool {
	switch exceptionCode(err) {
	case codeUnknownTable, codeUnknownDatabase, codeUnknownIdentifier:
		return true
	}
	return false
}

func exceptionCode(err error) int32 {
	var ex *ch.Exception
	if errors.As(err, &ex) {
		return ex.Code
	}
	return 0
}
