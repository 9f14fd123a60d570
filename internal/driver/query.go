package driver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/johndauphine/chxfer/internal/ident"
)

var errNoColumns = errors.New("no columns selected")

// BuildSelect renders the read statement for a projection: an explicit column
// list, the optional join, and a LIMIT when limit > 0.
func BuildSelect(d Dialect, p *Projection, limit int) (string, error) {
	if len(p.Columns) == 0 {
		return "", errNoColumns
	}
	var sb strings.Builder
	sb.WriteString("SELECT ")
	for i, c := range p.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(columnRef(d, p, c))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(d.QuoteIdentifier(p.Table))

	if j := p.Join; j != nil {
		fmt.Fprintf(&sb, " %s %s ON %s.%s = %s.%s",
			j.Kind.keyword(),
			d.QuoteIdentifier(j.Table),
			d.QuoteIdentifier(p.Table), d.QuoteIdentifier(j.LeftKey),
			d.QuoteIdentifier(j.Table), d.QuoteIdentifier(j.RightKey))
	}
	if limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", limit)
	}
	return sb.String(), nil
}

// BuildCount wraps the projection's select in a row count.
func BuildCount(d Dialect, p *Projection) (string, error) {
	inner, err := BuildSelect(d, p, 0)
	if err != nil {
		return "", err
	}
	return "SELECT count(*) FROM (" + inner + ") AS src", nil
}

// BuildInsert renders a parameterized insert for table and columns. Values are
// always bound.
func BuildInsert(d Dialect, table string, columns []string) (string, error) {
	if _, err := ident.Validate(table); err != nil {
		return "", err
	}
	if len(columns) == 0 {
		return "", errNoColumns
	}
	quoted := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		if _, err := ident.Validate(c); err != nil {
			return "", err
		}
		quoted[i] = d.QuoteIdentifier(c)
		params[i] = d.ParameterPlaceholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.QuoteIdentifier(table), strings.Join(quoted, ", "), strings.Join(params, ", ")), nil
}

// columnRef quotes a column. With a join, unqualified columns belong to the
// base table.
func columnRef(d Dialect, p *Projection, c ident.Qualified) string {
	switch {
	case c.Table != "":
		return d.QuoteIdentifier(c.Table) + "." + d.QuoteIdentifier(c.Column)
	case p.Join != nil:
		return d.QuoteIdentifier(p.Table) + "." + d.QuoteIdentifier(c.Column)
	default:
		return d.QuoteIdentifier(c.Column)
	}
}
