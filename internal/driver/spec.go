package driver

import (
	"fmt"
	"strings"

	"github.com/johndauphine/chxfer/internal/ident"
)

// JoinKind selects the join operator. Only the enumerated kinds are rendered;
// the value itself never reaches statement text.
type JoinKind string

const (
	JoinInner JoinKind = "INNER"
	JoinLeft  JoinKind = "LEFT"
)

// keyword returns the SQL for the kind, or "" when the kind is unknown.
func (k JoinKind) keyword() string {
	switch JoinKind(strings.ToUpper(string(k))) {
	case "", JoinInner:
		return "INNER JOIN"
	case JoinLeft:
		return "LEFT JOIN"
	default:
		return ""
	}
}

// JoinSpec joins a second table to the base table on one equality.
type JoinSpec struct {
	Table    string   `json:"table" yaml:"table"`
	LeftKey  string   `json:"left_key" yaml:"left_key"`
	RightKey string   `json:"right_key" yaml:"right_key"`
	Kind     JoinKind `json:"kind,omitempty" yaml:"kind,omitempty"`
}

// TableSpec is the projection to read or write. Columns are "col" or
// "table.col"; a qualifier must name the base or the joined table.
type TableSpec struct {
	Name    string    `json:"name" yaml:"name"`
	Columns []string  `json:"columns" yaml:"columns"`
	Join    *JoinSpec `json:"join,omitempty" yaml:"join,omitempty"`
}

// Projection is a TableSpec whose every identifier has been validated.
type Projection struct {
	Table   string
	Columns []ident.Qualified
	Join    *JoinSpec
}

// Names returns the projected columns as the caller wrote them. These are the
// schema names of rows read through the projection.
func (p *Projection) Names() []string {
	names := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		names[i] = c.String()
	}
	return names
}

// Validate checks every name part and the join kind. It does not consult the
// database.
func (t TableSpec) Validate() (*Projection, error) {
	table, err := ident.Validate(t.Name)
	if err != nil {
		return nil, err
	}
	p := &Projection{Table: table}

	if t.Join != nil {
		if err := ident.ValidateAll(t.Join.Table, t.Join.LeftKey, t.Join.RightKey); err != nil {
			return nil, err
		}
		if t.Join.Kind.keyword() == "" {
			return nil, fmt.Errorf("unsupported join kind %q (want INNER or LEFT)", t.Join.Kind)
		}
		if t.Join.Table == table {
			return nil, fmt.Errorf("table %q cannot be joined to itself", table)
		}
		j := *t.Join
		p.Join = &j
	}

	seen := make(map[string]bool, len(t.Columns))
	for _, ref := range t.Columns {
		q, err := ident.ValidateQualified(ref)
		if err != nil {
			return nil, err
		}
		if q.Table != "" && q.Table != table && (p.Join == nil || q.Table != p.Join.Table) {
			return nil, &SchemaLookupError{Table: q.Table, Column: q.Column,
				Err: fmt.Errorf("qualifier is neither %q nor the joined table", table)}
		}
		if seen[q.String()] {
			return nil, fmt.Errorf("column %q selected more than once", q.String())
		}
		seen[q.String()] = true
		p.Columns = append(p.Columns, q)
	}
	return p, nil
}
