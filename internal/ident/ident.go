// Package ident validates table and column names before they are embedded in
// SQL text. Identifiers cannot be bound as parameters, so every name that
// reaches a statement must pass through Validate first.
package ident

import (
	"errors"
	"fmt"
	"strings"
)

// MaxLength is the longest identifier accepted.
const MaxLength = 128

// ErrInvalidIdentifier is matched by every *InvalidIdentifierError via errors.Is.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// InvalidIdentifierError carries the offending token.
type InvalidIdentifierError struct {
	Token  string
	Reason string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid identifier %q: %s", e.Token, e.Reason)
}

// Is reports whether target is ErrInvalidIdentifier.
func (e *InvalidIdentifierError) Is(target error) bool {
	return target == ErrInvalidIdentifier
}

// reserved holds SQL keywords that are refused as standalone identifiers.
var reserved = map[string]struct{}{
	"ALL": {}, "ALTER": {}, "AND": {}, "AS": {}, "ATTACH": {}, "BY": {},
	"CREATE": {}, "DELETE": {}, "DESCRIBE": {}, "DETACH": {}, "DISTINCT": {},
	"DROP": {}, "EXCEPT": {}, "EXEC": {}, "EXECUTE": {}, "EXISTS": {},
	"FROM": {}, "GRANT": {}, "GROUP": {}, "HAVING": {}, "INSERT": {},
	"INTERSECT": {}, "INTO": {}, "JOIN": {}, "KILL": {}, "LIMIT": {},
	"NOT": {}, "NULL": {}, "ON": {}, "OPTIMIZE": {}, "OR": {}, "ORDER": {},
	"RENAME": {}, "REVOKE": {}, "SELECT": {}, "SET": {}, "SHOW": {},
	"SYSTEM": {}, "TABLE": {}, "TRUNCATE": {}, "UNION": {}, "UPDATE": {},
	"USE": {}, "VALUES": {}, "WHERE": {}, "WITH": {},
}

// Validate returns name unchanged if it is a safe identifier:
// [A-Za-z_][A-Za-z0-9_]*, at most MaxLength bytes, and not a reserved keyword.
func Validate(name string) (string, error) {
	if name == "" {
		return "", &InvalidIdentifierError{Token: name, Reason: "empty"}
	}
	if len(name) > MaxLength {
		return "", &InvalidIdentifierError{Token: name, Reason: fmt.Sprintf("longer than %d characters", MaxLength)}
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
			if i == 0 {
				return "", &InvalidIdentifierError{Token: name, Reason: "starts with a digit"}
			}
		default:
			return "", &InvalidIdentifierError{Token: name, Reason: fmt.Sprintf("illegal character %q at offset %d", c, i)}
		}
	}
	if _, ok := reserved[strings.ToUpper(name)]; ok {
		return "", &InvalidIdentifierError{Token: name, Reason: "reserved keyword"}
	}
	return name, nil
}

// ValidateAll validates every name and stops at the first failure.
func ValidateAll(names ...string) error {
	for _, n := range names {
		if _, err := Validate(n); err != nil {
			return err
		}
	}
	return nil
}

// Qualified is a column reference, optionally prefixed by its table.
type Qualified struct {
	Table  string
	Column string
}

// String renders the reference the way it was written.
func (q Qualified) String() string {
	if q.Table == "" {
		return q.Column
	}
	return q.Table + "." + q.Column
}

// ValidateQualified accepts "col" or "table.col" and validates each part.
func ValidateQualified(ref string) (Qualified, error) {
	parts := strings.Split(ref, ".")
	switch len(parts) {
	case 1:
		col, err := Validate(parts[0])
		if err != nil {
			return Qualified{}, err
		}
		return Qualified{Column: col}, nil
	case 2:
		tbl, err := Validate(parts[0])
		if err != nil {
			return Qualified{}, err
		}
		col, err := Validate(parts[1])
		if err != nil {
			return Qualified{}, err
		}
		return Qualified{Table: tbl, Column: col}, nil
	default:
		return Qualified{}, &InvalidIdentifierError{Token: ref, Reason: "too many qualifiers"}
	}
}
