// Package batch defines the unit of work moved between a database cursor and a
// delimited file: a bounded group of rows with an explicit schema carried
// alongside.
package batch

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// DefaultSize is the number of rows per batch when none is configured.
const DefaultSize = 10000

// Column is a column name with its declared type.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Names returns the column names in order.
func Names(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// ParseError describes one malformed input record that was left out of a batch.
type ParseError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

func (e ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Batch is a group of rows. Every row has len(Schema) values in schema order.
type Batch struct {
	// Seq is the 1-based position of this batch in its stream.
	Seq int

	Schema []Column
	Rows   [][]any

	// ParseErrors lists input records dropped while building this batch.
	ParseErrors []ParseError
}

// Len returns the number of rows in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// Reader yields batches until it returns io.EOF.
type Reader interface {
	// Schema is known once the reader is open.
	Schema() []Column
	Next(ctx context.Context) (*Batch, error)
	Close() error
}

// Writer persists batches and reports rows written for each.
type Writer interface {
	Write(ctx context.Context, b *Batch) (int, error)
	Close() error
}

// FormatValue renders a value the way it is written to a delimited file.
// nil becomes the empty string.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case *string:
		if x == nil {
			return ""
		}
		return *x
	case time.Time:
		if x.Nanosecond() != 0 {
			return x.Format("2006-01-02 15:04:05.999999999")
		}
		return x.Format("2006-01-02 15:04:05")
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
