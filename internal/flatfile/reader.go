package flatfile

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/johndauphine/chxfer/internal/batch"
	"github.com/johndauphine/chxfer/internal/driver"
	"github.com/johndauphine/chxfer/internal/logging"
)

// DefaultMalformedThreshold is the largest tolerated share of malformed
// records in one batch.
const DefaultMalformedThreshold = 0.05

// RowParseError is one malformed input record. It is collected, not returned.
type RowParseError = batch.ParseError

// ParseThresholdError means too many records of one batch were malformed.
type ParseThresholdError struct {
	Seq       int
	Malformed int
	Records   int
	Threshold float64
	Errors    []RowParseError
}

func (e *ParseThresholdError) Error() string {
	msg := fmt.Sprintf("batch %d: %d of %d records malformed (limit %.1f%%)",
		e.Seq, e.Malformed, e.Records, e.Threshold*100)
	if len(e.Errors) > 0 {
		msg += "; first: " + e.Errors[0].Error()
	}
	return msg
}

// ReaderOptions tunes a Reader.
type ReaderOptions struct {
	// BatchSize is the number of input records per batch.
	BatchSize int
	// Threshold is the tolerated malformed share per batch.
	Threshold float64
}

// Reader streams a delimited file as batches of string values. Values are
// passed through untouched.
type Reader struct {
	file      *os.File
	csv       *csv.Reader
	checkUTF8 bool
	opts      ReaderOptions

	schema []batch.Column
	index  []int // schema position -> record field
	width  int   // fields every record must have

	seq  int
	done bool
}

// OpenReader opens spec.Path under root. columns selects and orders the
// output; with a header they are looked up by name, without one they name
// the fields positionally. Empty columns with a header selects every header
// field.
func OpenReader(root *Root, spec FileSpec, columns []string, opts ReaderOptions) (*Reader, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = batch.DefaultSize
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultMalformedThreshold
	}

	f, err := root.Open(spec.Path)
	if err != nil {
		return nil, err
	}
	src, checkUTF8, err := spec.decode(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, err
	}

	cr := csv.NewReader(src)
	cr.Comma = spec.Delimiter
	cr.FieldsPerRecord = -1

	r := &Reader{file: f, csv: cr, checkUTF8: checkUTF8, opts: opts}
	if err := r.bind(spec, columns); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) bind(spec FileSpec, columns []string) error {
	if !spec.Header {
		if len(columns) == 0 {
			return fmt.Errorf("%s has no header: columns must be named", spec.Path)
		}
		r.width = len(columns)
		r.index = make([]int, len(columns))
		for i, c := range columns {
			r.index[i] = i
			r.schema = append(r.schema, batch.Column{Name: c, Type: "String"})
		}
		return nil
	}

	header, err := r.csv.Read()
	if errors.Is(err, io.EOF) {
		return &driver.SchemaLookupError{Table: spec.Path, Err: errors.New("file is empty")}
	}
	if err != nil {
		return fmt.Errorf("reading header of %s: %w", spec.Path, err)
	}
	header = cleanHeader(header)
	r.width = len(header)

	pos := make(map[string]int, len(header))
	for i, h := range header {
		if _, dup := pos[h]; !dup {
			pos[h] = i
		}
	}
	if len(columns) == 0 {
		columns = header
	}
	for _, c := range columns {
		i, ok := pos[c]
		if !ok {
			return &driver.SchemaLookupError{Table: spec.Path, Column: c}
		}
		r.index = append(r.index, i)
		r.schema = append(r.schema, batch.Column{Name: c, Type: "String"})
	}
	return nil
}

// Schema returns the selected columns.
func (r *Reader) Schema() []batch.Column { return r.schema }

// Next reads up to BatchSize records. Malformed records are left out and
// reported on the batch; if they exceed the threshold Next fails with
// *ParseThresholdError.
func (r *Reader) Next(ctx context.Context) (*batch.Batch, error) {
	if r.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := &batch.Batch{Seq: r.seq + 1, Schema: r.schema, Rows: make([][]any, 0, r.opts.BatchSize)}
	records := 0
	for records < r.opts.BatchSize {
		rec, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			r.done = true
			break
		}
		records++
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return nil, fmt.Errorf("reading %s: %w", r.file.Name(), err)
			}
			b.ParseErrors = append(b.ParseErrors, RowParseError{Line: pe.StartLine, Reason: pe.Err.Error()})
			continue
		}
		line, _ := r.csv.FieldPos(0)
		if reason := r.check(rec); reason != "" {
			b.ParseErrors = append(b.ParseErrors, RowParseError{Line: line, Reason: reason})
			continue
		}
		row := make([]any, len(r.index))
		for i, fi := range r.index {
			row[i] = rec[fi]
		}
		b.Rows = append(b.Rows, row)
	}

	if records == 0 {
		return nil, io.EOF
	}
	r.seq++
	if bad := len(b.ParseErrors); bad > 0 {
		logging.Debug("batch %d: %d of %d records malformed", b.Seq, bad, records)
		if float64(bad) > r.opts.Threshold*float64(records) {
			return nil, &ParseThresholdError{Seq: b.Seq, Malformed: bad, Records: records,
				Threshold: r.opts.Threshold, Errors: b.ParseErrors}
		}
	}
	return b, nil
}

func (r *Reader) check(rec []string) string {
	if len(rec) != r.width {
		return fmt.Sprintf("expected %d fields, got %d", r.width, len(rec))
	}
	if r.checkUTF8 {
		for i, v := range rec {
			if !utf8.ValidString(v) {
				return fmt.Sprintf("field %d is not valid UTF-8", i+1)
			}
		}
	}
	return ""
}

// Close closes the file.
func (r *Reader) Close() error {
	return r.file.Close()
}

func cleanHeader(h []string) []string {
	out := make([]string, len(h))
	for i, v := range h {
		if i == 0 {
			v = strings.TrimPrefix(v, "\uFEFF")
		}
		out[i] = strings.TrimSpace(v)
	}
	return out
}
