package driver

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/johndauphine/chxfer/internal/batch"
)

// RowReader streams a query result in batches. It holds one open cursor and
// never materializes more than one batch.
type RowReader struct {
	rows      *sql.Rows
	schema    []batch.Column
	batchSize int
	seq       int
	done      bool
}

func newRowReader(rows *sql.Rows, schema []batch.Column, batchSize int) *RowReader {
	if batchSize <= 0 {
		batchSize = batch.DefaultSize
	}
	return &RowReader{rows: rows, schema: schema, batchSize: batchSize}
}

// Schema returns the projected columns.
func (r *RowReader) Schema() []batch.Column { return r.schema }

// Next returns up to batchSize rows, or io.EOF once the cursor is drained.
func (r *RowReader) Next(ctx context.Context) (*batch.Batch, error) {
	if r.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows := make([][]any, 0, r.batchSize)
	for len(rows) < r.batchSize && r.rows.Next() {
		vals := make([]any, len(r.schema))
		ptrs := make([]any, len(vals))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := r.rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row %d of batch %d: %w", len(rows)+1, r.seq+1, err)
		}
		rows = append(rows, vals)
	}
	if len(rows) < r.batchSize {
		r.done = true
		if err := r.rows.Err(); err != nil {
			return nil, fmt.Errorf("reading rows: %w", err)
		}
	}
	if len(rows) == 0 {
		return nil, io.EOF
	}

	r.seq++
	return &batch.Batch{Seq: r.seq, Schema: r.schema, Rows: rows}, nil
}

// Close releases the cursor.
func (r *RowReader) Close() error {
	return r.rows.Close()
}
