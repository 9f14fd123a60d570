package driver

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/johndauphine/chxfer/internal/batch"
	"github.com/johndauphine/chxfer/internal/logging"
)

// BatchWriter inserts each batch in its own transaction. A failed batch is
// rolled back; batches already committed stand.
type BatchWriter struct {
	db      *sql.DB
	table   string
	columns []batch.Column
	convert []ValueConverter
	query   string
}

// Query returns the insert template.
func (w *BatchWriter) Query() string { return w.query }

// Write inserts b and returns the rows committed. On failure it returns 0 and
// a *BatchWriteError naming the batch.
func (w *BatchWriter) Write(ctx context.Context, b *batch.Batch) (int, error) {
	if b.Len() == 0 {
		return 0, nil
	}
	if len(b.Schema) != len(w.columns) {
		return 0, w.fail(b, fmt.Errorf("batch has %d columns, insert expects %d", len(b.Schema), len(w.columns)))
	}
	rows, err := w.bind(b)
	if err != nil {
		return 0, w.fail(b, err)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, w.fail(b, fmt.Errorf("begin: %w", err))
	}
	stmt, err := tx.PrepareContext(ctx, w.query)
	if err != nil {
		_ = tx.Rollback()
		return 0, w.fail(b, fmt.Errorf("prepare: %w", err))
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = tx.Rollback()
			return 0, w.fail(b, fmt.Errorf("row %d: %w", i+1, err))
		}
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return 0, w.fail(b, fmt.Errorf("commit: %w", err))
	}
	logging.Debug("batch %d: committed %d rows into %s", b.Seq, b.Len(), w.table)
	return b.Len(), nil
}

// Close is a no-op; the session owns the connection.
func (w *BatchWriter) Close() error { return nil }

// bind converts text fields to the values the destination columns expect.
// Rows are converted before the transaction opens, so a bad value never
// leaves a partial batch behind.
func (w *BatchWriter) bind(b *batch.Batch) ([][]any, error) {
	rows := make([][]any, len(b.Rows))
	for i, row := range b.Rows {
		args := make([]any, len(row))
		for j, v := range row {
			s, ok := v.(string)
			if !ok || w.convert[j] == nil {
				args[j] = v
				continue
			}
			cv, err := w.convert[j](s)
			if err != nil {
				return nil, fmt.Errorf("row %d, column %s (%s): %w", i+1, w.columns[j].Name, w.columns[j].Type, err)
			}
			args[j] = cv
		}
		rows[i] = args
	}
	return rows, nil
}

func (w *BatchWriter) fail(b *batch.Batch, err error) error {
	return &BatchWriteError{Seq: b.Seq, Table: w.table, Rows: b.Len(), Err: err}
}
