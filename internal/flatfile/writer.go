package flatfile

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"

	"github.com/johndauphine/chxfer/internal/batch"
)

// Writer appends batches to a delimited file. The header, if wanted, is
// written once before the first batch; each batch is flushed and synced
// before Write returns.
type Writer struct {
	file    *os.File
	buf     *bufio.Writer
	csv     *csv.Writer
	header  bool
	started bool
	record  []string
}

// CreateWriter creates or truncates spec.Path under root.
func CreateWriter(root *Root, spec FileSpec) (*Writer, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	f, err := root.Create(spec.Path)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(f)
	dst, err := spec.encode(buf)
	if err != nil {
		f.Close()
		return nil, err
	}
	cw := csv.NewWriter(dst)
	cw.Comma = spec.Delimiter
	return &Writer{file: f, buf: buf, csv: cw, header: spec.Header}, nil
}

// Write appends b and returns the rows written.
func (w *Writer) Write(_ context.Context, b *batch.Batch) (int, error) {
	if w.header && !w.started {
		if err := w.csv.Write(batch.Names(b.Schema)); err != nil {
			return 0, fmt.Errorf("writing header: %w", err)
		}
	}
	w.started = true

	for _, row := range b.Rows {
		w.record = w.record[:0]
		for _, v := range row {
			w.record = append(w.record, batch.FormatValue(v))
		}
		if err := w.csv.Write(w.record); err != nil {
			return 0, fmt.Errorf("writing batch %d: %w", b.Seq, err)
		}
	}
	if err := w.sync(); err != nil {
		return 0, fmt.Errorf("writing batch %d: %w", b.Seq, err)
	}
	return b.Len(), nil
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	err := w.sync()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// WriteHeader writes the header for an empty result. It is a no-op once any
// batch has been written.
func (w *Writer) WriteHeader(schema []batch.Column) error {
	if !w.header || w.started {
		return nil
	}
	w.started = true
	if err := w.csv.Write(batch.Names(schema)); err != nil {
		return err
	}
	return w.sync()
}

func (w *Writer) sync() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return err
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}
