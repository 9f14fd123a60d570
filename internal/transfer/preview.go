package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/johndauphine/chxfer/internal/batch"
	"github.com/johndauphine/chxfer/internal/driver"
	"github.com/johndauphine/chxfer/internal/flatfile"
)

// DefaultPreviewLimit is the most rows a preview returns.
const DefaultPreviewLimit = 100

// PreviewRequest names the source to sample. Direction selects the source
// side: DB_TO_FILE previews the table, FILE_TO_DB previews the file.
type PreviewRequest struct {
	Direction Direction             `json:"direction"`
	Conn      driver.ConnectionSpec `json:"connection"`
	Table     driver.TableSpec      `json:"table"`
	File      flatfile.FileSpec     `json:"file"`
	Limit     int                   `json:"limit,omitempty"`
}

// Preview is the first rows of a source, rendered as text.
type Preview struct {
	Columns     []batch.Column           `json:"columns"`
	Rows        [][]string               `json:"rows"`
	ParseErrors []flatfile.RowParseError `json:"parse_errors,omitempty"`
}

// Preview reads at most the preview limit of rows from the source without
// writing anywhere or publishing progress. It has no side effects, so repeated
// calls over unchanged data return the same result.
func (r *Runner) Preview(ctx context.Context, req PreviewRequest) (*Preview, error) {
	limit := req.Limit
	if limit <= 0 || limit > r.opts.PreviewLimit {
		limit = r.opts.PreviewLimit
	}

	var (
		reader batch.Reader
		err    error
	)
	switch req.Direction {
	case DBToFile:
		var proj *driver.Projection
		if proj, err = req.Table.Validate(); err != nil {
			return nil, err
		}
		sess, err := r.connector.Open(ctx, req.Conn)
		if err != nil {
			return nil, err
		}
		defer sess.Close()
		if len(proj.Columns) == 0 {
			if err := r.fillColumns(ctx, sess, proj); err != nil {
				return nil, err
			}
		}
		if reader, err = sess.OpenReader(ctx, proj, limit, limit); err != nil {
			return nil, err
		}
	case FileToDB:
		reader, err = flatfile.OpenReader(r.root, req.File, req.Table.Columns, flatfile.ReaderOptions{
			BatchSize: limit,
			Threshold: r.opts.MalformedThreshold,
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown direction %q", req.Direction)
	}
	defer reader.Close()

	c := batch.NewCollector(limit)
	for !c.Full() {
		b, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if _, err := c.Write(ctx, b); err != nil {
			return nil, err
		}
	}

	p := &Preview{Columns: reader.Schema(), Rows: make([][]string, len(c.Rows)), ParseErrors: c.ParseErrors}
	for i, row := range c.Rows {
		out := make([]string, len(row))
		for j, v := range row {
			out[j] = batch.FormatValue(v)
		}
		p.Rows[i] = out
	}
	return p, nil
}

// Columns lists the columns of table over a short-lived session.
func (r *Runner) Columns(ctx context.Context, conn driver.ConnectionSpec, table string) ([]batch.Column, error) {
	sess, err := r.connector.Open(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return sess.ListColumns(ctx, table)
}

// Tables lists the tables of the connection's database.
func (r *Runner) Tables(ctx context.Context, conn driver.ConnectionSpec) ([]string, error) {
	sess, err := r.connector.Open(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return sess.ListTables(ctx)
}

// FileColumns returns the header (or positional names) of a file.
func (r *Runner) FileColumns(spec flatfile.FileSpec) ([]string, error) {
	return flatfile.FileColumns(r.root, spec)
}

// ListFiles lists files under the storage root.
func (r *Runner) ListFiles() ([]flatfile.FileInfo, error) {
	return r.root.List()
}
