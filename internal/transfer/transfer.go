// Package transfer runs one transfer between a database projection and a
// delimited file: open a session, stream batches from the reader to the
// writer, track progress, and report the outcome.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/johndauphine/chxfer/internal/batch"
	"github.com/johndauphine/chxfer/internal/driver"
	"github.com/johndauphine/chxfer/internal/flatfile"
	"github.com/johndauphine/chxfer/internal/logging"
	"github.com/johndauphine/chxfer/internal/metrics"
	"github.com/johndauphine/chxfer/internal/progress"
)

// Direction selects the source and destination of a transfer.
type Direction string

const (
	DBToFile Direction = "DB_TO_FILE"
	FileToDB Direction = "FILE_TO_DB"
)

// ErrCancellationRequested ends a run in the CANCELLED state.
var ErrCancellationRequested = errors.New("transfer cancelled")

// DefaultMaxParseErrors caps the parse errors kept on a Result.
const DefaultMaxParseErrors = 1000

// Request describes one transfer.
type Request struct {
	Direction Direction             `json:"direction"`
	Conn      driver.ConnectionSpec `json:"connection"`
	Table     driver.TableSpec      `json:"table"`
	File      flatfile.FileSpec     `json:"file"`
	BatchSize int                   `json:"batch_size,omitempty"`
}

// Result is the immutable outcome of a run.
type Result struct {
	Handle      string                   `json:"handle"`
	Direction   Direction                `json:"direction"`
	Status      progress.Phase           `json:"status"`
	Table       string                   `json:"table"`
	File        string                   `json:"file"`
	Rows        int64                    `json:"rows"`
	Total       int64                    `json:"total"`
	Batches     int                      `json:"batches"`
	StartedAt   time.Time                `json:"started_at"`
	Elapsed     time.Duration            `json:"elapsed"`
	ParseErrors []flatfile.RowParseError `json:"parse_errors,omitempty"`
	// ParseErrorCount includes errors beyond those kept in ParseErrors.
	ParseErrorCount int    `json:"parse_error_count"`
	Digest          string `json:"digest,omitempty"`
	Error           string `json:"error,omitempty"`

	Err error `json:"-"`
}

// Options tunes a Runner.
type Options struct {
	BatchSize          int
	MalformedThreshold float64
	MaxParseErrors     int
	PreviewLimit       int
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = batch.DefaultSize
	}
	if o.MalformedThreshold <= 0 {
		o.MalformedThreshold = flatfile.DefaultMalformedThreshold
	}
	if o.MaxParseErrors <= 0 {
		o.MaxParseErrors = DefaultMaxParseErrors
	}
	if o.PreviewLimit <= 0 {
		o.PreviewLimit = DefaultPreviewLimit
	}
}

// Runner executes transfers against one connector and storage root. It holds
// no per-run state and is safe for concurrent use.
type Runner struct {
	connector driver.Connector
	root      *flatfile.Root
	opts      Options
	now       func() time.Time
}

// NewRunner creates a runner.
func NewRunner(connector driver.Connector, root *flatfile.Root, opts Options) *Runner {
	opts.applyDefaults()
	return &Runner{connector: connector, root: root, opts: opts, now: time.Now}
}

// Root returns the storage root.
func (r *Runner) Root() *flatfile.Root { return r.root }

// Plan is a request whose identifiers and paths have been checked.
type Plan struct {
	Request    Request
	Projection *driver.Projection
	// FilePath is the root-relative file, generated for exports without one.
	FilePath string
}

// Prepare validates req without touching the database. Errors are
// validation-class: invalid identifiers, a path outside the root, or a
// malformed request.
func (r *Runner) Prepare(req Request) (*Plan, error) {
	switch req.Direction {
	case DBToFile, FileToDB:
	default:
		return nil, fmt.Errorf("unknown direction %q", req.Direction)
	}
	if req.BatchSize <= 0 {
		req.BatchSize = r.opts.BatchSize
	}

	proj, err := req.Table.Validate()
	if err != nil {
		return nil, err
	}
	if req.Direction == FileToDB {
		if proj.Join != nil {
			return nil, errors.New("a join cannot be the destination of an import")
		}
		for _, c := range proj.Columns {
			if c.Table != "" && c.Table != proj.Table {
				return nil, fmt.Errorf("import column %q must belong to %s", c.String(), proj.Table)
			}
		}
	}

	if req.Direction == DBToFile && req.File.Path == "" {
		req.File.Path = flatfile.ExportName(proj.Table, r.now())
		req.File.Header = true
	}
	if err := req.File.Validate(); err != nil {
		return nil, err
	}
	if _, err := r.root.Resolve(req.File.Path); err != nil {
		return nil, err
	}
	return &Plan{Request: req, Projection: proj, FilePath: req.File.Path}, nil
}

// run carries the state of one execution.
type run struct {
	plan    *Plan
	tracker *progress.Tracker
	result  Result
	digest  batch.Digest
	maxErrs int
}

// Run executes req, reporting through tr, and returns when the run reaches a
// terminal state. Cancelling ctx stops the run between batches; a batch whose
// write has started is completed first.
func (r *Runner) Run(ctx context.Context, req Request, tr *progress.Tracker) Result {
	snap := tr.Snapshot()
	st := &run{
		tracker: tr,
		maxErrs: r.opts.MaxParseErrors,
		result: Result{
			Handle:    snap.Handle,
			Direction: req.Direction,
			Table:     req.Table.Name,
			File:      req.File.Path,
			StartedAt: r.now(),
			Total:     -1,
		},
	}

	plan, err := r.Prepare(req)
	if err != nil {
		return r.finish(st, err)
	}
	st.plan = plan
	st.result.File = plan.FilePath

	logging.Info("Transfer %s started: %s %s <-> %s", st.result.Handle, req.Direction, plan.Projection.Table, plan.FilePath)

	sess, err := r.connector.Open(ctx, req.Conn)
	if err != nil {
		return r.finish(st, err)
	}
	defer sess.Close()

	var (
		reader batch.Reader
		writer batch.Writer
	)
	switch req.Direction {
	case DBToFile:
		reader, writer, err = r.openExport(ctx, sess, st)
	case FileToDB:
		reader, writer, err = r.openImport(ctx, sess, st)
	}
	if err != nil {
		return r.finish(st, err)
	}
	defer reader.Close()

	err = r.loop(ctx, reader, writer, st)
	if err == nil && st.result.Batches == 0 {
		if hw, ok := writer.(interface{ WriteHeader([]batch.Column) error }); ok {
			err = hw.WriteHeader(reader.Schema())
		}
	}
	if cerr := writer.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing destination: %w", cerr)
	}
	return r.finish(st, err)
}

func (r *Runner) openExport(ctx context.Context, sess *driver.Session, st *run) (batch.Reader, batch.Writer, error) {
	proj := st.plan.Projection
	if len(proj.Columns) == 0 {
		if err := r.fillColumns(ctx, sess, proj); err != nil {
			return nil, nil, err
		}
	}

	total, err := sess.Count(ctx, proj)
	if err != nil {
		return nil, nil, err
	}
	st.result.Total = total
	st.tracker.SetTotal(total)

	reader, err := sess.OpenReader(ctx, proj, st.plan.Request.BatchSize, 0)
	if err != nil {
		return nil, nil, err
	}
	writer, err := flatfile.CreateWriter(r.root, st.plan.Request.File)
	if err != nil {
		reader.Close()
		return nil, nil, err
	}
	return reader, writer, nil
}

func (r *Runner) openImport(ctx context.Context, sess *driver.Session, st *run) (batch.Reader, batch.Writer, error) {
	proj := st.plan.Projection
	tableCols, err := sess.ListColumns(ctx, proj.Table)
	if err != nil {
		return nil, nil, err
	}
	declared := make(map[string]string, len(tableCols))
	for _, c := range tableCols {
		declared[c.Name] = c.Type
	}

	var wanted []string
	for _, c := range proj.Columns {
		wanted = append(wanted, c.Column)
	}
	reader, err := flatfile.OpenReader(r.root, st.plan.Request.File, wanted, flatfile.ReaderOptions{
		BatchSize: st.plan.Request.BatchSize,
		Threshold: r.opts.MalformedThreshold,
	})
	if err != nil {
		return nil, nil, err
	}

	// The destination's declared types drive value conversion on insert.
	cols := make([]batch.Column, 0, len(reader.Schema()))
	for _, c := range reader.Schema() {
		typ, ok := declared[c.Name]
		if !ok {
			reader.Close()
			return nil, nil, &driver.SchemaLookupError{Table: proj.Table, Column: c.Name}
		}
		cols = append(cols, batch.Column{Name: c.Name, Type: typ})
	}
	writer, err := sess.NewWriter(ctx, proj.Table, cols)
	if err != nil {
		reader.Close()
		return nil, nil, err
	}
	return reader, writer, nil
}

// fillColumns selects every column of the base table.
func (r *Runner) fillColumns(ctx context.Context, sess *driver.Session, proj *driver.Projection) error {
	cols, err := sess.ListColumns(ctx, proj.Table)
	if err != nil {
		return err
	}
	spec := driver.TableSpec{Name: proj.Table, Columns: batch.Names(cols), Join: proj.Join}
	full, err := spec.Validate()
	if err != nil {
		return err
	}
	*proj = *full
	return nil
}

func (r *Runner) loop(ctx context.Context, reader batch.Reader, writer batch.Writer, st *run) error {
	dir := string(st.plan.Request.Direction)
	// Writes run to completion even when ctx is cancelled mid-batch.
	writeCtx := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			return ErrCancellationRequested
		}

		st.tracker.SetPhase(progress.PhaseReading)
		b, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var te *flatfile.ParseThresholdError
			if errors.As(err, &te) {
				st.addParseErrors(te.Errors)
			}
			if ctx.Err() != nil {
				return ErrCancellationRequested
			}
			return err
		}
		st.addParseErrors(b.ParseErrors)
		metrics.RecordRows(dir, metrics.KindParseErrors, int64(len(b.ParseErrors)))

		st.tracker.SetPhase(progress.PhaseWriting)
		n, err := writer.Write(writeCtx, b)
		if err != nil {
			return err
		}

		st.digest.Add(b)
		st.result.Rows += int64(n)
		st.result.Batches++
		st.tracker.AddBatch(n)
		metrics.RecordRows(dir, metrics.KindWritten, int64(n))
		metrics.RecordBatches(dir, 1)
		logging.Debug("Transfer %s: batch %d wrote %d rows (%d total)", st.result.Handle, b.Seq, n, st.result.Rows)
	}
}

func (st *run) addParseErrors(errs []flatfile.RowParseError) {
	st.result.ParseErrorCount += len(errs)
	if room := st.maxErrs - len(st.result.ParseErrors); room > 0 {
		if len(errs) > room {
			errs = errs[:room]
		}
		st.result.ParseErrors = append(st.result.ParseErrors, errs...)
	}
}

func (r *Runner) finish(st *run, err error) Result {
	res := &st.result
	res.Elapsed = time.Since(res.StartedAt)

	phase := progress.PhaseDone
	switch {
	case err == nil:
		res.Digest = fmt.Sprintf("%016x", st.digest.Sum())
	case errors.Is(err, ErrCancellationRequested), errors.Is(err, context.Canceled):
		phase = progress.PhaseCancelled
		err = ErrCancellationRequested
	default:
		phase = progress.PhaseFailed
	}
	res.Status = phase
	res.Err = err
	if err != nil {
		res.Error = err.Error()
	}

	snap := st.tracker.Finish(phase, err)
	if phase == progress.PhaseDone {
		res.Total = snap.Total
	}
	metrics.RecordTransfer(string(res.Direction), string(phase), res.Elapsed)

	switch phase {
	case progress.PhaseDone:
		logging.Info("Transfer %s done: %d rows in %d batches (%s), %d parse errors",
			res.Handle, res.Rows, res.Batches, res.Elapsed.Round(time.Millisecond), res.ParseErrorCount)
	case progress.PhaseCancelled:
		logging.Warn("Transfer %s cancelled after %d rows", res.Handle, res.Rows)
	default:
		logging.Error("Transfer %s failed after %d rows: %v", res.Handle, res.Rows, err)
	}
	return *res
}
