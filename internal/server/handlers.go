package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/johndauphine/chxfer/internal/checkpoint"
	"github.com/johndauphine/chxfer/internal/driver"
	"github.com/johndauphine/chxfer/internal/flatfile"
	"github.com/johndauphine/chxfer/internal/orchestrator"
	"github.com/johndauphine/chxfer/internal/progress"
	"github.com/johndauphine/chxfer/internal/transfer"
)

// fileBody is a FileSpec as clients send it: the delimiter is a string and
// the header flag defaults to true.
type fileBody struct {
	Path      string `json:"path"`
	Delimiter string `json:"delimiter"`
	Header    *bool  `json:"header"`
	Encoding  string `json:"encoding"`
}

func (f fileBody) spec() (flatfile.FileSpec, error) {
	d, err := flatfile.ParseDelimiter(f.Delimiter)
	if err != nil {
		return flatfile.FileSpec{}, badRequest{err}
	}
	header := true
	if f.Header != nil {
		header = *f.Header
	}
	return flatfile.FileSpec{Path: f.Path, Delimiter: d, Header: header, Encoding: f.Encoding}, nil
}

type transferBody struct {
	Direction  string                `json:"direction"`
	Connection driver.ConnectionSpec `json:"connection"`
	Table      driver.TableSpec      `json:"table"`
	File       fileBody              `json:"file"`
	BatchSize  int                   `json:"batch_size"`
	Limit      int                   `json:"limit"`
}

func (b transferBody) request() (transfer.Request, error) {
	dir, err := parseDirection(b.Direction)
	if err != nil {
		return transfer.Request{}, err
	}
	file, err := b.File.spec()
	if err != nil {
		return transfer.Request{}, err
	}
	if b.BatchSize < 0 {
		return transfer.Request{}, badRequest{fmt.Errorf("batch_size must be positive, got %d", b.BatchSize)}
	}
	return transfer.Request{
		Direction: dir,
		Conn:      b.Connection,
		Table:     b.Table,
		File:      file,
		BatchSize: b.BatchSize,
	}, nil
}

func parseDirection(s string) (transfer.Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(transfer.DBToFile), "EXPORT":
		return transfer.DBToFile, nil
	case string(transfer.FileToDB), "IMPORT":
		return transfer.FileToDB, nil
	default:
		return "", badRequest{fmt.Errorf("unknown direction %q (want %s or %s)", s, transfer.DBToFile, transfer.FileToDB)}
	}
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		abort(c, badRequest{fmt.Errorf("invalid request body: %w", err)}, http.StatusBadRequest)
		return false
	}
	return true
}

// transferView is a snapshot plus the result once the transfer is terminal.
type transferView struct {
	progress.Snapshot
	Percent float64          `json:"percent"`
	Result  *transfer.Result `json:"result,omitempty"`
}

func (s *Server) startTransfer(c *gin.Context) {
	var body transferBody
	if !bind(c, &body) {
		return
	}
	req, err := body.request()
	if err != nil {
		abort(c, err, http.StatusBadRequest)
		return
	}
	h, err := s.mgr.StartTransfer(c.Request.Context(), req)
	if err != nil {
		// Everything StartTransfer rejects is a validation failure.
		abort(c, err, http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"handle": h})
}

func (s *Server) listTransfers(c *gin.Context) {
	c.JSON(http.StatusOK, s.mgr.List())
}

func (s *Server) getTransfer(c *gin.Context) {
	h := orchestrator.Handle(c.Param("id"))
	snap, err := s.mgr.Progress(h)
	if err != nil {
		abort(c, err, http.StatusInternalServerError)
		return
	}
	view := transferView{Snapshot: snap, Percent: snap.Percent()}
	if res, done, err := s.mgr.Result(h); err == nil && done {
		view.Result = &res
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) cancelTransfer(c *gin.Context) {
	h := orchestrator.Handle(c.Param("id"))
	if err := s.mgr.Cancel(h); err != nil {
		abort(c, err, http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"handle": h, "status": "cancelling"})
}

func (s *Server) preview(c *gin.Context) {
	var body transferBody
	if !bind(c, &body) {
		return
	}
	req, err := body.request()
	if err != nil {
		abort(c, err, http.StatusBadRequest)
		return
	}
	pv, err := s.mgr.Preview(c.Request.Context(), transfer.PreviewRequest{
		Direction: req.Direction,
		Conn:      req.Conn,
		Table:     req.Table,
		File:      req.File,
		Limit:     body.Limit,
	})
	if err != nil {
		abort(c, err, http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, pv)
}

// columns lists a table's columns, or the database's tables when no table
// is named.
func (s *Server) columns(c *gin.Context) {
	var body struct {
		Connection driver.ConnectionSpec `json:"connection"`
		Table      string                `json:"table"`
	}
	if !bind(c, &body) {
		return
	}
	ctx := c.Request.Context()
	if body.Table == "" {
		tables, err := s.mgr.ListTables(ctx, body.Connection)
		if err != nil {
			abort(c, err, http.StatusBadGateway)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tables": tables})
		return
	}
	cols, err := s.mgr.ListColumns(ctx, body.Connection, body.Table)
	if err != nil {
		abort(c, err, http.StatusBadGateway)
		return
	}
	c.JSON(http.StatusOK, gin.H{"table": body.Table, "columns": cols})
}

func (s *Server) listFiles(c *gin.Context) {
	files, err := s.mgr.ListFiles()
	if err != nil {
		abort(c, err, http.StatusInternalServerError)
		return
	}
	if files == nil {
		files = []flatfile.FileInfo{}
	}
	c.JSON(http.StatusOK, files)
}

func (s *Server) fileColumns(c *gin.Context) {
	var body fileBody
	if !bind(c, &body) {
		return
	}
	spec, err := body.spec()
	if err != nil {
		abort(c, err, http.StatusBadRequest)
		return
	}
	names, err := s.mgr.FileColumns(spec)
	if err != nil {
		abort(c, err, http.StatusUnprocessableEntity)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": spec.Path, "columns": names})
}

func (s *Server) download(c *gin.Context) {
	rel := strings.TrimPrefix(c.Param("path"), "/")
	full, err := s.mgr.Root().Resolve(rel)
	if err != nil {
		abort(c, err, http.StatusBadRequest)
		return
	}
	info, err := os.Stat(full)
	if err != nil {
		abort(c, err, http.StatusInternalServerError)
		return
	}
	if info.IsDir() {
		abort(c, badRequest{fmt.Errorf("%s is a directory", rel)}, http.StatusBadRequest)
		return
	}
	c.FileAttachment(full, filepath.Base(full))
}

func (s *Server) history(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			abort(c, badRequest{fmt.Errorf("invalid limit %q", v)}, http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.mgr.History(limit)
	if err != nil {
		abort(c, err, http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []checkpoint.Record{}
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) health(c *gin.Context) {
	res, err := s.mgr.HealthCheck(c.Request.Context(), driver.ConnectionSpec{})
	if err != nil {
		abort(c, err, http.StatusInternalServerError)
		return
	}
	status := http.StatusOK
	if !res.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, res)
}
