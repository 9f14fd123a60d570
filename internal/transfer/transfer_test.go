package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/johndauphine/chxfer/internal/driver"
	"github.com/johndauphine/chxfer/internal/flatfile"
	"github.com/johndauphine/chxfer/internal/ident"
	"github.com/johndauphine/chxfer/internal/progress"
	"github.com/johndauphine/chxfer/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
	onAdd  func(progress.Event)
}

func (r *recorder) Publish(ev progress.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if r.onAdd != nil {
		r.onAdd(ev)
	}
}

type fixture struct {
	db     *testutil.DB
	root   *flatfile.Root
	runner *Runner
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	root, err := flatfile.NewRoot(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	db := testutil.NewDB(t)
	return &fixture{db: db, root: root, runner: NewRunner(db, root, opts)}
}

func (f *fixture) run(t *testing.T, req Request) (Result, *recorder) {
	t.Helper()
	rec := &recorder{}
	return f.runner.Run(context.Background(), req, progress.NewTracker("test", rec)), rec
}

func (f *fixture) writeFile(t *testing.T, rel, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(f.root.Dir(), rel), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func exportReq(table string, cols []string, path string, batchSize int) Request {
	return Request{
		Direction: DBToFile,
		Table:     driver.TableSpec{Name: table, Columns: cols},
		File:      flatfile.FileSpec{Path: path, Header: true},
		BatchSize: batchSize,
	}
}

func importReq(table string, cols []string, path string, batchSize int) Request {
	return Request{
		Direction: FileToDB,
		Table:     driver.TableSpec{Name: table, Columns: cols},
		File:      flatfile.FileSpec{Path: path, Header: true},
		BatchSize: batchSize,
	}
}

func mustDone(t *testing.T, res Result) {
	t.Helper()
	if res.Status != progress.PhaseDone {
		t.Fatalf("status = %s, error = %v", res.Status, res.Err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	f := newFixture(t, Options{})
	f.db.Seed(t, "users", 2345)
	f.db.Exec(t, "CREATE TABLE users_copy (id INTEGER, name TEXT)")

	exp, _ := f.run(t, exportReq("users", []string{"id", "name"}, "users.csv", 500))
	mustDone(t, exp)
	if exp.Rows != 2345 || exp.Total != 2345 || exp.Batches != 5 {
		t.Errorf("export = %+v", exp)
	}

	imp, _ := f.run(t, importReq("users_copy", []string{"id", "name"}, "users.csv", 700))
	mustDone(t, imp)
	if imp.Rows != exp.Rows {
		t.Errorf("imported %d rows, exported %d", imp.Rows, exp.Rows)
	}
	if imp.Digest != exp.Digest {
		t.Errorf("digest mismatch: import %s, export %s", imp.Digest, exp.Digest)
	}
	if n := f.db.Count(t, "users_copy"); n != 2345 {
		t.Errorf("users_copy has %d rows", n)
	}

	again, _ := f.run(t, exportReq("users_copy", []string{"id", "name"}, "copy.csv", 1000))
	mustDone(t, again)
	if again.Digest != exp.Digest {
		t.Errorf("re-export digest %s != %s", again.Digest, exp.Digest)
	}
}

func TestBatchSizeInvariance(t *testing.T) {
	f := newFixture(t, Options{})
	f.db.Seed(t, "users", 503)

	var want []byte
	for _, size := range []int{1, 7, 100, 503, 10000} {
		path := fmt.Sprintf("users_%d.csv", size)
		res, _ := f.run(t, exportReq("users", []string{"id", "name"}, path, size))
		mustDone(t, res)
		if res.Rows != 503 {
			t.Errorf("batch size %d: rows = %d", size, res.Rows)
		}
		got, err := os.ReadFile(filepath.Join(f.root.Dir(), path))
		if err != nil {
			t.Fatal(err)
		}
		if want == nil {
			want = got
			continue
		}
		if string(got) != string(want) {
			t.Errorf("batch size %d produced different file contents", size)
		}
	}
}

func TestProgressSnapshotsPerBatch(t *testing.T) {
	if testing.Short() {
		t.Skip("seeds 250,000 rows")
	}
	f := newFixture(t, Options{})
	f.db.Seed(t, "events", 250000)

	res, rec := f.run(t, exportReq("events", []string{"id", "name"}, "events.csv", 10000))
	mustDone(t, res)

	if len(rec.events) != 26 {
		t.Fatalf("events = %d, want 25 intermediate + 1 terminal", len(rec.events))
	}
	var last int64
	for i, ev := range rec.events[:25] {
		if ev.Phase.Terminal() {
			t.Errorf("event %d is terminal: %+v", i, ev)
		}
		if ev.Rows <= last {
			t.Errorf("event %d rows %d not greater than %d", i, ev.Rows, last)
		}
		if ev.Total != 250000 {
			t.Errorf("event %d total = %d", i, ev.Total)
		}
		last = ev.Rows
	}
	final := rec.events[25]
	if final.Phase != progress.PhaseDone || final.Rows != 250000 {
		t.Errorf("final event = %+v", final)
	}
}

func TestImportCollectsMalformedRows(t *testing.T) {
	f := newFixture(t, Options{})
	f.db.Exec(t, "CREATE TABLE people (id INTEGER, name TEXT)")

	var sb strings.Builder
	sb.WriteString("id,name\n")
	for i := 1; i <= 1000; i++ {
		switch i {
		case 100, 200, 300:
			fmt.Fprintf(&sb, "%d\n", i)
		default:
			fmt.Fprintf(&sb, "%d,p%d\n", i, i)
		}
	}
	f.writeFile(t, "people.csv", sb.String())

	res, _ := f.run(t, importReq("people", []string{"id", "name"}, "people.csv", 0))
	mustDone(t, res)
	if res.Rows != 997 {
		t.Errorf("rows = %d, want 997", res.Rows)
	}
	if len(res.ParseErrors) != 3 || res.ParseErrorCount != 3 {
		t.Errorf("parse errors = %v (count %d)", res.ParseErrors, res.ParseErrorCount)
	}
	if n := f.db.Count(t, "people"); n != 997 {
		t.Errorf("table has %d rows", n)
	}
}

func TestImportTooManyMalformedRowsFails(t *testing.T) {
	f := newFixture(t, Options{})
	f.db.Exec(t, "CREATE TABLE people (id INTEGER, name TEXT)")
	f.writeFile(t, "bad.csv", "id,name\n1,a\n2\n3\n4,d\n")

	res, _ := f.run(t, importReq("people", nil, "bad.csv", 0))
	if res.Status != progress.PhaseFailed {
		t.Fatalf("status = %s", res.Status)
	}
	var te *flatfile.ParseThresholdError
	if !errors.As(res.Err, &te) {
		t.Errorf("error = %v, want ParseThresholdError", res.Err)
	}
	if res.ParseErrorCount != 2 {
		t.Errorf("parse error count = %d", res.ParseErrorCount)
	}
}

func TestImportFailureKeepsEarlierBatches(t *testing.T) {
	f := newFixture(t, Options{})
	f.db.Exec(t,
		"CREATE TABLE target (id INTEGER, name TEXT)",
		`CREATE TRIGGER reject_4001 BEFORE INSERT ON target
		 WHEN CAST(NEW.id AS INTEGER) = 4001
		 BEGIN SELECT RAISE(ABORT, 'rejected row 4001'); END`,
	)
	var sb strings.Builder
	sb.WriteString("id,name\n")
	for i := 1; i <= 10000; i++ {
		fmt.Fprintf(&sb, "%d,n%d\n", i, i)
	}
	f.writeFile(t, "rows.csv", sb.String())

	res, rec := f.run(t, importReq("target", []string{"id", "name"}, "rows.csv", 1000))
	if res.Status != progress.PhaseFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Rows != 4000 || res.Batches != 4 {
		t.Errorf("rows = %d, batches = %d; want 4000, 4", res.Rows, res.Batches)
	}
	var bwe *driver.BatchWriteError
	if !errors.As(res.Err, &bwe) || bwe.Seq != 5 {
		t.Errorf("error = %v, want BatchWriteError for batch 5", res.Err)
	}
	if n := f.db.Count(t, "target"); n != 4000 {
		t.Errorf("table has %d rows, want 4000", n)
	}
	final := rec.events[len(rec.events)-1]
	if final.Phase != progress.PhaseFailed || final.Rows != 4000 || !strings.Contains(final.Error, "batch 5") {
		t.Errorf("terminal event = %+v", final)
	}
}

func TestValidationFailsBeforeSession(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		check func(error) bool
	}{
		{
			name:  "injected column",
			req:   exportReq("users", []string{"users; DROP TABLE x"}, "out.csv", 0),
			check: func(err error) bool { return errors.Is(err, ident.ErrInvalidIdentifier) },
		},
		{
			name:  "injected table",
			req:   importReq("users;--", nil, "in.csv", 0),
			check: func(err error) bool { return errors.Is(err, ident.ErrInvalidIdentifier) },
		},
		{
			name: "path escape",
			req:  exportReq("users", []string{"id"}, "../../etc/cron.d/x", 0),
			check: func(err error) bool {
				var pe *flatfile.PathError
				return errors.As(err, &pe)
			},
		},
		{
			name:  "unknown direction",
			req:   Request{Direction: "SIDEWAYS", Table: driver.TableSpec{Name: "users"}},
			check: func(err error) bool { return err != nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			res, _ := f.run(t, tt.req)
			if res.Status != progress.PhaseFailed || !tt.check(res.Err) {
				t.Errorf("status = %s, error = %v", res.Status, res.Err)
			}
			if f.db.Opens() != 0 {
				t.Errorf("session opened %d times", f.db.Opens())
			}
			if _, err := f.runner.Prepare(tt.req); !tt.check(err) {
				t.Errorf("Prepare error = %v", err)
			}
		})
	}
}

func TestAuthenticationFailure(t *testing.T) {
	f := newFixture(t, Options{})
	req := exportReq("users", []string{"id"}, "out.csv", 0)
	req.Conn = driver.ConnectionSpec{Host: "localhost", Port: 9000, User: "default", Token: testutil.BadToken}

	res, _ := f.run(t, req)
	var ae *driver.AuthenticationError
	if res.Status != progress.PhaseFailed || !errors.As(res.Err, &ae) {
		t.Errorf("status = %s, error = %v", res.Status, res.Err)
	}
}

func TestUnknownTable(t *testing.T) {
	f := newFixture(t, Options{})
	res, _ := f.run(t, exportReq("ghost", []string{"id"}, "out.csv", 0))
	var se *driver.SchemaLookupError
	if !errors.As(res.Err, &se) {
		t.Errorf("error = %v, want SchemaLookupError", res.Err)
	}

	f.db.Exec(t, "CREATE TABLE people (id INTEGER)")
	f.writeFile(t, "p.csv", "id,email\n1,a@b\n")
	res, _ = f.run(t, importReq("people", []string{"id", "email"}, "p.csv", 0))
	if !errors.As(res.Err, &se) || se.Column != "email" {
		t.Errorf("error = %v, want SchemaLookupError for email", res.Err)
	}
}

func TestCancellationBetweenBatches(t *testing.T) {
	f := newFixture(t, Options{})
	f.db.Seed(t, "users", 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{}
	rec.onAdd = func(ev progress.Event) {
		if ev.Batches == 2 {
			cancel()
		}
	}

	res := f.runner.Run(ctx, exportReq("users", []string{"id", "name"}, "u.csv", 10), progress.NewTracker("c", rec))
	if res.Status != progress.PhaseCancelled {
		t.Fatalf("status = %s, error = %v", res.Status, res.Err)
	}
	if !errors.Is(res.Err, ErrCancellationRequested) {
		t.Errorf("error = %v", res.Err)
	}
	if res.Rows != 20 || res.Batches != 2 {
		t.Errorf("rows = %d, batches = %d; want 20, 2", res.Rows, res.Batches)
	}
	if final := rec.events[len(rec.events)-1]; final.Phase != progress.PhaseCancelled {
		t.Errorf("terminal event = %+v", final)
	}
}

func TestExportGeneratesFileName(t *testing.T) {
	f := newFixture(t, Options{})
	f.db.Seed(t, "orders", 3)

	res, _ := f.run(t, exportReq("orders", nil, "", 0))
	mustDone(t, res)
	if !strings.HasPrefix(res.File, "export_orders_") || !strings.HasSuffix(res.File, ".csv") {
		t.Errorf("file = %q", res.File)
	}
	data, err := os.ReadFile(filepath.Join(f.root.Dir(), res.File))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "id,name\n1,name-1\n") {
		t.Errorf("file starts %q", string(data))
	}
}

func TestExportEmptyTableWritesHeader(t *testing.T) {
	f := newFixture(t, Options{})
	f.db.Exec(t, "CREATE TABLE empty (a INTEGER, b TEXT)")

	res, rec := f.run(t, exportReq("empty", []string{"a", "b"}, "empty.csv", 0))
	mustDone(t, res)
	if res.Rows != 0 || res.Total != 0 || len(rec.events) != 1 {
		t.Errorf("result = %+v, events = %d", res, len(rec.events))
	}
	data, _ := os.ReadFile(filepath.Join(f.root.Dir(), "empty.csv"))
	if string(data) != "a,b\n" {
		t.Errorf("file = %q", data)
	}
}

func TestExportWithJoin(t *testing.T) {
	f := newFixture(t, Options{})
	f.db.Exec(t,
		"CREATE TABLE orders (id INTEGER, customer_id INTEGER)",
		"CREATE TABLE customers (id INTEGER, name TEXT)",
		"INSERT INTO customers VALUES (1, 'ann')",
		"INSERT INTO orders VALUES (10, 1), (11, 2)",
	)
	req := exportReq("orders", []string{"id", "customers.name"}, "joined.csv", 0)
	req.Table.Join = &driver.JoinSpec{Table: "customers", LeftKey: "customer_id", RightKey: "id", Kind: driver.JoinLeft}

	res, _ := f.run(t, req)
	mustDone(t, res)
	data, _ := os.ReadFile(filepath.Join(f.root.Dir(), "joined.csv"))
	if string(data) != "id,customers.name\n10,ann\n11,\n" {
		t.Errorf("file = %q", data)
	}
}

func TestPreviewIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	f.db.Seed(t, "users", 250)

	req := PreviewRequest{Direction: DBToFile, Table: driver.TableSpec{Name: "users", Columns: []string{"id", "name"}}}
	first, err := f.runner.Preview(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.runner.Preview(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Rows) != DefaultPreviewLimit {
		t.Errorf("preview rows = %d", len(first.Rows))
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("repeated previews differ")
	}

	req.Limit = 5
	small, err := f.runner.Preview(context.Background(), req)
	if err != nil || len(small.Rows) != 5 {
		t.Errorf("limited preview = %v, %v", small, err)
	}
	if files, _ := f.runner.ListFiles(); len(files) != 0 {
		t.Errorf("preview wrote files: %v", files)
	}
}

func TestPreviewFile(t *testing.T) {
	f := newFixture(t, Options{})
	var sb strings.Builder
	sb.WriteString("a,b\n")
	for i := 0; i < 150; i++ {
		fmt.Fprintf(&sb, "%d,x\n", i)
	}
	f.writeFile(t, "big.csv", sb.String())

	p, err := f.runner.Preview(context.Background(), PreviewRequest{
		Direction: FileToDB,
		Table:     driver.TableSpec{Columns: []string{"b", "a"}},
		File:      flatfile.FileSpec{Path: "big.csv", Header: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Rows) != 100 || p.Rows[0][0] != "x" || p.Rows[0][1] != "0" {
		t.Errorf("preview = %d rows, first %v", len(p.Rows), p.Rows[0])
	}
	if f.db.Opens() != 0 {
		t.Error("file preview opened a session")
	}
}

func TestColumnsAndTables(t *testing.T) {
	f := newFixture(t, Options{})
	f.db.Seed(t, "users", 1)

	cols, err := f.runner.Columns(context.Background(), driver.ConnectionSpec{}, "users")
	if err != nil || len(cols) != 2 || cols[0].Name != "id" {
		t.Errorf("Columns = %v, %v", cols, err)
	}
	tables, err := f.runner.Tables(context.Background(), driver.ConnectionSpec{})
	if err != nil || len(tables) != 1 || tables[0] != "users" {
		t.Errorf("Tables = %v, %v", tables, err)
	}
}
