package flatfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/johndauphine/chxfer/internal/batch"
	"github.com/johndauphine/chxfer/internal/driver"
)

func newRoot(t *testing.T) *Root {
	t.Helper()
	root, err := NewRoot(t.TempDir())
	if err != nil {
		t.Fatalf("NewRoot: %v", err)
	}
	return root
}

func writeFile(t *testing.T, root *Root, rel, content string) {
	t.Helper()
	full := filepath.Join(root.Dir(), rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readAll(t *testing.T, r *Reader) ([][]any, []RowParseError) {
	t.Helper()
	var rows [][]any
	var perrs []RowParseError
	for {
		b, err := r.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return rows, perrs
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		rows = append(rows, b.Rows...)
		perrs = append(perrs, b.ParseErrors...)
	}
}

func TestResolve(t *testing.T) {
	root := newRoot(t)

	tests := []struct {
		path    string
		wantErr bool
	}{
		{"data.csv", false},
		{"exports/2024/data.csv", false},
		{"a/../b.csv", false},
		{"", true},
		{"   ", true},
		{"../outside.csv", true},
		{"a/../../outside.csv", true},
		{"..", true},
		{".", true},
		{"/etc/passwd", true},
		{"bad\x00name", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := root.Resolve(tt.path)
			if tt.wantErr {
				var pe *PathError
				if !errors.As(err, &pe) {
					t.Fatalf("Resolve(%q) = %q, %v; want PathError", tt.path, got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.path, err)
			}
			if !strings.HasPrefix(got, root.Dir()+string(filepath.Separator)) {
				t.Errorf("Resolve(%q) = %q, not under %q", tt.path, got, root.Dir())
			}
		})
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	root := newRoot(t)
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root.Dir(), "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	var pe *PathError
	if _, err := root.Resolve("link/secret.csv"); !errors.As(err, &pe) {
		t.Errorf("expected PathError for symlinked escape, got %v", err)
	}
}

func TestReaderProjectsHeaderColumns(t *testing.T) {
	root := newRoot(t)
	writeFile(t, root, "people.csv", "\uFEFFid,name,age\n1,ann,30\n2,bob,41\n")

	r, err := OpenReader(root, FileSpec{Path: "people.csv", Header: true}, []string{"age", "id"}, ReaderOptions{})
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	if got := batch.Names(r.Schema()); strings.Join(got, ",") != "age,id" {
		t.Errorf("schema = %v", got)
	}
	rows, perrs := readAll(t, r)
	if len(perrs) != 0 {
		t.Errorf("unexpected parse errors: %v", perrs)
	}
	want := [][]any{{"30", "1"}, {"41", "2"}}
	if fmt.Sprint(rows) != fmt.Sprint(want) {
		t.Errorf("rows = %v, want %v", rows, want)
	}
}

func TestReaderMissingColumn(t *testing.T) {
	root := newRoot(t)
	writeFile(t, root, "people.csv", "id,name\n1,ann\n")

	_, err := OpenReader(root, FileSpec{Path: "people.csv", Header: true}, []string{"id", "email"}, ReaderOptions{})
	var se *driver.SchemaLookupError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaLookupError, got %v", err)
	}
	if se.Column != "email" {
		t.Errorf("Column = %q, want email", se.Column)
	}
}

func TestReaderCollectsMalformedRecords(t *testing.T) {
	root := newRoot(t)
	var sb strings.Builder
	sb.WriteString("id,name\n")
	for i := 1; i <= 1000; i++ {
		switch i {
		case 10:
			sb.WriteString("10\n") // too few fields
		case 500:
			sb.WriteString("500,x,extra\n") // too many fields
		case 900:
			sb.WriteString("900,bad\"quote\n")
		default:
			fmt.Fprintf(&sb, "%d,name%d\n", i, i)
		}
	}
	writeFile(t, root, "rows.csv", sb.String())

	r, err := OpenReader(root, FileSpec{Path: "rows.csv", Header: true}, nil, ReaderOptions{})
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	rows, perrs := readAll(t, r)
	if len(rows) != 997 {
		t.Errorf("rows = %d, want 997", len(rows))
	}
	if len(perrs) != 3 {
		t.Fatalf("parse errors = %d, want 3: %v", len(perrs), perrs)
	}
	wantLines := []int{11, 501, 901}
	for i, pe := range perrs {
		if pe.Line != wantLines[i] {
			t.Errorf("parse error %d at line %d, want %d (%s)", i, pe.Line, wantLines[i], pe.Reason)
		}
	}
}

func TestReaderThreshold(t *testing.T) {
	root := newRoot(t)
	var sb strings.Builder
	for i := 1; i <= 100; i++ {
		if i%10 == 0 {
			sb.WriteString("only-one-field\n")
			continue
		}
		fmt.Fprintf(&sb, "%d,v\n", i)
	}
	writeFile(t, root, "noisy.csv", sb.String())

	r, err := OpenReader(root, FileSpec{Path: "noisy.csv"}, []string{"id", "v"}, ReaderOptions{BatchSize: 50})
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	_, err = r.Next(context.Background())
	var te *ParseThresholdError
	if !errors.As(err, &te) {
		t.Fatalf("expected ParseThresholdError, got %v", err)
	}
	if te.Seq != 1 || te.Malformed != 5 || te.Records != 50 {
		t.Errorf("got %+v", te)
	}
}

func TestReaderBatchesByRecordCount(t *testing.T) {
	root := newRoot(t)
	var sb strings.Builder
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&sb, "%d\n", i)
	}
	writeFile(t, root, "n.csv", sb.String())

	r, err := OpenReader(root, FileSpec{Path: "n.csv"}, []string{"n"}, ReaderOptions{BatchSize: 10})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var sizes []int
	for {
		b, err := r.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		sizes = append(sizes, b.Len())
	}
	if fmt.Sprint(sizes) != "[10 10 5]" {
		t.Errorf("batch sizes = %v", sizes)
	}
}

func TestReaderDecodesLatin1(t *testing.T) {
	root := newRoot(t)
	writeFile(t, root, "latin.csv", "city\nM\xfcnchen\n")

	r, err := OpenReader(root, FileSpec{Path: "latin.csv", Header: true, Encoding: "latin1"}, nil, ReaderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	rows, perrs := readAll(t, r)
	if len(perrs) != 0 || len(rows) != 1 || rows[0][0] != "München" {
		t.Errorf("rows = %v, errors = %v", rows, perrs)
	}
}

func TestReaderRejectsInvalidUTF8(t *testing.T) {
	root := newRoot(t)
	var sb strings.Builder
	sb.WriteString("city\n")
	for i := 0; i < 40; i++ {
		sb.WriteString("Berlin\n")
	}
	sb.WriteString("M\xfcnchen\n")
	writeFile(t, root, "mixed.csv", sb.String())

	r, err := OpenReader(root, FileSpec{Path: "mixed.csv", Header: true}, nil, ReaderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	rows, perrs := readAll(t, r)
	if len(rows) != 40 || len(perrs) != 1 {
		t.Errorf("rows = %d, parse errors = %v", len(rows), perrs)
	}
}

func TestWriterHeaderOnce(t *testing.T) {
	root := newRoot(t)
	spec := FileSpec{Path: "out/export.csv", Delimiter: ';', Header: true}

	w, err := CreateWriter(root, spec)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	schema := []batch.Column{{Name: "id"}, {Name: "note"}}
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	batches := []*batch.Batch{
		{Seq: 1, Schema: schema, Rows: [][]any{{int64(1), "a;b"}, {int64(2), nil}}},
		{Seq: 2, Schema: schema, Rows: [][]any{{int64(3), ts}}},
	}
	for _, b := range batches {
		n, err := w.Write(context.Background(), b)
		if err != nil || n != b.Len() {
			t.Fatalf("Write batch %d = %d, %v", b.Seq, n, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(root.Dir(), "out", "export.csv"))
	if err != nil {
		t.Fatal(err)
	}
	want := "id;note\n1;\"a;b\"\n2;\n3;2024-01-02 03:04:05\n"
	if string(got) != want {
		t.Errorf("file = %q, want %q", got, want)
	}
}

func TestWriterHeaderForEmptyResult(t *testing.T) {
	root := newRoot(t)
	w, err := CreateWriter(root, FileSpec{Path: "empty.csv", Header: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteHeader([]batch.Column{{Name: "a"}, {Name: "b"}}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(filepath.Join(root.Dir(), "empty.csv"))
	if string(got) != "a,b\n" {
		t.Errorf("file = %q", got)
	}
}

func TestWriterRefusesEscape(t *testing.T) {
	root := newRoot(t)
	_, err := CreateWriter(root, FileSpec{Path: "../escape.csv"})
	var pe *PathError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PathError, got %v", err)
	}
}

func TestFileColumns(t *testing.T) {
	root := newRoot(t)
	writeFile(t, root, "h.csv", "a|b|c\n1|2|3\n")

	cols, err := FileColumns(root, FileSpec{Path: "h.csv", Delimiter: '|', Header: true})
	if err != nil || strings.Join(cols, ",") != "a,b,c" {
		t.Errorf("with header: %v, %v", cols, err)
	}
	cols, err = FileColumns(root, FileSpec{Path: "h.csv", Delimiter: '|'})
	if err != nil || strings.Join(cols, ",") != "column_1,column_2,column_3" {
		t.Errorf("without header: %v, %v", cols, err)
	}

	writeFile(t, root, "empty.csv", "")
	var se *driver.SchemaLookupError
	if _, err := FileColumns(root, FileSpec{Path: "empty.csv", Header: true}); !errors.As(err, &se) {
		t.Errorf("empty file: %v", err)
	}
}

func TestList(t *testing.T) {
	root := newRoot(t)
	writeFile(t, root, "b.csv", "x\n")
	writeFile(t, root, "a/c.csv", "y\n")

	files, err := root.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || files[0].Path != "a/c.csv" || files[1].Path != "b.csv" {
		t.Errorf("files = %+v", files)
	}
}

func TestExportName(t *testing.T) {
	got := ExportName("orders", time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC))
	if got != "export_orders_20240506_070809.csv" {
		t.Errorf("ExportName = %q", got)
	}
}

func TestFileSpecValidate(t *testing.T) {
	tests := []struct {
		spec    FileSpec
		wantErr bool
	}{
		{FileSpec{}, false},
		{FileSpec{Delimiter: '\t'}, false},
		{FileSpec{Encoding: "windows-1252"}, false},
		{FileSpec{Delimiter: '"'}, true},
		{FileSpec{Delimiter: '\n'}, true},
		{FileSpec{Encoding: "ebcdic"}, true},
	}
	for _, tt := range tests {
		err := tt.spec.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("Validate(%+v) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
		}
	}
}
