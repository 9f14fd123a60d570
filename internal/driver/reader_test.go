package driver_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/johndauphine/chxfer/internal/driver"
	"github.com/johndauphine/chxfer/internal/testutil"
)

func TestRowReaderBatches(t *testing.T) {
	db := testutil.NewDB(t)
	db.Seed(t, "users", 25)

	s, err := db.Open(context.Background(), driver.ConnectionSpec{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	p, err := driver.TableSpec{Name: "users", Columns: []string{"id", "name"}}.Validate()
	if err != nil {
		t.Fatal(err)
	}
	r, err := s.OpenReader(context.Background(), p, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if got := r.Schema(); len(got) != 2 || got[0].Name != "id" || got[1].Name != "name" {
		t.Errorf("schema = %v", got)
	}

	var sizes []int
	var seqs []int
	for {
		b, err := r.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		sizes = append(sizes, b.Len())
		seqs = append(seqs, b.Seq)
	}
	if len(sizes) != 3 || sizes[0] != 10 || sizes[1] != 10 || sizes[2] != 5 {
		t.Errorf("batch sizes = %v", sizes)
	}
	if seqs[2] != 3 {
		t.Errorf("seqs = %v", seqs)
	}
	if _, err := r.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Next after EOF = %v", err)
	}
}

func TestRowReaderJoin(t *testing.T) {
	db := testutil.NewDB(t)
	db.Exec(t,
		"CREATE TABLE orders (id INTEGER, customer_id INTEGER, total INTEGER)",
		"CREATE TABLE customers (id INTEGER, name TEXT)",
		"INSERT INTO customers VALUES (1, 'ann'), (2, 'bob')",
		"INSERT INTO orders VALUES (10, 1, 100), (11, 2, 200), (12, 3, 300)",
	)
	s, err := db.Open(context.Background(), driver.ConnectionSpec{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	tests := []struct {
		kind driver.JoinKind
		want int
	}{
		{driver.JoinInner, 2},
		{driver.JoinLeft, 3},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			p, err := driver.TableSpec{
				Name:    "orders",
				Columns: []string{"id", "customers.name", "total"},
				Join:    &driver.JoinSpec{Table: "customers", LeftKey: "customer_id", RightKey: "id", Kind: tt.kind},
			}.Validate()
			if err != nil {
				t.Fatal(err)
			}
			n, err := s.Count(context.Background(), p)
			if err != nil {
				t.Fatal(err)
			}
			if n != int64(tt.want) {
				t.Errorf("Count = %d, want %d", n, tt.want)
			}

			r, err := s.OpenReader(context.Background(), p, 100, 0)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()
			b, err := r.Next(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if b.Len() != tt.want {
				t.Errorf("rows = %d, want %d", b.Len(), tt.want)
			}
			if got := r.Schema()[1].Name; got != "customers.name" {
				t.Errorf("schema name = %q", got)
			}
		})
	}
}

func TestOpenReaderUnknownTable(t *testing.T) {
	db := testutil.NewDB(t)
	s, err := db.Open(context.Background(), driver.ConnectionSpec{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	p, _ := driver.TableSpec{Name: "ghost", Columns: []string{"id"}}.Validate()
	_, err = s.OpenReader(context.Background(), p, 10, 0)
	var se *driver.SchemaLookupError
	if !errors.As(err, &se) {
		t.Errorf("expected SchemaLookupError, got %v", err)
	}
}

func TestListTables(t *testing.T) {
	db := testutil.NewDB(t)
	db.Exec(t, "CREATE TABLE b (x INTEGER)", "CREATE TABLE a (x INTEGER)")
	s, err := db.Open(context.Background(), driver.ConnectionSpec{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	tables, err := s.ListTables(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 2 || tables[0] != "a" || tables[1] != "b" {
		t.Errorf("tables = %v", tables)
	}
}
