package batch

import (
	"context"
	"testing"
	"time"
)

func TestFormatValue(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	s := "ptr"

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "abc", "abc"},
		{"bytes", []byte("raw"), "raw"},
		{"string pointer", &s, "ptr"},
		{"nil string pointer", (*string)(nil), ""},
		{"int64", int64(-42), "-42"},
		{"int", 7, "7"},
		{"uint8", uint8(255), "255"},
		{"float", 1.5, "1.5"},
		{"bool true", true, "1"},
		{"bool false", false, "0"},
		{"time", ts, "2024-03-09 14:05:07"},
		{"time with fraction", ts.Add(120 * time.Millisecond), "2024-03-09 14:05:07.12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatValue(tt.in); got != tt.want {
				t.Errorf("FormatValue(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCollectorCapsRows(t *testing.T) {
	c := NewCollector(5)
	schema := []Column{{Name: "id", Type: "Int64"}}

	b1 := &Batch{Seq: 1, Schema: schema, Rows: [][]any{{1}, {2}, {3}}}
	b2 := &Batch{Seq: 2, Schema: schema, Rows: [][]any{{4}, {5}, {6}}, ParseErrors: []ParseError{{Line: 9, Reason: "bad"}}}

	n, err := c.Write(context.Background(), b1)
	if err != nil || n != 3 {
		t.Fatalf("first Write = %d, %v", n, err)
	}
	n, err = c.Write(context.Background(), b2)
	if err != nil || n != 2 {
		t.Fatalf("second Write = %d, %v, want 2", n, err)
	}
	if !c.Full() {
		t.Error("collector should be full")
	}
	if len(c.Rows) != 5 {
		t.Errorf("rows = %d, want 5", len(c.Rows))
	}
	if len(c.ParseErrors) != 1 {
		t.Errorf("parse errors = %d, want 1", len(c.ParseErrors))
	}
	if n, _ := c.Write(context.Background(), b1); n != 0 {
		t.Errorf("write past limit kept %d rows", n)
	}
}

func TestDigestIsOrderIndependent(t *testing.T) {
	rows := [][]any{{int64(1), "a"}, {int64(2), "b"}, {int64(3), nil}}

	var forward, backward Digest
	forward.Add(&Batch{Rows: rows})
	for i := len(rows) - 1; i >= 0; i-- {
		backward.AddRow(rows[i])
	}
	if forward.Sum() != backward.Sum() {
		t.Errorf("digest depends on order: %x != %x", forward.Sum(), backward.Sum())
	}
	if forward.Count() != 3 {
		t.Errorf("Count = %d, want 3", forward.Count())
	}

	// Typed and textual renderings of the same row must agree.
	var text Digest
	text.Add(&Batch{Rows: [][]any{{"3", ""}, {"1", "a"}, {"2", "b"}}})
	if text.Sum() != forward.Sum() {
		t.Errorf("textual digest %x != typed digest %x", text.Sum(), forward.Sum())
	}

	var other Digest
	other.Add(&Batch{Rows: [][]any{{int64(1), "a"}, {int64(2), "c"}, {int64(3), nil}}})
	if other.Sum() == forward.Sum() {
		t.Error("different contents produced the same digest")
	}
}
