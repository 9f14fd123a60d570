package clickhouse

import (
	"fmt"
	"testing"

	ch "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/johndauphine/chxfer/internal/driver"
)

func TestQuoteIdentifier(t *testing.T) {
	d := &Dialect{}
	tests := []struct{ in, want string }{
		{"users", "`users`"},
		{"a`b", "`a``b`"},
	}
	for _, tt := range tests {
		if got := d.QuoteIdentifier(tt.in); got != tt.want {
			t.Errorf("QuoteIdentifier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	d := &Dialect{}
	tests := []struct {
		code        int32
		auth, table bool
	}{
		{codeAuthFailed, true, false},
		{codeWrongPassword, true, false},
		{codeUnknownUser, true, false},
		{codeUnknownTable, false, true},
		{codeUnknownDatabase, false, true},
		{62, false, false}, // syntax error
	}
	for _, tt := range tests {
		err := fmt.Errorf("query: %w", &ch.Exception{Code: tt.code, Message: "x"})
		if got := d.IsAuthError(err); got != tt.auth {
			t.Errorf("IsAuthError(code %d) = %v", tt.code, got)
		}
		if got := d.IsUnknownTable(err); got != tt.table {
			t.Errorf("IsUnknownTable(code %d) = %v", tt.code, got)
		}
	}
	if d.IsAuthError(fmt.Errorf("plain")) {
		t.Error("plain error classified as auth failure")
	}
}

func TestRegistered(t *testing.T) {
	for _, name := range []string{"clickhouse", "ch", "ClickHouse"} {
		drv, err := driver.Get(name)
		if err != nil {
			t.Fatalf("Get(%q): %v", name, err)
		}
		if drv.Dialect().DBType() != "clickhouse" || drv.DefaultPort() != DefaultPort {
			t.Errorf("Get(%q) returned %s", name, drv.Name())
		}
	}
}
