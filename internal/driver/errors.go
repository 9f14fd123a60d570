package driver

import "fmt"

// AuthenticationError means the database rejected the credentials. It is not
// retried.
type AuthenticationError struct {
	User string
	Addr string
	Err  error
}

func (e *AuthenticationError) Error() string {
	if e.User == "" {
		return fmt.Sprintf("authentication failed: %v", e.Err)
	}
	return fmt.Sprintf("authentication failed for user %q at %s: %v", e.User, e.Addr, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// SchemaLookupError means a table or column could not be resolved.
type SchemaLookupError struct {
	Table  string
	Column string
	Err    error
}

func (e *SchemaLookupError) Error() string {
	switch {
	case e.Column != "" && e.Err != nil:
		return fmt.Sprintf("schema lookup failed for %s.%s: %v", e.Table, e.Column, e.Err)
	case e.Column != "":
		return fmt.Sprintf("schema lookup failed: column %q not found in %s", e.Column, e.Table)
	case e.Err != nil:
		return fmt.Sprintf("schema lookup failed for table %q: %v", e.Table, e.Err)
	default:
		return fmt.Sprintf("schema lookup failed: table %q not found", e.Table)
	}
}

func (e *SchemaLookupError) Unwrap() error { return e.Err }

// BatchWriteError means the destination rejected one batch. Batches before
// Seq were committed and stand.
type BatchWriteError struct {
	Seq   int
	Table string
	Rows  int
	Err   error
}

func (e *BatchWriteError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("batch %d (%d rows) rejected by %s: %v", e.Seq, e.Rows, e.Table, e.Err)
	}
	return fmt.Sprintf("batch %d (%d rows) rejected: %v", e.Seq, e.Rows, e.Err)
}

func (e *BatchWriteError) Unwrap() error { return e.Err }
