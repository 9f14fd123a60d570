// Package exitcodes defines standard exit codes for CLI operations so that
// schedulers such as Airflow and Kubernetes can decide whether to retry.
package exitcodes

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/johndauphine/chxfer/internal/driver"
	"github.com/johndauphine/chxfer/internal/flatfile"
	"github.com/johndauphine/chxfer/internal/ident"
	"github.com/johndauphine/chxfer/internal/transfer"
)

const (
	// Success - transfer completed without errors
	Success = 0

	// ConfigError - configuration/YAML/JSON parsing errors (non-recoverable, don't retry)
	ConfigError = 1

	// ConnectionError - ClickHouse unreachable or credentials rejected (recoverable)
	ConnectionError = 2

	// TransferError - a batch write failed or too many malformed records (non-recoverable)
	TransferError = 3

	// ValidationError - bad identifier, unknown table/column, or path outside the storage root (non-recoverable)
	ValidationError = 4

	// Cancelled - user cancelled via SIGINT/SIGTERM (recoverable)
	Cancelled = 5

	// StateError - transfer history store errors (non-recoverable)
	StateError = 6

	// IOError - file I/O errors (recoverable)
	IOError = 7
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Err  error
	Code int
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code.
func NewExitError(err error, code int) *ExitError {
	return &ExitError{Err: err, Code: code}
}

// FromError determines the appropriate exit code for an error.
// Typed errors are matched first; the message is examined only for errors
// from outside the engine.
func FromError(err error) int {
	if err == nil {
		return Success
	}

	var (
		exitErr   *ExitError
		authErr   *driver.AuthenticationError
		schemaErr *driver.SchemaLookupError
		writeErr  *driver.BatchWriteError
		pathErr   *flatfile.PathError
		parseErr  *flatfile.ParseThresholdError
		osPathErr *os.PathError
	)
	switch {
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.Is(err, transfer.ErrCancellationRequested), errors.Is(err, context.Canceled):
		return Cancelled
	case errors.As(err, &authErr):
		return ConnectionError
	case errors.Is(err, ident.ErrInvalidIdentifier), errors.As(err, &schemaErr), errors.As(err, &pathErr):
		return ValidationError
	case errors.As(err, &writeErr), errors.As(err, &parseErr):
		return TransferError
	case errors.As(err, &osPathErr):
		return IOError
	}

	errStr := strings.ToLower(err.Error())

	// IO errors - check early for file-related errors (exit code 7)
	if containsAny(errStr, []string{
		"no such file",
		"file not found",
		"permission denied",
		"is a directory",
		"not a directory",
	}) {
		return IOError
	}

	// Config errors (exit code 1) - parsing issues, not validation of data
	if containsAny(errStr, []string{
		"yaml:",
		"json:",
		"unmarshal",
		"invalid config",
		"missing required",
		"invalid value",
		"parsing config",
	}) && !containsAny(errStr, []string{"connection", "connect", "dial"}) {
		return ConfigError
	}

	// Connection errors (exit code 2)
	if containsAny(errStr, []string{
		"connection",
		"connect",
		"dial",
		"refused",
		"timeout",
		"unreachable",
		"no such host",
		"network",
		"ping",
		"authentication",
	}) {
		return ConnectionError
	}

	if containsAny(errStr, []string{
		"cancel",
		"interrupt",
		"context deadline",
	}) {
		return Cancelled
	}

	if containsAny(errStr, []string{
		"history",
		"not found in history",
	}) {
		return StateError
	}

	// Default to transfer error for unknown errors
	return TransferError
}

// IsRecoverable returns true if the error is recoverable (safe to retry).
func IsRecoverable(code int) bool {
	switch code {
	case ConnectionError, Cancelled, IOError:
		return true
	default:
		return false
	}
}

// Description returns a human-readable description of the exit code.
func Description(code int) string {
	switch code {
	case Success:
		return "success"
	case ConfigError:
		return "configuration error"
	case ConnectionError:
		return "connection error (recoverable)"
	case TransferError:
		return "transfer error"
	case ValidationError:
		return "validation error"
	case Cancelled:
		return "cancelled (recoverable)"
	case StateError:
		return "history error"
	case IOError:
		return "I/O error (recoverable)"
	default:
		return "unknown error"
	}
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
