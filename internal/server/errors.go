package server

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/johndauphine/chxfer/internal/driver"
	"github.com/johndauphine/chxfer/internal/flatfile"
	"github.com/johndauphine/chxfer/internal/ident"
	"github.com/johndauphine/chxfer/internal/orchestrator"
)

// badRequest marks a malformed request body or parameter.
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

// statusFor maps the error taxonomy to an HTTP status. Errors outside the
// taxonomy get fallback.
func statusFor(err error, fallback int) int {
	var (
		br        badRequest
		pathErr   *flatfile.PathError
		authErr   *driver.AuthenticationError
		schemaErr *driver.SchemaLookupError
		parseErr  *flatfile.ParseThresholdError
	)
	switch {
	case errors.As(err, &br), errors.Is(err, ident.ErrInvalidIdentifier), errors.As(err, &pathErr):
		return http.StatusBadRequest
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.Is(err, orchestrator.ErrUnknownHandle), errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.As(err, &schemaErr):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrTransferFinished):
		return http.StatusConflict
	case errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orchestrator.ErrManagerClosed):
		return http.StatusServiceUnavailable
	default:
		return fallback
	}
}

func abort(c *gin.Context, err error, fallback int) {
	c.AbortWithStatusJSON(statusFor(err, fallback), gin.H{"error": err.Error()})
}
