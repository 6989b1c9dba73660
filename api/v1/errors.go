package v1

import (
	"errors"
	"net/http"

	"github.com/tinoosan/devsync/internal/data"
)

var (
	ErrContentType   = errors.New("Content-Type must be application/json")
	ErrNameRequired  = errors.New("name is required")
	ErrProductNeeded = errors.New("product is required")
	ErrEnqueueCtx    = errors.New("enqueue request missing in context")
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, data.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, data.ErrBadParameter):
		return http.StatusBadRequest
	case errors.Is(err, data.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, data.ErrThreadAlreadyRunning), errors.Is(err, data.ErrThreadProcessing), errors.Is(err, data.ErrCanceled):
		return http.StatusConflict
	case errors.Is(err, data.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail records err for the access log and writes the mapped status with
// the short error description as body.
func fail(w http.ResponseWriter, err error) {
	markErr(w, err)
	http.Error(w, data.ErrorString(err), statusFor(err))
}
