package apperrors

import (
	"errors"
	"net/http"
)

var (
	ErrConnection        = errors.New("connection error")
	ErrNotFound          = errors.New("not found")
	ErrConfiguration     = errors.New("datasource configuration rejected")
	ErrNoChecks          = errors.New("no quality checks supplied")
	ErrUnsupportedCheck  = errors.New("unsupported quality check")
	ErrValidator         = errors.New("validator error")
	ErrResultExtraction  = errors.New("result extraction failed")
	ErrPersistence       = errors.New("persistence error")
	ErrUnsupportedSource = errors.New("unsupported source type")
	ErrInvalidInput      = errors.New("invalid input")
	ErrCorruptState      = errors.New("corrupt job state")
	ErrTerminalState     = errors.New("job already in a terminal state")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCredentialsKey    = errors.New("credentials were encrypted with a different key")
)

// HTTPStatus maps an error to the status code returned on synchronous endpoints.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrNoChecks),
		errors.Is(err, ErrUnsupportedCheck):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedSource):
		return http.StatusNotImplemented
	case errors.Is(err, ErrCorruptState):
		return http.StatusBadGateway
	case errors.Is(err, ErrTerminalState), errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
