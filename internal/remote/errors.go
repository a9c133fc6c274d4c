// Package remote is the REST backend: an HTTP client with retry and error
// classification, and per-table Repository implementations used by the sync
// engine and the cached query layer.
package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status classification. Match with errors.Is.
var (
	ErrBadRequest         = errors.New("remote: bad request")
	ErrUnauthorized       = errors.New("remote: unauthorized")
	ErrForbidden          = errors.New("remote: forbidden")
	ErrNotFound           = errors.New("remote: not found")
	ErrConflict           = errors.New("remote: conflict")
	ErrPreconditionFailed = errors.New("remote: precondition failed")
	ErrThrottled          = errors.New("remote: throttled")
	ErrServerError        = errors.New("remote: server error")
)

// APIError carries the HTTP status and response body of a failed request.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("remote: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("remote: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound, http.StatusGone:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusPreconditionFailed:
		return ErrPreconditionFailed
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether a status is worth retrying in-request.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
