package timeapi

import (
	"errors"
	"fmt"
	"net/http"
)

// NetworkError means the request never produced an HTTP response:
// DNS failure, connection reset, timeout, or a canceled context.
type NetworkError struct {
	Err error
	URL string
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("failed to fetch %s, check your network connection: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError means the remote answered with a non-success status.
// Message is the raw response body, or the status text when the body
// could not be read or was empty.
type APIError struct {
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API Error (%d): %s", e.StatusCode, e.Message)
}

// SchemaError means the remote answered 2xx but the payload is unusable.
type SchemaError struct {
	Err   error
	Field string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed response: %v", e.Err)
	}
	return fmt.Sprintf("malformed response field %q: %v", e.Field, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

var errMissing = errors.New("missing")

// IsRetryable reports whether err is worth another attempt by a caller
// that has a retry policy: transport failures, rate limits and 5xx.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}
	return false
}
