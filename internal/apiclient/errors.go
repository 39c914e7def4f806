package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// sentinel errors.
var (
	ErrDecode     = errors.New("decode response")
	ErrInvalidURL = errors.New("invalid base url")
)

// TransportError reports that the backend could not be reached at all:
// refused connection, DNS failure, reset or timeout.
type TransportError struct {
	Err    error
	Method string
	URL    string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError reports a non-2xx response.
type APIError struct {
	Detail     string
	StatusCode int
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api: status %d", e.StatusCode)
	}

	return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Detail)
}

// NotFound reports whether the backend answered 404.
func (e *APIError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// IsTransport reports whether err is, or wraps, a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// AsAPIError returns the wrapped *APIError, if any.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}

	return nil, false
}
