package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy for the session core. Components convert raw transport and storage
// failures into one of these at their boundary.
var (
	// Credentials
	ErrNoCredentials = errors.New("no credentials")
	ErrTokenExpired  = errors.New("token expired")

	// Session termination
	ErrRefreshFailed        = errors.New("refresh failed")
	ErrAuthenticationFailed = errors.New("authentication failed, please log in again")

	// Transport
	ErrNetwork     = errors.New("network error")
	ErrRateLimited = errors.New("rate limited")

	// A second caller raced an in-flight refresh or migration.
	ErrConcurrencyConflict = errors.New("operation already in progress")

	// General errors
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
)

// Error kinds exposed to the UI layer. The UI never inspects status codes.
const (
	KindNoCredentials        = "no_credentials"
	KindTokenExpired         = "token_expired"
	KindAuthenticationFailed = "authentication_failed"
	KindNetwork              = "network_error"
	KindRateLimited          = "rate_limited"
	KindNoResults            = "no_results"
	KindRequestFailed        = "request_failed"
)

// HTTPError is a non-retryable backend response that is neither an auth failure nor a rate limit.
type HTTPError struct {
	StatusCode int
	Detail     string
	Type       string // error_type reported by the backend, if any
	Endpoint   string
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %d %s", e.Endpoint, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s: %d %s", e.Endpoint, e.StatusCode, http.StatusText(e.StatusCode))
}

// Kind maps an error chain to the UI error kind. A nil error has no kind.
func Kind(err error) string {
	var httpErr *HTTPError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCredentials):
		return KindNoCredentials
	case errors.Is(err, ErrAuthenticationFailed), errors.Is(err, ErrRefreshFailed):
		return KindAuthenticationFailed
	case errors.Is(err, ErrTokenExpired):
		return KindTokenExpired
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound:
		return KindNoResults
	default:
		return KindRequestFailed
	}
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New is errors.New, re-exported so callers need a single errors import.
func New(text string) error {
	return errors.New(text)
}
