package billing

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorKind classifies a billing API failure. The kind decides whether a
// retry is allowed: only rate-limited, server, and network failures are
// worth a second attempt.
type ErrorKind string

const (
	// ErrorKindRateLimited is an HTTP 429. The wait before the next
	// attempt comes from the Retry-After header when the server sent one.
	ErrorKindRateLimited ErrorKind = "rate_limited"

	// ErrorKindUnauthorized is an HTTP 401 or 403. Never retried; the
	// configured token has to change first.
	ErrorKindUnauthorized ErrorKind = "unauthorized"

	// ErrorKindValidation is an HTTP 400 or 422: the billing system
	// rejected the request body. Never retried.
	ErrorKindValidation ErrorKind = "validation"

	// ErrorKindNotFound is an HTTP 404. Never retried.
	ErrorKindNotFound ErrorKind = "not_found"

	// ErrorKindServer is any HTTP 5xx
	ErrorKindServer ErrorKind = "server"

	// ErrorKindNetwork is a transport-level failure: connection refused,
	// timeout, DNS, or a truncated response body.
	ErrorKindNetwork ErrorKind = "network"
)

// defaultRetryAfter applies when a rate-limited response carries no
// usable Retry-After header.
const defaultRetryAfter = 60 * time.Second

// maxErrorBody caps how much of an error response body is kept in the
// error message.
const maxErrorBody = 512

// APIError is a classified failure from the billing API.
//
// It implements the Transient method the invoicing domain tests for, so
// retry decisions made here and in the run pipeline agree.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

// Error returns the error message
func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("billing api %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("billing api %s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any
func (e *APIError) Unwrap() error {
	return e.Err
}

// Transient reports whether a later attempt could succeed
func (e *APIError) Transient() bool {
	switch e.Kind {
	case ErrorKindRateLimited, ErrorKindServer, ErrorKindNetwork:
		return true
	}
	return false
}

// classifyStatus maps a non-2xx HTTP status code to an error kind.
// Unlisted 4xx codes count as validation failures: the request was
// understood and refused, so resending it cannot help.
func classifyStatus(code int) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrorKindRateLimited
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrorKindUnauthorized
	case code == http.StatusNotFound:
		return ErrorKindNotFound
	case code >= 400 && code < 500:
		return ErrorKindValidation
	default:
		return ErrorKindServer
	}
}

// parseRetryAfter reads the Retry-After response header, accepting both
// forms the header allows: delay seconds and an HTTP date.
func parseRetryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}

// newStatusError builds a classified error from a non-2xx response.
// The response body, when present, becomes the message.
func newStatusError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		Kind:       classifyStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		apiErr.Message = msg
	}
	if apiErr.Kind == ErrorKindRateLimited {
		apiErr.RetryAfter = parseRetryAfter(resp.Header)
	}
	return apiErr
}

// newNetworkError wraps a transport-level failure
func newNetworkError(err error) *APIError {
	return &APIError{
		Kind:    ErrorKindNetwork,
		Message: err.Error(),
		Err:     err,
	}
}
