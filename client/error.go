package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. Every error returned by this module matches exactly one
// of the kinds below with [errors.Is], and the status or transfer details
// can be extracted with [errors.As] on [StatusError], [DecodeError] and
// [TransferError].
var (
	// ErrConfig indicates bad credentials, endpoints or options. Fix the
	// configuration before trying again.
	ErrConfig = errors.New("invalid configuration")
	// ErrTimeout indicates the operation deadline was exceeded.
	ErrTimeout = errors.New("request timed out")
	// ErrAuth is returned for 401 Unauthorized and 403 Forbidden.
	ErrAuth = errors.New("authentication failed")
	// ErrNotFound is returned for 404 Not Found.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited is returned for 429 Too Many Requests once retries are exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrServer is returned for 5xx responses once retries are exhausted.
	ErrServer = errors.New("server error")
	// ErrRequest is returned for any other non-2xx response.
	ErrRequest = errors.New("request rejected")
	// ErrDecode indicates a successful response whose body did not match
	// the expected shape.
	ErrDecode = errors.New("decoding response")
	// ErrTransfer indicates a failure while streaming a body. Partial
	// transfers are never reported as committed.
	ErrTransfer = errors.New("transfer failed")
	// ErrBodyNotReplayable is joined with [ErrTransfer] when a transient
	// failure happened after a non-seekable request body was partially read.
	ErrBodyNotReplayable = errors.New("request body cannot be replayed")
	// ErrSequenceConsumed is yielded when a single-pass sequence is ranged over twice.
	ErrSequenceConsumed = errors.New("sequence already consumed")
)

// StatusError is returned when the provider answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	// Message is the provider-supplied message, if the body carried one.
	Message string
	// Body is a truncated copy of the response body with secrets removed.
	Body string
	// Attempts is the number of requests made before giving up.
	Attempts int
	Err      error
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v: %d %s", e.Err, e.StatusCode, http.StatusText(e.StatusCode))
	}

	return fmt.Sprintf("%v: %d, message: %s", e.Err, e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may reasonably try again later.
// The client has already retried these internally.
func (e *StatusError) Retryable() bool {
	return errors.Is(e.Err, ErrRateLimited) || errors.Is(e.Err, ErrServer)
}

// DecodeError is returned when a 2xx response body cannot be decoded.
type DecodeError struct {
	StatusCode int
	// Excerpt is the leading part of the body, truncated and scrubbed.
	Excerpt string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v: status %d: %v, body: %s", ErrDecode, e.StatusCode, e.Err, e.Excerpt)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}

// TransferError is returned when streaming a request or response body fails
// part way through, or when no response arrived at all.
type TransferError struct {
	Op          string
	Path        string
	Transferred int64
	// Transient is set for connection failures that were retried until the
	// attempts ran out.
	Transient bool
	Err       error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%v: %s %s after %d bytes: %v", ErrTransfer, e.Op, e.Path, e.Transferred, e.Err)
}

func (e *TransferError) Unwrap() []error {
	return []error{ErrTransfer, e.Err}
}

// Retryable reports whether the caller may reasonably try again later.
func (e *TransferError) Retryable() bool {
	return e.Transient && !errors.Is(e.Err, ErrBodyNotReplayable)
}

// IsRetryable reports whether err is worth retrying at the caller's
// discretion: timeouts, rate limiting, server errors and exhausted
// connection failures, unless a streamed body was already consumed.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrBodyNotReplayable) {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}

	var te *TransferError
	if errors.As(err, &te) {
		return te.Retryable()
	}

	return false
}

func kindFor(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAuth
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code >= http.StatusInternalServerError:
		return ErrServer
	default:
		return ErrRequest
	}
}
