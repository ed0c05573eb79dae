package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrorKind is the closed classification every provider failure maps into.
// The stage driver only ever branches on kind, never on provider-specific
// payloads.
type ErrorKind string

const (
	KindTransient      ErrorKind = "transient"
	KindRateLimited    ErrorKind = "rate_limited"
	KindPermanent      ErrorKind = "permanent"
	KindMalformedInput ErrorKind = "malformed_input"
	KindContentPolicy  ErrorKind = "content_policy"
)

// Error wraps any provider failure with the provider name, operation, and
// retry classification. RetryAfter carries the provider's backoff hint when
// the failure was a rate limit.
type Error struct {
	Provider   string
	Operation  string
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s %s (%s): %s", e.Provider, e.Operation, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(provider, operation string, kind ErrorKind, err error) *Error {
	return &Error{Provider: provider, Operation: operation, Kind: kind, Err: err}
}

// Retryable reports whether err should consume retry budget. Rate limits and
// transients retry; malformed input and content-policy rejections fail fast
// (retrying a permanent failure wastes money and time). A blown per-call
// deadline counts as transient; a caller-side cancel does not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == KindTransient || pe.Kind == KindRateLimited
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// RetryAfterHint extracts a provider-supplied backoff hint, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var pe *Error
	if errors.As(err, &pe) && pe.RetryAfter > 0 {
		return pe.RetryAfter, true
	}
	return 0, false
}

func kindForHTTPStatus(code int) ErrorKind {
	switch {
	case code == 429:
		return KindRateLimited
	case code == 400 || code == 404 || code == 413:
		return KindMalformedInput
	case code == 403 || code == 422:
		return KindContentPolicy
	case code == 408 || (code >= 500 && code <= 599):
		return KindTransient
	default:
		return KindPermanent
	}
}
