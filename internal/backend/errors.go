// ABOUTME: Backend failure taxonomy and classification helpers
// ABOUTME: Maps transport, HTTP status, and decode failures onto Timeout/Unavailable/InvalidResponse/Rejected

package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a backend failure.
type Kind string

const (
	KindTimeout         Kind = "timeout"
	KindUnavailable     Kind = "unavailable"
	KindInvalidResponse Kind = "invalid_response"
	KindRejected        Kind = "rejected"
)

// Error is a classified backend failure.
type Error struct {
	Kind     Kind
	Op       string
	Endpoint string
	Err      error
}

func (e *Error) Error() string {
	msg := "backend " + string(e.Kind)
	if e.Endpoint != "" {
		msg += " (" + e.Endpoint + ")"
	}
	if e.Op != "" {
		msg += " op=" + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so the Err* sentinels work
// with errors.Is regardless of Op or Endpoint.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Endpoint == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrUnavailable     = &Error{Kind: KindUnavailable}
	ErrInvalidResponse = &Error{Kind: KindInvalidResponse}
	ErrRejected        = &Error{Kind: KindRejected}
)

// ErrCircuitOpen is wrapped by the Unavailable error returned while an
// endpoint's breaker refuses calls.
var ErrCircuitOpen = errors.New("circuit breaker open")

// ErrUnknownOp is wrapped by the Rejected error for unregistered operations.
var ErrUnknownOp = errors.New("unknown operation")

// Timeout wraps err as a Timeout failure.
func Timeout(err error) *Error { return &Error{Kind: KindTimeout, Err: err} }

// Unavailable wraps err as an Unavailable failure.
func Unavailable(err error) *Error { return &Error{Kind: KindUnavailable, Err: err} }

// InvalidResponse wraps err as an InvalidResponse failure.
func InvalidResponse(err error) *Error { return &Error{Kind: KindInvalidResponse, Err: err} }

// Rejected wraps err as a Rejected failure.
func Rejected(err error) *Error { return &Error{Kind: KindRejected, Err: err} }

// KindOf returns the kind of a backend failure.
func KindOf(err error) (Kind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return "", false
}

// Retryable reports whether a failure may succeed on another attempt.
// An open circuit is never retried.
func Retryable(err error) bool {
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	kind, ok := KindOf(err)
	return ok && (kind == KindTimeout || kind == KindUnavailable)
}

// countsAgainstBreaker reports whether err indicates an unhealthy endpoint.
func countsAgainstBreaker(err error) bool {
	kind, ok := KindOf(err)
	return ok && (kind == KindTimeout || kind == KindUnavailable)
}

// StatusError classifies a non-2xx HTTP response.
func StatusError(code int) *Error {
	err := fmt.Errorf("unexpected status %d %s", code, http.StatusText(code))
	switch {
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return Timeout(err)
	case code == http.StatusTooManyRequests || code >= 500:
		return Unavailable(err)
	default:
		return Rejected(err)
	}
}

// Classify maps a transport-level error onto a failure kind. Errors that are
// already classified are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout(err)
	}
	return Unavailable(err)
}
