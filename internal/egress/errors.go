// ABOUTME: Delivery error classification for egress retries
// ABOUTME: Permanent errors stop retrying; RetryAfterError carries a platform-requested delay

package egress

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPermanent marks a delivery error that retrying cannot fix, such as a
// chat that blocked the bot or a malformed request.
var ErrPermanent = errors.New("permanent delivery failure")

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("egress closed")

// Permanent wraps err so it is not retried.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// RetryAfterError asks for the next attempt to wait After.
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s: %v", e.After, e.Err)
}

func (e *RetryAfterError) Unwrap() error { return e.Err }

// Retryable reports whether another delivery attempt may succeed.
func Retryable(err error) bool {
	return !errors.Is(err, ErrPermanent) && !errors.Is(err, context.Canceled)
}
