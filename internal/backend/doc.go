// Package backend calls the legacy market-data services behind the bot.
//
// # Requests
//
// A Request names an operation and its parameters. Requests are plain values;
// their Fingerprint (a hash of operation and sorted parameters) is the cache
// key shared by every chat. Resource groups operations whose results become
// stale together, and Mutating marks requests that change backend state.
//
// # Gateway
//
// Gateway routes each operation to a registered Handler and wraps every call
// with:
//
//   - a per-attempt timeout
//   - retries with exponential backoff and jitter, for Timeout and
//     Unavailable failures only
//   - a circuit breaker per endpoint; while open, calls fail with
//     Unavailable without reaching the handler
//
// # Errors
//
// Every failure returned by Call is an *Error carrying one of four kinds:
// Timeout, Unavailable, InvalidResponse, or Rejected. Use errors.Is with
// ErrTimeout, ErrUnavailable, ErrInvalidResponse, or ErrRejected to classify.
// Context cancellation by the caller is returned unchanged.
package backend
