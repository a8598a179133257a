// Package ingress normalizes Telegram updates into chat.InboundEvent values.
//
// Malformed updates are rejected with ErrRejected. Updates whose id was
// already accepted within the dedup window are rejected with ErrDuplicate,
// which also matches ErrRejected, so redelivered updates are processed at
// most once per window.
package ingress
