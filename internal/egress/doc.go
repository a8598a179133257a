// ABOUTME: Package egress delivers outbound replies to the chat platform
// ABOUTME: Lanes keyed by chat id keep per-chat order; failures are retried then audited

// Package egress delivers the replies produced by processing turns.
//
// Messages are hashed onto a fixed number of lanes by chat id. Each lane is
// drained by one goroutine, so replies to one chat leave in the order they
// were enqueued while different chats proceed in parallel.
//
// Delivery errors are retried with exponential backoff unless the transport
// marks them Permanent. A RetryAfterError overrides the backoff for that
// attempt. When retries are exhausted the message is dropped and a
// store.DeliveryFailure row is written.
package egress
