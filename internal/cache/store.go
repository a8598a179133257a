// ABOUTME: Storage driver interface for cached backend responses
// ABOUTME: Entries are keyed by fingerprint and indexed by resource for invalidation

package cache

import (
	"context"
	"time"

	"github.com/2389/finbot-gateway/internal/backend"
)

// Store persists cached responses.
type Store interface {
	// Get returns the live entry for fp. Expired entries are misses.
	Get(ctx context.Context, fp string) (backend.Response, bool, error)
	// Set stores resp under fp for ttl and indexes it under resource.
	Set(ctx context.Context, fp, resource string, resp backend.Response, ttl time.Duration) error
	// Invalidate removes every entry indexed under resource.
	Invalidate(ctx context.Context, resource string) error
}

// Sweeper is implemented by stores that need expired entries removed
// explicitly.
type Sweeper interface {
	Sweep() int
}
