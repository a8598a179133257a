// ABOUTME: Single-flight response cache in front of the backend gateway
// ABOUTME: Tracks per-resource generations so invalidation wins over in-flight reads

package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/2389/finbot-gateway/internal/backend"
)

// Compute produces the response for a cache miss.
type Compute func(ctx context.Context, req backend.Request) (backend.Response, error)

// Stats are cumulative cache counters.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Shared        uint64
	Invalidations uint64
}

// Cache coordinates lookups, computations and invalidations over a Store.
type Cache struct {
	store  Store
	ttlFor func(resource string) time.Duration
	logger *slog.Logger

	group singleflight.Group

	// genMu is held exclusively while a resource is invalidated and shared
	// while a computed response is stored.
	genMu       sync.RWMutex
	generations map[string]uint64

	hits          atomic.Uint64
	misses        atomic.Uint64
	shared        atomic.Uint64
	invalidations atomic.Uint64
}

// New creates a cache over store. ttlFor returns the TTL for a resource; a
// non-positive TTL disables storing for that resource.
func New(store Store, ttlFor func(resource string) time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:       store,
		ttlFor:      ttlFor,
		logger:      logger.With("component", "cache"),
		generations: make(map[string]uint64),
	}
}

// GetOrCompute returns the cached response for req or computes it. Callers
// with the same fingerprint share one computation, which runs with the
// context of the caller that started it. A caller that arrives after the
// resource was invalidated waits for the running computation to finish and
// then computes again, so at most one computation per fingerprint runs at a
// time. A caller whose ctx ends stops waiting and gets ctx.Err().
func (c *Cache) GetOrCompute(ctx context.Context, req backend.Request, compute Compute) (backend.Response, error) {
	if req.Mutating {
		return c.mutate(ctx, req, compute)
	}

	fp := req.Fingerprint()
	for {
		if resp, ok := c.lookup(ctx, fp); ok {
			c.hits.Add(1)
			return resp, nil
		}

		gen := c.generation(req.Resource)
		ch := c.group.DoChan(fp, func() (any, error) {
			if resp, ok := c.lookup(ctx, fp); ok {
				c.hits.Add(1)
				return flight{resp: resp, gen: gen}, nil
			}
			c.misses.Add(1)

			resp, err := compute(ctx, req)
			if err != nil {
				return flight{gen: gen}, err
			}
			c.storeIfCurrent(ctx, fp, req.Resource, gen, resp)
			return flight{resp: resp, gen: gen}, nil
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return backend.Response{}, ctx.Err()
		case res = <-ch:
		}

		f, _ := res.Val.(flight)
		if f.gen < gen {
			// Joined a computation started before the last invalidation.
			continue
		}
		if res.Shared {
			c.shared.Add(1)
		}
		if res.Err != nil {
			return backend.Response{}, res.Err
		}
		return f.resp, nil
	}
}

// flight is the value shared by callers of one computation.
type flight struct {
	resp backend.Response
	gen  uint64
}

func (c *Cache) mutate(ctx context.Context, req backend.Request, compute Compute) (backend.Response, error) {
	resp, err := compute(ctx, req)
	if err != nil {
		return backend.Response{}, err
	}
	if err := c.Invalidate(ctx, req.Resource); err != nil {
		c.logger.Warn("invalidation after mutation failed", "op", req.Op, "resource", req.Resource, "error", err)
	}
	return resp, nil
}

// Invalidate drops every entry of resource and makes in-flight reads of it
// discard their results.
func (c *Cache) Invalidate(ctx context.Context, resource string) error {
	c.genMu.Lock()
	defer c.genMu.Unlock()

	c.generations[resource]++
	c.invalidations.Add(1)
	c.logger.Debug("resource invalidated", "resource", resource, "generation", c.generations[resource])
	return c.store.Invalidate(ctx, resource)
}

// Sweep removes expired entries when the store needs it.
func (c *Cache) Sweep() int {
	sw, ok := c.store.(Sweeper)
	if !ok {
		return 0
	}
	return sw.Sweep()
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Shared:        c.shared.Load(),
		Invalidations: c.invalidations.Load(),
	}
}

func (c *Cache) generation(resource string) uint64 {
	c.genMu.RLock()
	defer c.genMu.RUnlock()
	return c.generations[resource]
}

func (c *Cache) lookup(ctx context.Context, fp string) (backend.Response, bool) {
	resp, ok, err := c.store.Get(ctx, fp)
	if err != nil {
		c.logger.Warn("cache lookup failed", "fingerprint", fp, "error", err)
		return backend.Response{}, false
	}
	return resp, ok
}

func (c *Cache) storeIfCurrent(ctx context.Context, fp, resource string, gen uint64, resp backend.Response) {
	ttl := c.ttlFor(resource)
	if ttl <= 0 {
		return
	}

	c.genMu.RLock()
	defer c.genMu.RUnlock()

	if c.generations[resource] != gen {
		c.logger.Debug("discarding stale response", "fingerprint", fp, "resource", resource)
		return
	}
	if err := c.store.Set(ctx, fp, resource, resp, ttl); err != nil {
		c.logger.Warn("cache store failed", "fingerprint", fp, "error", err)
	}
}
