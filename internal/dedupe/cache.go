// ABOUTME: Bounded, eviction-ordered set of recently seen event ids
// ABOUTME: Ingress uses it as the redelivery window for platform updates

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Default window bounds. Telegram keeps undelivered updates for 24 hours.
const (
	DefaultTTL     = 24 * time.Hour
	DefaultMaxSize = 100_000
)

// entry stores when a key was last marked and its position in the order list.
type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache is a thread-safe set of keys bounded by age and count. Keys are kept
// in mark order so the oldest can be evicted in O(1) when the set is full.
type Cache struct {
	mu      sync.RWMutex
	seen    map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache holding at most maxSize keys for at most ttl.
// Non-positive bounds fall back to DefaultTTL and DefaultMaxSize.
// A background goroutine sweeps expired keys every minute until Close.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.sweepLoop()
	return c
}

// CheckAndMark atomically reports whether key is a duplicate and marks it if
// it is not. Returns true for a duplicate.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok && c.now().Sub(e.seenAt) < c.ttl {
		return true
	}
	c.markLocked(key)
	return false
}

// Forget removes key so a later redelivery is accepted again.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok {
		c.order.Remove(e.element)
		delete(c.seen, key)
	}
}

// Len returns the number of keys currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.seen)
}

// markLocked must be called with mu held.
func (c *Cache) markLocked(key string) {
	now := c.now()

	if e, ok := c.seen[key]; ok {
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	c.seen[key] = &entry{
		seenAt:  now,
		element: c.order.PushBack(key),
	}
}

// evictOldest must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.done:
			return
		}
	}
}

// Sweep removes expired keys and returns how many were dropped.
// Keys are ordered by mark time, so the sweep stops at the first live key.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(string)
		e := c.seen[key]
		if e == nil || now.Sub(e.seenAt) < c.ttl {
			break
		}
		c.order.Remove(front)
		delete(c.seen, key)
		removed++
	}
	return removed
}

// Close stops the background sweep. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
