// ABOUTME: Sharded in-memory cache store with lazy expiry and periodic sweep
// ABOUTME: Shard selection hashes the fingerprint so unrelated keys do not contend

package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/2389/finbot-gateway/internal/backend"
)

const shardCount = 32

type memEntry struct {
	resource  string
	resp      backend.Response
	expiresAt time.Time
}

type shard struct {
	mu    sync.RWMutex
	items map[string]memEntry
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// NewMemoryStore creates an empty store. A nil clock means time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	m := &MemoryStore{now: now}
	for i := range m.shards {
		m.shards[i] = &shard{items: make(map[string]memEntry)}
	}
	return m
}

func (m *MemoryStore) shardFor(fp string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fp))
	return m.shards[h.Sum32()%shardCount]
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, fp string) (backend.Response, bool, error) {
	s := m.shardFor(fp)
	s.mu.RLock()
	e, ok := s.items[fp]
	s.mu.RUnlock()

	if !ok || !m.now().Before(e.expiresAt) {
		return backend.Response{}, false, nil
	}
	return e.resp, true, nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, fp, resource string, resp backend.Response, ttl time.Duration) error {
	s := m.shardFor(fp)
	s.mu.Lock()
	s.items[fp] = memEntry{resource: resource, resp: resp, expiresAt: m.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

// Invalidate implements Store.
func (m *MemoryStore) Invalidate(_ context.Context, resource string) error {
	for _, s := range m.shards {
		s.mu.Lock()
		for fp, e := range s.items {
			if e.resource == resource {
				delete(s.items, fp)
			}
		}
		s.mu.Unlock()
	}
	return nil
}

// Sweep removes expired entries and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	now := m.now()
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for fp, e := range s.items {
			if !now.Before(e.expiresAt) {
				delete(s.items, fp)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryStore) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}
