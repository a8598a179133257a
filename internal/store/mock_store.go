// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	failures  map[string]DeliveryFailure
	evictions []SessionEviction
	closed    bool
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		failures: make(map[string]DeliveryFailure),
	}
}

// RecordDeliveryFailure stores a failure.
func (m *MockStore) RecordDeliveryFailure(ctx context.Context, f *DeliveryFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	m.failures[f.ID] = *f
	return nil
}

// ListDeliveryFailures returns failures matching the filter, newest first.
func (m *MockStore) ListDeliveryFailures(ctx context.Context, f FailureFilter) ([]DeliveryFailure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]DeliveryFailure, 0, len(m.failures))
	for _, df := range m.failures {
		if f.ChatID != nil && df.ChatID != *f.ChatID {
			continue
		}
		if f.Since != nil && df.CreatedAt.Before(*f.Since) {
			continue
		}
		out = append(out, df)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if limit := normalizeLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetDeliveryFailure returns one failure by id.
func (m *MockStore) GetDeliveryFailure(ctx context.Context, id string) (*DeliveryFailure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	df, ok := m.failures[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &df, nil
}

// RecordEvictions stores evictions.
func (m *MockStore) RecordEvictions(ctx context.Context, evictions []SessionEviction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for i := range evictions {
		if evictions[i].ID == "" {
			evictions[i].ID = uuid.New().String()
		}
		if evictions[i].EvictedAt.IsZero() {
			evictions[i].EvictedAt = now
		}
		m.evictions = append(m.evictions, evictions[i])
	}
	return nil
}

// ListEvictions returns a chat's evictions, newest first.
func (m *MockStore) ListEvictions(ctx context.Context, chatID int64, limit int) ([]SessionEviction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []SessionEviction
	for _, e := range m.evictions {
		if e.ChatID == chatID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EvictedAt.After(out[j].EvictedAt) })

	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PruneBefore deletes records older than cutoff.
func (m *MockStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, df := range m.failures {
		if df.CreatedAt.Before(cutoff) {
			delete(m.failures, id)
			n++
		}
	}
	kept := m.evictions[:0]
	for _, e := range m.evictions {
		if e.EvictedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.evictions = kept
	return n, nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
