// ABOUTME: Keyed session store with per-key atomic creation and idle eviction
// ABOUTME: Uses sync.Map so concurrent first contact yields a single session instance

package session

import (
	"log/slog"
	"sync"
	"time"
)

// Store holds one Session per chat id.
type Store struct {
	sessions sync.Map // int64 -> *Session
	evicted  sync.Map // int64 -> time.Time, chats whose last session was evicted
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		now:    time.Now,
		logger: logger.With("component", "session-store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the session for chatID, creating it at Idle if absent.
// expired reports that this chat's previous session was evicted and the
// returned session is a fresh one.
func (s *Store) GetOrCreate(chatID int64) (sess *Session, expired bool) {
	if v, ok := s.sessions.Load(chatID); ok {
		return v.(*Session), false
	}

	fresh := newSession(chatID, s.now())
	v, loaded := s.sessions.LoadOrStore(chatID, fresh)
	if loaded {
		return v.(*Session), false
	}

	if _, wasEvicted := s.evicted.LoadAndDelete(chatID); wasEvicted {
		s.logger.Debug("session restarted after expiry", "chat_id", chatID)
		return fresh, true
	}
	return fresh, false
}

// Get returns the session for chatID if present.
func (s *Store) Get(chatID int64) (*Session, bool) {
	v, ok := s.sessions.Load(chatID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Touch records activity for chatID. It is a no-op for unknown chats.
func (s *Store) Touch(chatID int64) {
	v, ok := s.sessions.Load(chatID)
	if !ok {
		return
	}
	sess := v.(*Session)
	sess.mu.Lock()
	sess.LastActivity = s.now()
	sess.mu.Unlock()
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	n := 0
	s.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Evicted describes a session removed by EvictIdle.
type Evicted struct {
	ChatID       int64
	State        State
	LastActivity time.Time
}

// EvictIdle removes every session whose last activity is older than ttl at
// now and returns what was removed. Sessions in the middle of a turn are
// skipped and reconsidered on the next sweep.
func (s *Store) EvictIdle(now time.Time, ttl time.Duration) []Evicted {
	var out []Evicted

	s.sessions.Range(func(key, value any) bool {
		sess := value.(*Session)
		if !sess.mu.TryLock() {
			return true
		}
		defer sess.mu.Unlock()

		if now.Sub(sess.LastActivity) <= ttl {
			return true
		}
		if !s.sessions.CompareAndDelete(key, sess) {
			return true
		}

		sess.removed = true
		s.evicted.Store(sess.ChatID, now)
		out = append(out, Evicted{
			ChatID:       sess.ChatID,
			State:        sess.State,
			LastActivity: sess.LastActivity,
		})
		return true
	})

	if len(out) > 0 {
		s.logger.Info("evicted idle sessions", "count", len(out), "ttl", ttl)
	}
	return out
}

// IDs returns the chat ids of the evicted sessions.
func IDs(evicted []Evicted) []int64 {
	ids := make([]int64, len(evicted))
	for i, e := range evicted {
		ids[i] = e.ChatID
	}
	return ids
}

// ForgetExpired drops expiry markers older than horizon so the marker set
// stays bounded for chats that never return.
func (s *Store) ForgetExpired(now time.Time, horizon time.Duration) {
	s.evicted.Range(func(key, value any) bool {
		if at, ok := value.(time.Time); ok && now.Sub(at) > horizon {
			s.evicted.Delete(key)
		}
		return true
	})
}
