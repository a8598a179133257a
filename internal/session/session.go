// ABOUTME: ChatSession state, context, deferred-event queue and remembered searches
// ABOUTME: Mutated only by the turn that holds the session lock

package session

import (
	"hash/fnv"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/2389/finbot-gateway/internal/chat"
)

// State is the conversation state of a session.
type State int

const (
	Idle State = iota
	AwaitingInput
	BackendPending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingInput:
		return "awaiting_input"
	case BackendPending:
		return "backend_pending"
	default:
		return "unknown"
	}
}

// Context is the conversation data accumulated across events.
type Context struct {
	// Command is the command waiting for input or a backend result.
	Command string
	// Args holds the argument collected for Command.
	Args string
	// Name is the display name of the instrument being looked up, if known.
	Name string

	// Callback fields are set when the pending work was started by an
	// inline button press.
	CallbackQueryID   string
	CallbackMessageID int

	// EventID is the event that started the pending work.
	EventID string
}

// Session is the state of one chat. All fields other than ChatID are guarded
// by the session lock.
type Session struct {
	ChatID int64

	mu           sync.Mutex
	State        State
	Context      Context
	LastActivity time.Time
	CreatedAt    time.Time

	// PendingFingerprint identifies the backend request in flight.
	PendingFingerprint string

	deferred []chat.InboundEvent
	removed  bool

	// searches maps tokens to queries too long to embed in callback data,
	// oldest first in searchOrder.
	searches    map[string]string
	searchOrder []string
}

// maxSearches bounds the remembered search queries per session.
const maxSearches = 16

func newSession(chatID int64, now time.Time) *Session {
	return &Session{
		ChatID:       chatID,
		State:        Idle,
		LastActivity: now,
		CreatedAt:    now,
	}
}

// Lock acquires exclusive access for a processing turn.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the turn.
func (s *Session) Unlock() { s.mu.Unlock() }

// Removed reports whether the store evicted this session. A turn that
// obtained a session just before eviction should fetch a fresh one.
// Must be called with the lock held.
func (s *Session) Removed() bool { return s.removed }

// Reset returns the session to Idle and clears accumulated context.
// Deferred events and remembered searches are kept. Must be called with the
// lock held.
func (s *Session) Reset() {
	s.State = Idle
	s.Context = Context{}
	s.PendingFingerprint = ""
}

// Defer queues an event that arrived while a backend request was pending.
// Must be called with the lock held.
func (s *Session) Defer(ev chat.InboundEvent) {
	s.deferred = append(s.deferred, ev)
}

// TakeDeferred returns deferred events in arrival order and clears the queue.
// Must be called with the lock held.
func (s *Session) TakeDeferred() []chat.InboundEvent {
	out := s.deferred
	s.deferred = nil
	return out
}

// RememberSearch stores query and returns a short token for it. The same
// query always yields the same token. Only the latest maxSearches queries
// are kept. Must be called with the lock held.
func (s *Session) RememberSearch(query string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(query))
	token := strconv.FormatUint(h.Sum64(), 36)

	if s.searches == nil {
		s.searches = make(map[string]string)
	}
	if _, ok := s.searches[token]; ok {
		s.searchOrder = slices.DeleteFunc(s.searchOrder, func(t string) bool { return t == token })
	}
	s.searches[token] = query
	s.searchOrder = append(s.searchOrder, token)

	for len(s.searchOrder) > maxSearches {
		delete(s.searches, s.searchOrder[0])
		s.searchOrder = s.searchOrder[1:]
	}
	return token
}

// RecallSearch returns the query stored under token. Must be called with the
// lock held.
func (s *Session) RecallSearch(token string) (string, bool) {
	query, ok := s.searches[token]
	return query, ok
}
