// ABOUTME: Conversation Service runs one processing turn per inbound event
// ABOUTME: Locks the chat session, consults the catalog, and resolves backend requests through the cache

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/finbot-gateway/internal/backend"
	"github.com/2389/finbot-gateway/internal/backend/cbr"
	"github.com/2389/finbot-gateway/internal/backend/moex"
	"github.com/2389/finbot-gateway/internal/cache"
	"github.com/2389/finbot-gateway/internal/chat"
	"github.com/2389/finbot-gateway/internal/instrument"
	"github.com/2389/finbot-gateway/internal/session"
)

// Backend performs backend requests.
type Backend interface {
	Call(ctx context.Context, req backend.Request) (backend.Response, error)
}

// ResponseCache memoizes backend responses.
type ResponseCache interface {
	GetOrCompute(ctx context.Context, req backend.Request, compute cache.Compute) (backend.Response, error)
}

// Service is the conversation layer used by the dispatch workers.
type Service struct {
	sessions *session.Store
	cache    ResponseCache
	backend  Backend
	machine  *Machine
	logger   *slog.Logger

	catalogMu  sync.Mutex
	catalog    *instrument.Catalog
	catalogKey [2]time.Time
}

// New creates a conversation service.
func New(sessions *session.Store, responses ResponseCache, be Backend, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions: sessions,
		cache:    responses,
		backend:  be,
		machine:  NewMachine(),
		logger:   logger.With("component", "conversation"),
	}
}

// Process runs a turn for ev and returns the replies in order. Turns for the
// same chat are serialized by the session lock.
func (s *Service) Process(ctx context.Context, ev chat.InboundEvent) []chat.OutboundMessage {
	// Touch takes the session lock itself.
	s.sessions.Touch(ev.ChatID)
	sess := s.lockSession(ev.ChatID)
	defer sess.Unlock()

	// A panicking turn must not leave the chat stuck in BackendPending.
	defer func() {
		if r := recover(); r != nil {
			sess.Reset()
			panic(r)
		}
	}()

	return s.turn(ctx, sess, ev)
}

func (s *Service) lockSession(chatID int64) *session.Session {
	for {
		sess, expired := s.sessions.GetOrCreate(chatID)
		sess.Lock()
		if sess.Removed() {
			// Evicted between lookup and lock; the next GetOrCreate makes a new one.
			sess.Unlock()
			continue
		}
		if expired {
			s.logger.Info("session expired, starting fresh", "chat_id", chatID)
		}
		return sess
	}
}

func (s *Service) turn(ctx context.Context, sess *session.Session, first chat.InboundEvent) []chat.OutboundMessage {
	var out []chat.OutboundMessage
	queue := []chat.InboundEvent{first}

	for len(queue) > 0 {
		ev := queue[0]
		queue = queue[1:]

		var catalog *instrument.Catalog
		if NeedsCatalog(sess, ev) {
			c, err := s.Catalog(ctx)
			if err != nil {
				s.logger.Warn("catalog unavailable", "chat_id", ev.ChatID, "event_id", ev.ID, "error", err)
				out = append(out, s.machine.Abort(sess, ev, err)...)
				continue
			}
			catalog = c
		}

		prev := sess.State
		d := s.machine.Handle(sess, ev, catalog)
		out = append(out, d.Replies...)
		s.logger.Debug("event handled",
			"chat_id", ev.ChatID,
			"event_id", ev.ID,
			"kind", ev.Payload.Kind(),
			"from", prev,
			"to", sess.State,
			"deferred", d.Deferred,
		)
		if d.Request == nil {
			continue
		}

		resp, err := s.cache.GetOrCompute(ctx, *d.Request, s.backend.Call)
		if err != nil {
			s.logger.Warn("backend request failed",
				"chat_id", ev.ChatID,
				"op", d.Request.Op,
				"fingerprint", sess.PendingFingerprint,
				"error", err,
			)
		}
		replies, replay := s.machine.Resolve(sess, resp, err)
		out = append(out, replies...)
		queue = append(replay, queue...)
	}
	return out
}

// Catalog returns the instrument catalog built from the cached currency and
// share lists. The snapshot is rebuilt only when either list was re-fetched.
func (s *Service) Catalog(ctx context.Context) (*instrument.Catalog, error) {
	curResp, err := s.cache.GetOrCompute(ctx, cbr.CurrenciesRequest(), s.backend.Call)
	if err != nil {
		return nil, fmt.Errorf("loading currencies: %w", err)
	}
	secResp, err := s.cache.GetOrCompute(ctx, moex.SecuritiesRequest(), s.backend.Call)
	if err != nil {
		return nil, fmt.Errorf("loading securities: %w", err)
	}

	key := [2]time.Time{curResp.FetchedAt, secResp.FetchedAt}

	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	if s.catalog != nil && s.catalogKey == key {
		return s.catalog, nil
	}

	currencies, err := backend.Decode[[]instrument.Instrument](curResp)
	if err != nil {
		return nil, err
	}
	stocks, err := backend.Decode[[]instrument.Instrument](secResp)
	if err != nil {
		return nil, err
	}

	s.catalog = instrument.NewCatalog(currencies, stocks)
	s.catalogKey = key
	s.logger.Debug("catalog rebuilt", "instruments", s.catalog.Len())
	return s.catalog, nil
}
