// ABOUTME: Read-only HTTP API exposing runtime stats and the delivery/eviction audit trail
// ABOUTME: Provides GET /api/stats, /api/failures, /api/failures/{id}, and /api/evictions

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/2389/finbot-gateway/internal/backend"
	"github.com/2389/finbot-gateway/internal/store"
)

// StatsResponse is the JSON response for GET /api/stats.
type StatsResponse struct {
	Sessions int               `json:"sessions"`
	Dispatch DispatchStats     `json:"dispatch"`
	Egress   EgressStats       `json:"egress"`
	Cache    CacheStats        `json:"cache"`
	Breakers map[string]string `json:"breakers"`
}

// DispatchStats mirrors dispatch.Stats.
type DispatchStats struct {
	Chats     int    `json:"chats"`
	Queued    int    `json:"queued"`
	Active    int64  `json:"active"`
	Waiting   int64  `json:"waiting"`
	Processed uint64 `json:"processed"`
	Rejected  uint64 `json:"rejected"`
	Panics    uint64 `json:"panics"`
}

// EgressStats mirrors egress.Stats.
type EgressStats struct {
	Pending   int    `json:"pending"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Retries   uint64 `json:"retries"`
}

// CacheStats mirrors cache.Stats.
type CacheStats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Shared        uint64 `json:"shared"`
	Invalidations uint64 `json:"invalidations"`
}

// FailureResponse is one delivery failure in JSON form.
type FailureResponse struct {
	ID        string    `json:"id"`
	ChatID    int64     `json:"chat_id"`
	Kind      string    `json:"kind"`
	InReplyTo string    `json:"in_reply_to,omitempty"`
	Text      string    `json:"text"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"created_at"`
}

// EvictionResponse is one session eviction in JSON form.
type EvictionResponse struct {
	ID           string    `json:"id"`
	ChatID       int64     `json:"chat_id"`
	State        string    `json:"state"`
	LastActivity time.Time `json:"last_activity"`
	EvictedAt    time.Time `json:"evicted_at"`
}

// handleStats handles GET /api/stats.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	ds := g.scheduler.Stats()
	es := g.egress.Stats()
	cs := g.responses.Stats()

	response := StatsResponse{
		Sessions: g.sessions.Len(),
		Dispatch: DispatchStats{
			Chats:     ds.Chats,
			Queued:    ds.Queued,
			Active:    ds.Active,
			Waiting:   ds.Waiting,
			Processed: ds.Processed,
			Rejected:  ds.Rejected,
			Panics:    ds.Panics,
		},
		Egress: EgressStats{
			Pending:   es.Pending,
			Delivered: es.Delivered,
			Failed:    es.Failed,
			Retries:   es.Retries,
		},
		Cache: CacheStats{
			Hits:          cs.Hits,
			Misses:        cs.Misses,
			Shared:        cs.Shared,
			Invalidations: cs.Invalidations,
		},
		Breakers: lo.MapValues(g.backend.Breakers(), func(s backend.BreakerState, _ string) string {
			return s.String()
		}),
	}

	writeJSON(w, http.StatusOK, response)
}

// handleFailures handles GET /api/failures?chat_id=&since=&limit=.
func (g *Gateway) handleFailures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter store.FailureFilter

	if v := q.Get("chat_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "invalid chat_id")
			return
		}
		filter.ChatID = &id
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "invalid since, want RFC3339")
			return
		}
		filter.Since = &since
	}
	limit, ok := parseLimit(q.Get("limit"))
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	filter.Limit = limit

	failures, err := g.store.ListDeliveryFailures(r.Context(), filter)
	if err != nil {
		g.logger.Error("failed to list delivery failures", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, lo.Map(failures, func(f store.DeliveryFailure, _ int) FailureResponse {
		return toFailureResponse(&f)
	}))
}

// handleGetFailure handles GET /api/failures/{id}.
func (g *Gateway) handleGetFailure(w http.ResponseWriter, r *http.Request) {
	f, err := g.store.GetDeliveryFailure(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "delivery failure not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get delivery failure", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toFailureResponse(f))
}

// handleEvictions handles GET /api/evictions?chat_id=&limit=. chat_id is
// required.
func (g *Gateway) handleEvictions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chatID, err := strconv.ParseInt(q.Get("chat_id"), 10, 64)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "chat_id is required")
		return
	}
	limit, ok := parseLimit(q.Get("limit"))
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	evictions, err := g.store.ListEvictions(r.Context(), chatID, limit)
	if err != nil {
		g.logger.Error("failed to list evictions", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, lo.Map(evictions, func(e store.SessionEviction, _ int) EvictionResponse {
		return EvictionResponse{
			ID:           e.ID,
			ChatID:       e.ChatID,
			State:        e.State,
			LastActivity: e.LastActivity,
			EvictedAt:    e.EvictedAt,
		}
	}))
}

func toFailureResponse(f *store.DeliveryFailure) FailureResponse {
	return FailureResponse{
		ID:        f.ID,
		ChatID:    f.ChatID,
		Kind:      f.Kind,
		InReplyTo: f.InReplyTo,
		Text:      f.Text,
		Attempts:  f.Attempts,
		Error:     f.Error,
		CreatedAt: f.CreatedAt,
	}
}

// parseLimit accepts an empty string as "use the store default".
func parseLimit(v string) (int, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
