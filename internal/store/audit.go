// ABOUTME: Audit record persistence for dropped deliveries and evicted sessions
// ABOUTME: Rows are written with generated UUIDs and fixed-width UTC timestamps

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type failureRow struct {
	ID        string `db:"id"`
	ChatID    int64  `db:"chat_id"`
	Kind      string `db:"kind"`
	InReplyTo string `db:"in_reply_to"`
	Text      string `db:"text"`
	Attempts  int    `db:"attempts"`
	Error     string `db:"error"`
	CreatedAt string `db:"created_at"`
}

func (r failureRow) toFailure() (DeliveryFailure, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return DeliveryFailure{}, err
	}
	return DeliveryFailure{
		ID:        r.ID,
		ChatID:    r.ChatID,
		Kind:      r.Kind,
		InReplyTo: r.InReplyTo,
		Text:      r.Text,
		Attempts:  r.Attempts,
		Error:     r.Error,
		CreatedAt: created,
	}, nil
}

type evictionRow struct {
	ID           string `db:"id"`
	ChatID       int64  `db:"chat_id"`
	State        string `db:"state"`
	LastActivity string `db:"last_activity"`
	EvictedAt    string `db:"evicted_at"`
}

// RecordDeliveryFailure appends a delivery failure.
// Generates ID and CreatedAt if not set.
func (s *SQLiteStore) RecordDeliveryFailure(ctx context.Context, f *DeliveryFailure) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO delivery_failures (id, chat_id, kind, in_reply_to, text, attempts, error, created_at)
		VALUES (:id, :chat_id, :kind, :in_reply_to, :text, :attempts, :error, :created_at)
	`
	_, err := s.db.NamedExecContext(ctx, query, failureRow{
		ID:        f.ID,
		ChatID:    f.ChatID,
		Kind:      f.Kind,
		InReplyTo: f.InReplyTo,
		Text:      f.Text,
		Attempts:  f.Attempts,
		Error:     f.Error,
		CreatedAt: formatTime(f.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("inserting delivery failure: %w", err)
	}

	s.logger.Debug("recorded delivery failure",
		"id", f.ID,
		"chat_id", f.ChatID,
		"kind", f.Kind,
		"attempts", f.Attempts,
	)
	return nil
}

const failuresQuery = `
	SELECT id, chat_id, kind, in_reply_to, text, attempts, error, created_at
	FROM delivery_failures
	WHERE (? IS NULL OR chat_id = ?)
	  AND (? IS NULL OR created_at >= ?)
	ORDER BY created_at DESC
	LIMIT ?
`

// ListDeliveryFailures returns failures matching the filter, newest first.
func (s *SQLiteStore) ListDeliveryFailures(ctx context.Context, f FailureFilter) ([]DeliveryFailure, error) {
	var since *string
	if f.Since != nil {
		v := formatTime(*f.Since)
		since = &v
	}

	var rows []failureRow
	err := s.db.SelectContext(ctx, &rows, failuresQuery,
		f.ChatID, f.ChatID,
		since, since,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying delivery failures: %w", err)
	}

	out := make([]DeliveryFailure, 0, len(rows))
	for _, r := range rows {
		df, err := r.toFailure()
		if err != nil {
			return nil, err
		}
		out = append(out, df)
	}
	return out, nil
}

// GetDeliveryFailure returns one failure by id.
func (s *SQLiteStore) GetDeliveryFailure(ctx context.Context, id string) (*DeliveryFailure, error) {
	var r failureRow
	err := s.db.GetContext(ctx, &r, `
		SELECT id, chat_id, kind, in_reply_to, text, attempts, error, created_at
		FROM delivery_failures WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying delivery failure: %w", err)
	}
	df, err := r.toFailure()
	if err != nil {
		return nil, err
	}
	return &df, nil
}

// RecordEvictions appends evictions in one transaction.
func (s *SQLiteStore) RecordEvictions(ctx context.Context, evictions []SessionEviction) error {
	if len(evictions) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO session_evictions (id, chat_id, state, last_activity, evicted_at)
		VALUES (:id, :chat_id, :state, :last_activity, :evicted_at)
	`
	now := time.Now().UTC()
	for i := range evictions {
		e := &evictions[i]
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.EvictedAt.IsZero() {
			e.EvictedAt = now
		}
		if _, err := tx.NamedExecContext(ctx, query, evictionRow{
			ID:           e.ID,
			ChatID:       e.ChatID,
			State:        e.State,
			LastActivity: formatTime(e.LastActivity),
			EvictedAt:    formatTime(e.EvictedAt),
		}); err != nil {
			return fmt.Errorf("inserting eviction for chat %d: %w", e.ChatID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing evictions: %w", err)
	}
	return nil
}

// ListEvictions returns a chat's evictions, newest first.
func (s *SQLiteStore) ListEvictions(ctx context.Context, chatID int64, limit int) ([]SessionEviction, error) {
	var rows []evictionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, chat_id, state, last_activity, evicted_at
		FROM session_evictions
		WHERE chat_id = ?
		ORDER BY evicted_at DESC
		LIMIT ?`, chatID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying evictions: %w", err)
	}

	out := make([]SessionEviction, 0, len(rows))
	for _, r := range rows {
		last, err := parseTime(r.LastActivity)
		if err != nil {
			return nil, err
		}
		at, err := parseTime(r.EvictedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, SessionEviction{
			ID:           r.ID,
			ChatID:       r.ChatID,
			State:        r.State,
			LastActivity: last,
			EvictedAt:    at,
		})
	}
	return out, nil
}

// PruneBefore deletes failures and evictions older than cutoff.
func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ts := formatTime(cutoff)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, q := range []string{
		`DELETE FROM delivery_failures WHERE created_at < ?`,
		`DELETE FROM session_evictions WHERE evicted_at < ?`,
	} {
		res, err := tx.ExecContext(ctx, q, ts)
		if err != nil {
			return 0, fmt.Errorf("pruning audit rows: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("counting pruned rows: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}
	if total > 0 {
		s.logger.Info("pruned audit rows", "count", total, "before", cutoff)
	}
	return total, nil
}
