// ABOUTME: Store interface and audit record types for finbot-gateway persistence
// ABOUTME: Defines DeliveryFailure and SessionEviction plus list filters

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// DeliveryFailure records an outbound message that egress gave up on
type DeliveryFailure struct {
	ID        string
	ChatID    int64
	Kind      string // "send", "edit" or "answer_callback"
	InReplyTo string // inbound event id that produced the message
	Text      string
	Attempts  int
	Error     string
	CreatedAt time.Time
}

// SessionEviction records a session removed by the idle sweep
type SessionEviction struct {
	ID           string
	ChatID       int64
	State        string
	LastActivity time.Time
	EvictedAt    time.Time
}

// FailureFilter narrows ListDeliveryFailures
type FailureFilter struct {
	ChatID *int64     // only this chat
	Since  *time.Time // created at or after
	Limit  int        // default 100, max 1000
}

// Store defines the audit persistence operations
type Store interface {
	// RecordDeliveryFailure appends a failure. ID and CreatedAt are generated
	// when empty.
	RecordDeliveryFailure(ctx context.Context, f *DeliveryFailure) error

	// ListDeliveryFailures returns failures matching the filter, newest first.
	ListDeliveryFailures(ctx context.Context, f FailureFilter) ([]DeliveryFailure, error)

	// GetDeliveryFailure returns one failure by id or ErrNotFound.
	GetDeliveryFailure(ctx context.Context, id string) (*DeliveryFailure, error)

	// RecordEvictions appends evictions atomically.
	RecordEvictions(ctx context.Context, evictions []SessionEviction) error

	// ListEvictions returns a chat's evictions, newest first.
	ListEvictions(ctx context.Context, chatID int64, limit int) ([]SessionEviction, error)

	// PruneBefore deletes records older than cutoff and returns how many
	// rows were removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases the underlying database.
	Close() error
}

// normalizeLimit applies default (100) and cap (1000) to a list limit.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
