// ABOUTME: Default update handler feeding normalized events into the dispatch scheduler
// ABOUTME: Duplicate and malformed updates are dropped; backpressure releases the dedup mark

package telegram

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/2389/finbot-gateway/internal/chat"
	"github.com/2389/finbot-gateway/internal/ingress"
)

// Submitter accepts events for processing.
type Submitter interface {
	Submit(ev chat.InboundEvent) error
}

// Handler is the bot's default handler.
type Handler struct {
	ingress   *ingress.Ingress
	scheduler Submitter
	logger    *slog.Logger
}

// NewHandler creates a handler.
func NewHandler(in *ingress.Ingress, scheduler Submitter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		ingress:   in,
		scheduler: scheduler,
		logger:    logger.With("component", "telegram"),
	}
}

// Handle matches bot.HandlerFunc.
func (h *Handler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	h.HandleUpdate(ctx, update)
}

// HandleUpdate ingests one update and returns whether it was scheduled.
func (h *Handler) HandleUpdate(ctx context.Context, update *models.Update) bool {
	ev, err := h.ingress.Ingest(update)
	if err != nil {
		level := slog.LevelDebug
		if !errors.Is(err, ingress.ErrRejected) {
			level = slog.LevelWarn
		}
		h.logger.Log(ctx, level, "update dropped", "error", err)
		return false
	}

	if err := h.scheduler.Submit(ev); err != nil {
		h.ingress.Release(ev)
		h.logger.WarnContext(ctx, "update not scheduled",
			"event_id", ev.ID,
			"chat_id", ev.ChatID,
			"error", err,
		)
		return false
	}
	return true
}
