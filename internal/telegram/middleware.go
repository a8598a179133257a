// ABOUTME: Logging middleware for go-telegram/bot handlers
// ABOUTME: Logs update id, chat, user, a text preview, and handling duration

package telegram

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const previewLen = 50

// Middleware logs each update after it has been handled.
func Middleware(logger *slog.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			start := time.Now()
			attrs := []any{"update_id", update.ID}

			switch {
			case update.Message != nil:
				m := update.Message
				attrs = append(attrs,
					"type", "message",
					"chat_id", m.Chat.ID,
					"message_id", m.ID,
					"text_preview", truncate(m.Text, previewLen),
				)
				if m.From != nil {
					attrs = append(attrs, "user_id", m.From.ID)
				}
			case update.CallbackQuery != nil:
				cq := update.CallbackQuery
				attrs = append(attrs,
					"type", "callback_query",
					"user_id", cq.From.ID,
					"data", cq.Data,
				)
			default:
				attrs = append(attrs, "type", "other")
			}

			next(ctx, b, update)

			attrs = append(attrs, "duration", time.Since(start))
			logger.DebugContext(ctx, "update handled", attrs...)
		}
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
