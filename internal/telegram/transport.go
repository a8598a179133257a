// ABOUTME: Telegram delivery transport implementing egress.Transport
// ABOUTME: Maps outbound messages to sendMessage, editMessageText, and answerCallbackQuery

package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/2389/finbot-gateway/internal/chat"
	"github.com/2389/finbot-gateway/internal/egress"
)

// API is the subset of *bot.Bot used for delivery.
type API interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	SetMyCommands(ctx context.Context, params *bot.SetMyCommandsParams) (bool, error)
}

var _ API = (*bot.Bot)(nil)

// Transport delivers outbound messages through the Bot API.
type Transport struct {
	api API
}

var _ egress.Transport = (*Transport)(nil)

// NewTransport creates a transport.
func NewTransport(api API) *Transport {
	return &Transport{api: api}
}

// Deliver performs one delivery attempt.
func (t *Transport) Deliver(ctx context.Context, msg chat.OutboundMessage) error {
	var err error
	switch msg.Kind {
	case chat.KindSend:
		_, err = t.api.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:      msg.ChatID,
			Text:        msg.Text,
			ReplyMarkup: replyMarkup(msg.Keyboard),
		})
	case chat.KindEdit:
		params := &bot.EditMessageTextParams{
			ChatID:    msg.ChatID,
			MessageID: msg.MessageID,
			Text:      msg.Text,
		}
		if msg.Keyboard != nil && len(msg.Keyboard.Inline) > 0 {
			params.ReplyMarkup = inlineMarkup(msg.Keyboard.Inline)
		}
		_, err = t.api.EditMessageText(ctx, params)
	case chat.KindAnswerCallback:
		_, err = t.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
			CallbackQueryID: msg.CallbackQueryID,
			Text:            msg.Text,
		})
	default:
		return egress.Permanent(fmt.Errorf("unsupported message kind %v", msg.Kind))
	}
	return classify(err)
}

// classify maps Bot API errors onto egress retry semantics.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var tmr *bot.TooManyRequestsError
	if errors.As(err, &tmr) {
		return &egress.RetryAfterError{After: time.Duration(tmr.RetryAfter) * time.Second, Err: err}
	}
	switch {
	case errors.Is(err, bot.ErrorForbidden),
		errors.Is(err, bot.ErrorBadRequest),
		errors.Is(err, bot.ErrorUnauthorized),
		errors.Is(err, bot.ErrorNotFound):
		return egress.Permanent(err)
	}
	return err
}

func replyMarkup(kb *chat.Keyboard) models.ReplyMarkup {
	switch {
	case kb == nil:
		return nil
	case len(kb.Inline) > 0:
		return inlineMarkup(kb.Inline)
	case len(kb.Reply) > 0:
		rows := make([][]models.KeyboardButton, len(kb.Reply))
		for i, row := range kb.Reply {
			rows[i] = make([]models.KeyboardButton, len(row))
			for j, label := range row {
				rows[i][j] = models.KeyboardButton{Text: label}
			}
		}
		return &models.ReplyKeyboardMarkup{Keyboard: rows, ResizeKeyboard: true}
	}
	return nil
}

func inlineMarkup(buttons [][]chat.Button) *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, len(buttons))
	for i, row := range buttons {
		rows[i] = make([]models.InlineKeyboardButton, len(row))
		for j, b := range row {
			rows[i][j] = models.InlineKeyboardButton{Text: b.Text, CallbackData: b.Data}
		}
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}
