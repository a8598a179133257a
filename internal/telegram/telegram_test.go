package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/finbot-gateway/internal/chat"
	"github.com/2389/finbot-gateway/internal/dedupe"
	"github.com/2389/finbot-gateway/internal/dispatch"
	"github.com/2389/finbot-gateway/internal/egress"
	"github.com/2389/finbot-gateway/internal/ingress"
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []*bot.SendMessageParams
	edited   []*bot.EditMessageTextParams
	answered []*bot.AnswerCallbackQueryParams
	commands []models.BotCommand
	err      error
}

func (f *fakeAPI) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
	return &models.Message{ID: len(f.sent)}, f.err
}

func (f *fakeAPI) EditMessageText(_ context.Context, p *bot.EditMessageTextParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, p)
	return &models.Message{ID: p.MessageID}, f.err
}

func (f *fakeAPI) AnswerCallbackQuery(_ context.Context, p *bot.AnswerCallbackQueryParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, p)
	return f.err == nil, f.err
}

func (f *fakeAPI) SetMyCommands(_ context.Context, p *bot.SetMyCommandsParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = p.Commands
	return f.err == nil, f.err
}

func TestTransport_Send(t *testing.T) {
	api := &fakeAPI{}
	tr := NewTransport(api)

	msg := chat.Send(42, "choose", "1").WithKeyboard(&chat.Keyboard{
		Inline: [][]chat.Button{{{Text: "💰 USD", Data: "currency_USD"}}},
	})
	require.NoError(t, tr.Deliver(context.Background(), msg))

	require.Len(t, api.sent, 1)
	p := api.sent[0]
	assert.Equal(t, int64(42), p.ChatID)
	assert.Equal(t, "choose", p.Text)
	markup, ok := p.ReplyMarkup.(*models.InlineKeyboardMarkup)
	require.True(t, ok)
	assert.Equal(t, "currency_USD", markup.InlineKeyboard[0][0].CallbackData)
}

func TestTransport_SendReplyKeyboard(t *testing.T) {
	api := &fakeAPI{}
	tr := NewTransport(api)

	msg := chat.Send(42, "menu", "1").WithKeyboard(&chat.Keyboard{
		Reply: [][]string{{"💰 Курс валюты (/rate)", "📈 Цена акции (/price)"}},
	})
	require.NoError(t, tr.Deliver(context.Background(), msg))

	markup, ok := api.sent[0].ReplyMarkup.(*models.ReplyKeyboardMarkup)
	require.True(t, ok)
	assert.True(t, markup.ResizeKeyboard)
	assert.Equal(t, "📈 Цена акции (/price)", markup.Keyboard[0][1].Text)
}

func TestTransport_SendPlain(t *testing.T) {
	api := &fakeAPI{}
	require.NoError(t, NewTransport(api).Deliver(context.Background(), chat.Send(1, "hi", "")))
	assert.Nil(t, api.sent[0].ReplyMarkup)
}

func TestTransport_EditAndAnswer(t *testing.T) {
	api := &fakeAPI{}
	tr := NewTransport(api)
	ctx := context.Background()

	require.NoError(t, tr.Deliver(ctx, chat.Edit(42, 77, "Выбор сделан ✅", "2")))
	require.NoError(t, tr.Deliver(ctx, chat.Answer(42, "q-1", "", "2")))

	require.Len(t, api.edited, 1)
	assert.Equal(t, 77, api.edited[0].MessageID)
	assert.Nil(t, api.edited[0].ReplyMarkup, "an edit without a keyboard removes the buttons")

	require.Len(t, api.answered, 1)
	assert.Equal(t, "q-1", api.answered[0].CallbackQueryID)
}

func TestTransport_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		permanent  bool
		retryAfter time.Duration
	}{
		{"forbidden", fmt.Errorf("%w, bot was blocked by the user", bot.ErrorForbidden), true, 0},
		{"bad request", fmt.Errorf("%w, message is not modified", bot.ErrorBadRequest), true, 0},
		{"not found", bot.ErrorNotFound, true, 0},
		{"too many requests", &bot.TooManyRequestsError{Message: "slow down", RetryAfter: 3}, false, 3 * time.Second},
		{"network", errors.New("connection reset by peer"), false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTransport(&fakeAPI{err: tt.err})
			err := tr.Deliver(context.Background(), chat.Send(1, "x", ""))
			require.Error(t, err)
			assert.Equal(t, tt.permanent, errors.Is(err, egress.ErrPermanent))

			var ra *egress.RetryAfterError
			if tt.retryAfter > 0 {
				require.ErrorAs(t, err, &ra)
				assert.Equal(t, tt.retryAfter, ra.After)
			} else {
				assert.False(t, errors.As(err, &ra))
			}
		})
	}
}

func TestRegisterCommands(t *testing.T) {
	api := &fakeAPI{}
	require.NoError(t, registerCommands(context.Background(), api))
	assert.Equal(t, Commands, api.commands)

	api.err = errors.New("unauthorized")
	assert.Error(t, registerCommands(context.Background(), api))
}

type fakeSubmitter struct {
	mu     sync.Mutex
	events []chat.InboundEvent
	err    error
}

func (f *fakeSubmitter) Submit(ev chat.InboundEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func newHandler(t *testing.T, sub Submitter) *Handler {
	t.Helper()
	seen := dedupe.New(time.Hour, 100)
	t.Cleanup(seen.Close)
	return NewHandler(ingress.New(seen, nil), sub, nil)
}

func update(id int64, text string) *models.Update {
	return &models.Update{
		ID: id,
		Message: &models.Message{
			ID:   int(id),
			Chat: models.Chat{ID: 42},
			From: &models.User{ID: 7},
			Text: text,
		},
	}
}

func TestHandler_SchedulesOnce(t *testing.T) {
	sub := &fakeSubmitter{}
	h := newHandler(t, sub)
	ctx := context.Background()

	assert.True(t, h.HandleUpdate(ctx, update(1, "/status")))
	assert.False(t, h.HandleUpdate(ctx, update(1, "/status")), "redelivery is dropped")
	assert.False(t, h.HandleUpdate(ctx, &models.Update{ID: 2}), "unsupported update is dropped")

	require.Len(t, sub.events, 1)
	assert.Equal(t, chat.Command{Name: "status"}, sub.events[0].Payload)
}

func TestHandler_BackpressureAllowsRedelivery(t *testing.T) {
	sub := &fakeSubmitter{err: fmt.Errorf("%w: chat 42", dispatch.ErrBackpressure)}
	h := newHandler(t, sub)
	ctx := context.Background()

	assert.False(t, h.HandleUpdate(ctx, update(1, "usd")))

	sub.err = nil
	assert.True(t, h.HandleUpdate(ctx, update(1, "usd")), "the refused update was not marked seen")
	assert.Len(t, sub.events, 1)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "Прив...", truncate("Привет", 4))
}
