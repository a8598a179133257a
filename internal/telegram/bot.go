// ABOUTME: Bot lifecycle: construction, command registration, and polling or webhook intake
// ABOUTME: Wraps *bot.Bot with the gateway's middleware and default handler

package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Mode values.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// Config holds the bot connection settings.
type Config struct {
	Token         string
	Mode          string
	WebhookURL    string
	WebhookSecret string
	APIURL        string
}

// Commands are registered with setMyCommands so clients show them in the menu.
var Commands = []models.BotCommand{
	{Command: "start", Description: "Главное меню"},
	{Command: "rate", Description: "Курс валюты ЦБ РФ"},
	{Command: "price", Description: "Цена акции на Мосбирже"},
	{Command: "search", Description: "Поиск инструментов"},
	{Command: "search_currency", Description: "Поиск валют"},
	{Command: "search_stock", Description: "Поиск акций"},
	{Command: "status", Description: "Состояние сервиса данных"},
	{Command: "refresh", Description: "Обновить данные (rates или shares)"},
	{Command: "help", Description: "Справка"},
}

// Bot owns the Bot API client.
type Bot struct {
	cfg       Config
	client    *bot.Bot
	transport *Transport
	logger    *slog.Logger
}

// New creates the Bot API client. It calls getMe, so the token is checked
// here.
func New(cfg Config, handler *Handler, logger *slog.Logger, extra ...bot.Option) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "telegram")

	opts := []bot.Option{
		bot.WithMiddlewares(Middleware(logger)),
		bot.WithDefaultHandler(handler.Handle),
		bot.WithErrorsHandler(func(err error) {
			logger.Warn("bot api error", "error", err)
		}),
	}
	if cfg.APIURL != "" {
		opts = append(opts, bot.WithServerURL(cfg.APIURL))
	}
	if cfg.WebhookSecret != "" {
		opts = append(opts, bot.WithWebhookSecretToken(cfg.WebhookSecret))
	}
	opts = append(opts, extra...)

	client, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}

	return &Bot{
		cfg:       cfg,
		client:    client,
		transport: NewTransport(client),
		logger:    logger,
	}, nil
}

// Transport returns the delivery transport backed by this client.
func (b *Bot) Transport() *Transport { return b.transport }

// WebhookHandler serves webhook deliveries. It is only active in webhook
// mode; Run starts the workers that drain it.
func (b *Bot) WebhookHandler() http.Handler {
	return b.client.WebhookHandler()
}

// RegisterCommands publishes Commands to Telegram.
func (b *Bot) RegisterCommands(ctx context.Context) error {
	return registerCommands(ctx, b.client)
}

func registerCommands(ctx context.Context, api API) error {
	if _, err := api.SetMyCommands(ctx, &bot.SetMyCommandsParams{Commands: Commands}); err != nil {
		return fmt.Errorf("setting bot commands: %w", err)
	}
	return nil
}

// Run receives updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if b.cfg.Mode == ModeWebhook {
		if _, err := b.client.SetWebhook(ctx, &bot.SetWebhookParams{
			URL:         b.cfg.WebhookURL,
			SecretToken: b.cfg.WebhookSecret,
		}); err != nil {
			return fmt.Errorf("setting webhook: %w", err)
		}
		b.logger.Info("receiving updates via webhook", "url", b.cfg.WebhookURL)
		b.client.StartWebhook(ctx)
		return nil
	}

	if _, err := b.client.DeleteWebhook(ctx, &bot.DeleteWebhookParams{}); err != nil {
		return fmt.Errorf("deleting webhook: %w", err)
	}
	b.logger.Info("receiving updates via long polling")
	b.client.Start(ctx)
	return nil
}
