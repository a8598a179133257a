// ABOUTME: Gateway orchestrator wiring telegram intake, dispatch, backends and egress
// ABOUTME: Owns the HTTP server, scheduled jobs, and the ordered shutdown of every component

package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/go-telegram/bot"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/2389/finbot-gateway/internal/backend"
	"github.com/2389/finbot-gateway/internal/backend/cbr"
	"github.com/2389/finbot-gateway/internal/backend/moex"
	"github.com/2389/finbot-gateway/internal/cache"
	"github.com/2389/finbot-gateway/internal/chat"
	"github.com/2389/finbot-gateway/internal/config"
	"github.com/2389/finbot-gateway/internal/conversation"
	"github.com/2389/finbot-gateway/internal/dedupe"
	"github.com/2389/finbot-gateway/internal/dispatch"
	"github.com/2389/finbot-gateway/internal/egress"
	"github.com/2389/finbot-gateway/internal/ingress"
	"github.com/2389/finbot-gateway/internal/session"
	"github.com/2389/finbot-gateway/internal/store"
	"github.com/2389/finbot-gateway/internal/telegram"
)

// shutdownTimeout bounds the drain performed when Run's context ends.
const shutdownTimeout = 10 * time.Second

// secretTokenHeader carries the webhook secret on every Bot API delivery.
const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// Gateway orchestrates the finbot-gateway components.
type Gateway struct {
	config *config.Config
	logger *slog.Logger

	store     store.Store
	sessions  *session.Store
	responses *cache.Cache
	backend   *backend.Gateway
	seen      *dedupe.Cache
	ingress   *ingress.Ingress
	bot       *telegram.Bot
	scheduler *dispatch.Scheduler
	egress    *egress.Dispatcher
	jobs      gocron.Scheduler
	redis     *redis.Client

	httpServer *http.Server

	now func() time.Time

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option customizes a Gateway.
type Option func(*options)

type options struct {
	botOptions []bot.Option
}

// WithBotOptions passes extra options to the Bot API client.
func WithBotOptions(opts ...bot.Option) Option {
	return func(o *options) {
		o.botOptions = append(o.botOptions, opts...)
	}
}

// New builds every component from cfg. Nothing is started until Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	g := &Gateway{
		config: cfg,
		logger: logger,
		now:    time.Now,
	}

	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	g.store = sqlStore

	if err := g.build(o); err != nil {
		if g.egress != nil {
			_ = g.egress.Close(context.Background())
		}
		g.closeComponents()
		return nil, err
	}
	return g, nil
}

func (g *Gateway) build(o options) error {
	cfg := g.config

	g.backend = backend.New(backend.Config{
		Timeout:          cfg.Backend.Timeout,
		MaxAttempts:      cfg.Backend.MaxAttempts,
		InitialBackoff:   cfg.Backend.InitialBackoff,
		MaxBackoff:       cfg.Backend.MaxBackoff,
		Jitter:           cfg.Backend.Jitter,
		BreakerThreshold: cfg.Backend.BreakerThreshold,
		BreakerCooldown:  cfg.Backend.BreakerCooldown,
	}, g.logger)
	httpClient := &http.Client{Timeout: cfg.Backend.Timeout}
	cbr.Register(g.backend, cbr.New(cfg.Backend.CBRURL, httpClient, g.logger))
	moex.Register(g.backend, moex.New(cfg.Backend.MOEXURL, "", httpClient, g.logger))

	cacheStore, err := g.newCacheStore()
	if err != nil {
		return err
	}
	g.responses = cache.New(cacheStore, cfg.Cache.TTLFor, g.logger)
	g.sessions = session.NewStore(g.logger)
	conv := conversation.New(g.sessions, g.responses, g.backend, g.logger)

	g.seen = dedupe.New(cfg.Ingress.DedupTTL, cfg.Ingress.DedupSize)
	g.ingress = ingress.New(g.seen, g.logger)

	// The handler submits through g so the scheduler can be built after the
	// bot, whose transport the egress side needs.
	handler := telegram.NewHandler(g.ingress, g, g.logger)
	g.bot, err = telegram.New(telegram.Config{
		Token:         cfg.Telegram.Token,
		Mode:          cfg.Telegram.Mode,
		WebhookURL:    cfg.Telegram.WebhookURL,
		WebhookSecret: cfg.Telegram.WebhookSecret,
		APIURL:        cfg.Telegram.APIURL,
	}, handler, g.logger, o.botOptions...)
	if err != nil {
		return err
	}

	g.egress = egress.New(egress.Config{
		Lanes:          cfg.Egress.Lanes,
		QueueSize:      cfg.Egress.QueueSize,
		MaxAttempts:    cfg.Egress.MaxAttempts,
		InitialBackoff: cfg.Egress.InitialBackoff,
		MaxBackoff:     cfg.Egress.MaxBackoff,
	}, g.bot.Transport(), g.store, g.logger)

	g.scheduler = dispatch.New(dispatch.Config{
		MaxWorkers:      cfg.Dispatch.MaxWorkers,
		ChatQueueSize:   cfg.Dispatch.ChatQueueSize,
		GlobalQueueSize: cfg.Dispatch.GlobalQueueSize,
		Quantum:         cfg.Dispatch.Quantum,
	}, conv, g.egress, g.logger)

	g.jobs, err = g.newJobs()
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	g.registerRoutes(mux)
	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// newCacheStore picks the response cache driver.
func (g *Gateway) newCacheStore() (cache.Store, error) {
	cfg := g.config
	if cfg.Cache.Driver != "redis" {
		return cache.NewMemoryStore(nil), nil
	}

	g.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
	}
	g.logger.Info("response cache using redis", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.KeyPrefix)
	return cache.NewRedisStore(g.redis, cfg.Redis.KeyPrefix), nil
}

func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	mux.HandleFunc("GET /api/stats", g.handleStats)
	mux.HandleFunc("GET /api/failures", g.handleFailures)
	mux.HandleFunc("GET /api/failures/{id}", g.handleGetFailure)
	mux.HandleFunc("GET /api/evictions", g.handleEvictions)
	if g.config.Telegram.Mode == telegram.ModeWebhook {
		mux.Handle("POST /telegram/webhook", g.requireWebhookSecret(g.bot.WebhookHandler()))
	}
}

// requireWebhookSecret refuses deliveries whose secret header does not match
// the configured webhook secret. With no secret configured every delivery
// is accepted.
func (g *Gateway) requireWebhookSecret(next http.Handler) http.Handler {
	secret := []byte(g.config.Telegram.WebhookSecret)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(secret) > 0 && subtle.ConstantTimeCompare([]byte(r.Header.Get(secretTokenHeader)), secret) != 1 {
			g.logger.Warn("webhook delivery with bad secret refused", "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Submit implements telegram.Submitter by forwarding to the scheduler.
func (g *Gateway) Submit(ev chat.InboundEvent) error {
	return g.scheduler.Submit(ev)
}

// Run starts the HTTP server, the scheduled jobs and update intake, and
// blocks until ctx is cancelled or a component fails. It then shuts down.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}

	if err := g.bot.RegisterCommands(ctx); err != nil {
		g.logger.Warn("registering bot commands failed", "error", err)
	}
	g.jobs.Start()

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		return g.bot.Run(egCtx)
	})

	eg.Go(func() error {
		<-egCtx.Done()
		g.logger.Info("context canceled, initiating shutdown")
		return g.gracefulShutdown()
	})

	return eg.Wait()
}

// gracefulShutdown uses a fresh context since Run's context is already done.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops intake first, then drains in-flight turns into egress and
// egress into Telegram, then releases storage. It is safe to call twice.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway")

		var errs []error
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
		errs = appendCloseError(errs, "scheduler close", g.scheduler.Close(ctx))
		errs = appendCloseError(errs, "egress close", g.egress.Close(ctx))
		errs = append(errs, g.closeComponents()...)

		if len(errs) > 0 {
			g.shutdownErr = fmt.Errorf("shutdown errors: %v", errs)
		}
	})
	return g.shutdownErr
}

// closeComponents releases everything that may have been built. Nil fields
// are skipped so it also serves a partially constructed gateway.
func (g *Gateway) closeComponents() []error {
	var errs []error
	if g.jobs != nil {
		errs = appendCloseError(errs, "jobs shutdown", g.jobs.Shutdown())
	}
	if g.seen != nil {
		g.seen.Close()
	}
	if g.redis != nil {
		errs = appendCloseError(errs, "redis close", g.redis.Close())
	}
	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}
	return errs
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 503 while any backend circuit breaker is open.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	open := g.backend.OpenEndpoints()
	if len(open) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "backend unavailable: %s", strings.Join(open, ", "))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
