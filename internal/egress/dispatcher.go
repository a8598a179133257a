// ABOUTME: Dispatcher fans outbound messages onto per-chat lanes and delivers them
// ABOUTME: Uses retry-go for backoff and records exhausted deliveries in the audit store

package egress

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/2389/finbot-gateway/internal/chat"
	"github.com/2389/finbot-gateway/internal/store"
)

// Transport performs one delivery attempt.
type Transport interface {
	Deliver(ctx context.Context, msg chat.OutboundMessage) error
}

// Auditor records messages that could not be delivered.
type Auditor interface {
	RecordDeliveryFailure(ctx context.Context, f *store.DeliveryFailure) error
}

// Config controls lanes and retries.
type Config struct {
	Lanes          int
	QueueSize      int
	MaxAttempts    uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Lanes:          8,
		QueueSize:      256,
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

// Stats reports delivery counters.
type Stats struct {
	Pending   int
	Delivered uint64
	Failed    uint64
	Retries   uint64
}

// Dispatcher delivers outbound messages.
type Dispatcher struct {
	cfg       Config
	transport Transport
	audit     Auditor
	logger    *slog.Logger

	lanes []chan chat.OutboundMessage
	ctx   context.Context
	stop  context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	delivered atomic.Uint64
	failed    atomic.Uint64
	retries   atomic.Uint64
}

// New creates a dispatcher and starts its lanes. audit may be nil.
func New(cfg Config, transport Transport, audit Auditor, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Lanes <= 0 {
		cfg.Lanes = def.Lanes
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	ctx, stop := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:       cfg,
		transport: transport,
		audit:     audit,
		logger:    logger.With("component", "egress"),
		lanes:     make([]chan chat.OutboundMessage, cfg.Lanes),
		ctx:       ctx,
		stop:      stop,
	}
	for i := range d.lanes {
		d.lanes[i] = make(chan chat.OutboundMessage, cfg.QueueSize)
		d.wg.Add(1)
		go d.drain(d.lanes[i])
	}
	return d
}

// Enqueue queues msg on its chat's lane, waiting while the lane is full.
func (d *Dispatcher) Enqueue(ctx context.Context, msg chat.OutboundMessage) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}
	select {
	case d.lanes[d.laneFor(msg.ChatID)] <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) laneFor(chatID int64) int {
	return int(uint64(chatID) % uint64(len(d.lanes)))
}

func (d *Dispatcher) drain(lane <-chan chat.OutboundMessage) {
	defer d.wg.Done()
	for msg := range lane {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg chat.OutboundMessage) {
	var attempts uint
	err := retry.Do(
		func() error {
			attempts++
			return d.transport.Deliver(d.ctx, msg)
		},
		retry.Context(d.ctx),
		retry.Attempts(d.cfg.MaxAttempts),
		retry.Delay(d.cfg.InitialBackoff),
		retry.MaxDelay(d.cfg.MaxBackoff),
		retry.DelayType(retryAfterDelay),
		retry.RetryIf(Retryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			d.retries.Add(1)
			d.logger.Debug("delivery attempt failed",
				"chat_id", msg.ChatID,
				"kind", msg.Kind,
				"attempt", n+1,
				"error", err,
			)
		}),
	)
	if err == nil {
		d.delivered.Add(1)
		return
	}

	d.failed.Add(1)
	d.logger.Warn("dropping undeliverable message",
		"chat_id", msg.ChatID,
		"kind", msg.Kind,
		"in_reply_to", msg.InReplyTo,
		"attempts", attempts,
		"error", err,
	)
	d.record(msg, attempts, err)
}

// retryAfterDelay honours a platform-requested delay, otherwise backs off
// exponentially.
func retryAfterDelay(n uint, err error, config *retry.Config) time.Duration {
	var ra *RetryAfterError
	if errors.As(err, &ra) && ra.After > 0 {
		return ra.After
	}
	return retry.BackOffDelay(n, err, config)
}

func (d *Dispatcher) record(msg chat.OutboundMessage, attempts uint, cause error) {
	if d.audit == nil {
		return
	}
	// The audit row is written even when shutdown cancelled delivery.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(d.ctx), 5*time.Second)
	defer cancel()

	err := d.audit.RecordDeliveryFailure(ctx, &store.DeliveryFailure{
		ChatID:    msg.ChatID,
		Kind:      msg.Kind.String(),
		InReplyTo: msg.InReplyTo,
		Text:      msg.Text,
		Attempts:  int(attempts),
		Error:     cause.Error(),
	})
	if err != nil {
		d.logger.Error("failed to record delivery failure", "chat_id", msg.ChatID, "error", err)
	}
}

// Stats returns delivery counters.
func (d *Dispatcher) Stats() Stats {
	pending := 0
	for _, lane := range d.lanes {
		pending += len(lane)
	}
	return Stats{
		Pending:   pending,
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Retries:   d.retries.Load(),
	}
}

// Close stops accepting messages and waits for queued ones to be delivered.
// If ctx ends first, in-flight retries are abandoned (and audited) and ctx's
// error is returned after the lanes exit.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, lane := range d.lanes {
		close(lane)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.stop()
		return nil
	case <-ctx.Done():
		d.stop()
		<-done
		return ctx.Err()
	}
}
