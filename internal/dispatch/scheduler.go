// ABOUTME: Scheduler runs one sequential worker per chat under a global concurrency cap
// ABOUTME: Replies from each turn are handed to a Sink; panics are recovered per turn

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/2389/finbot-gateway/internal/chat"
)

// ErrBackpressure indicates the chat's queue or the global queue is full.
var ErrBackpressure = errors.New("dispatch queue full")

// ErrClosed indicates the scheduler no longer accepts events.
var ErrClosed = errors.New("scheduler closed")

// Processor runs one processing turn.
type Processor interface {
	Process(ctx context.Context, ev chat.InboundEvent) []chat.OutboundMessage
}

// Sink receives the replies of each turn.
type Sink interface {
	Enqueue(ctx context.Context, msg chat.OutboundMessage) error
}

// Config bounds the scheduler.
type Config struct {
	MaxWorkers      int
	ChatQueueSize   int
	GlobalQueueSize int
	Quantum         int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:      64,
		ChatQueueSize:   32,
		GlobalQueueSize: 4096,
		Quantum:         8,
	}
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Chats     int    // chats with a live worker
	Queued    int    // events accepted but not yet started
	Active    int64  // workers holding a slot
	Waiting   int64  // workers waiting for a slot
	Processed uint64 // turns completed, including panicked ones
	Rejected  uint64 // submissions refused with ErrBackpressure
	Panics    uint64
}

type worker struct {
	chatID int64
	queue  []chat.InboundEvent
}

// Scheduler dispatches events to per-chat workers.
type Scheduler struct {
	cfg    Config
	proc   Processor
	sink   Sink
	slots  *semaphore.Weighted
	logger *slog.Logger

	// ctx is handed to every turn and cancelled when Close gives up waiting.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[int64]*worker
	queued  int
	closed  bool
	wg      sync.WaitGroup

	active    atomic.Int64
	waiting   atomic.Int64
	processed atomic.Uint64
	rejected  atomic.Uint64
	panics    atomic.Uint64
}

// New creates a scheduler. Zero config fields take their defaults.
func New(cfg Config, proc Processor, sink Sink, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.ChatQueueSize <= 0 {
		cfg.ChatQueueSize = def.ChatQueueSize
	}
	if cfg.GlobalQueueSize <= 0 {
		cfg.GlobalQueueSize = def.GlobalQueueSize
	}
	if cfg.Quantum <= 0 {
		cfg.Quantum = def.Quantum
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg,
		proc:    proc,
		sink:    sink,
		slots:   semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		logger:  logger.With("component", "dispatch"),
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[int64]*worker),
	}
}

// Submit queues ev behind any earlier events of the same chat. It never
// blocks; a full queue yields ErrBackpressure.
func (s *Scheduler) Submit(ev chat.InboundEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.queued >= s.cfg.GlobalQueueSize {
		s.rejected.Add(1)
		return fmt.Errorf("%w: %d events pending", ErrBackpressure, s.queued)
	}

	w, ok := s.workers[ev.ChatID]
	if ok && len(w.queue) >= s.cfg.ChatQueueSize {
		s.rejected.Add(1)
		return fmt.Errorf("%w: chat %d has %d events pending", ErrBackpressure, ev.ChatID, len(w.queue))
	}
	if !ok {
		w = &worker{chatID: ev.ChatID}
		s.workers[ev.ChatID] = w
		s.wg.Add(1)
		go s.run(w)
	}

	w.queue = append(w.queue, ev)
	s.queued++
	return nil
}

func (s *Scheduler) run(w *worker) {
	defer s.wg.Done()

	for {
		s.waiting.Add(1)
		err := s.slots.Acquire(s.ctx, 1)
		s.waiting.Add(-1)
		if err != nil {
			s.abandon(w)
			return
		}
		s.active.Add(1)

		for i := 0; i < s.cfg.Quantum; i++ {
			if s.ctx.Err() != nil {
				s.active.Add(-1)
				s.slots.Release(1)
				s.abandon(w)
				return
			}
			ev, ok := s.next(w)
			if !ok {
				s.active.Add(-1)
				s.slots.Release(1)
				return
			}
			s.handle(ev)
		}

		// Quantum used up: go to the back of the line.
		s.active.Add(-1)
		s.slots.Release(1)
	}
}

// next pops the worker's next event, or retires the worker when its queue
// is empty. A later Submit for the chat starts a fresh worker.
func (s *Scheduler) next(w *worker) (chat.InboundEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(w.queue) == 0 {
		delete(s.workers, w.chatID)
		return chat.InboundEvent{}, false
	}
	ev := w.queue[0]
	w.queue[0] = chat.InboundEvent{}
	w.queue = w.queue[1:]
	s.queued--
	return ev, true
}

func (s *Scheduler) abandon(w *worker) {
	s.mu.Lock()
	dropped := len(w.queue)
	s.queued -= dropped
	w.queue = nil
	delete(s.workers, w.chatID)
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Warn("dropping queued events on shutdown", "chat_id", w.chatID, "count", dropped)
	}
}

func (s *Scheduler) handle(ev chat.InboundEvent) {
	defer s.processed.Add(1)
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			s.logger.Error("processing turn panicked",
				"chat_id", ev.ChatID,
				"event_id", ev.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	for _, msg := range s.proc.Process(s.ctx, ev) {
		if err := s.sink.Enqueue(s.ctx, msg); err != nil {
			s.logger.Warn("failed to enqueue reply",
				"chat_id", msg.ChatID,
				"event_id", ev.ID,
				"kind", msg.Kind,
				"error", err,
			)
		}
	}
}

// Stats returns current counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	chats, queued := len(s.workers), s.queued
	s.mu.Unlock()

	return Stats{
		Chats:     chats,
		Queued:    queued,
		Active:    s.active.Load(),
		Waiting:   s.waiting.Load(),
		Processed: s.processed.Load(),
		Rejected:  s.rejected.Load(),
		Panics:    s.panics.Load(),
	}
}

// Close stops accepting events and waits for queued events to be processed.
// If ctx ends first, in-flight turns are cancelled, events still queued are
// dropped, and ctx's error is returned once the workers have exited.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
