// ABOUTME: Backend gateway routing operations to endpoint handlers
// ABOUTME: Applies per-attempt timeouts, retry with backoff and jitter, and a circuit breaker per endpoint

package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sony/gobreaker/v2"
)

// Handler performs one attempt of an operation against its endpoint.
type Handler func(ctx context.Context, req Request) (Response, error)

// Config holds gateway resilience settings.
type Config struct {
	Timeout          time.Duration
	MaxAttempts      uint
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	Jitter           time.Duration
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          30 * time.Second,
		MaxAttempts:      3,
		InitialBackoff:   time.Second,
		MaxBackoff:       10 * time.Second,
		Jitter:           250 * time.Millisecond,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// BreakerState mirrors the circuit breaker state of an endpoint.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerHalfOpen:
		return "HALF-OPEN"
	case BreakerOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

func mapState(state gobreaker.State) BreakerState {
	switch state {
	case gobreaker.StateHalfOpen:
		return BreakerHalfOpen
	case gobreaker.StateOpen:
		return BreakerOpen
	default:
		return BreakerClosed
	}
}

type route struct {
	endpoint string
	handler  Handler
}

// Gateway dispatches requests to registered handlers.
type Gateway struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	routes   map[string]route
	breakers map[string]*gobreaker.CircuitBreaker[Response]
}

// New creates a gateway with no registered operations.
func New(cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = def.BreakerThreshold
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = def.BreakerCooldown
	}
	return &Gateway{
		cfg:      cfg,
		logger:   logger.With("component", "backend"),
		routes:   make(map[string]route),
		breakers: make(map[string]*gobreaker.CircuitBreaker[Response]),
	}
}

// Register routes op to handler on endpoint. Operations sharing an endpoint
// share its circuit breaker. Registering an op twice replaces the handler.
func (g *Gateway) Register(op, endpoint string, handler Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.routes[op] = route{endpoint: endpoint, handler: handler}
	if _, ok := g.breakers[endpoint]; !ok {
		g.breakers[endpoint] = g.newBreaker(endpoint)
	}
}

func (g *Gateway) newBreaker(endpoint string) *gobreaker.CircuitBreaker[Response] {
	threshold := g.cfg.BreakerThreshold
	return gobreaker.NewCircuitBreaker[Response](gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: 1,
		Timeout:     g.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !countsAgainstBreaker(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("circuit breaker state changed",
				"endpoint", name,
				"from", mapState(from),
				"to", mapState(to),
			)
		},
	})
}

// Call performs req, retrying transient failures. The returned error is an
// *Error, or the caller's context error if ctx ended first.
func (g *Gateway) Call(ctx context.Context, req Request) (Response, error) {
	g.mu.RLock()
	rt, ok := g.routes[req.Op]
	var cb *gobreaker.CircuitBreaker[Response]
	if ok {
		cb = g.breakers[rt.endpoint]
	}
	g.mu.RUnlock()

	if !ok {
		return Response{}, &Error{Kind: KindRejected, Op: req.Op, Err: ErrUnknownOp}
	}

	attempt := 0
	resp, err := retry.DoWithData(
		func() (Response, error) {
			attempt++
			return g.attempt(ctx, cb, rt, req)
		},
		retry.Context(ctx),
		retry.Attempts(g.cfg.MaxAttempts),
		retry.Delay(g.cfg.InitialBackoff),
		retry.MaxDelay(g.cfg.MaxBackoff),
		retry.MaxJitter(g.cfg.Jitter),
		retry.DelayType(g.delayType()),
		retry.RetryIf(Retryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Debug("backend attempt failed",
				"op", req.Op,
				"endpoint", rt.endpoint,
				"attempt", n+1,
				"error", err,
			)
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return Response{}, ctxErr
		}
		g.logger.Warn("backend call failed",
			"op", req.Op,
			"endpoint", rt.endpoint,
			"attempts", attempt,
			"error", err,
		)
		return Response{}, err
	}
	return resp, nil
}

// delayType combines exponential backoff with random jitter. RandomDelay
// requires a positive jitter bound.
func (g *Gateway) delayType() retry.DelayTypeFunc {
	if g.cfg.Jitter > 0 {
		return retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)
	}
	return retry.BackOffDelay
}

// attempt runs one handler invocation through the endpoint breaker.
func (g *Gateway) attempt(ctx context.Context, cb *gobreaker.CircuitBreaker[Response], rt route, req Request) (Response, error) {
	resp, err := cb.Execute(func() (Response, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()

		resp, err := rt.handler(attemptCtx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			// the caller gave up; not an endpoint failure
			return Response{}, ctx.Err()
		}
		return Response{}, g.annotate(Classify(err), req.Op, rt.endpoint)
	})

	switch {
	case err == nil:
		if resp.Op == "" {
			resp.Op = req.Op
		}
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return Response{}, &Error{
			Kind:     KindUnavailable,
			Op:       req.Op,
			Endpoint: rt.endpoint,
			Err:      fmt.Errorf("%w: %v", ErrCircuitOpen, err),
		}
	default:
		return Response{}, err
	}
}

// annotate fills Op and Endpoint on a classified error.
func (g *Gateway) annotate(err error, op, endpoint string) error {
	var be *Error
	if !errors.As(err, &be) {
		return err
	}
	out := *be
	if out.Op == "" {
		out.Op = op
	}
	if out.Endpoint == "" {
		out.Endpoint = endpoint
	}
	return &out
}

// Breakers returns the breaker state of every endpoint.
func (g *Gateway) Breakers() map[string]BreakerState {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string]BreakerState, len(g.breakers))
	for name, cb := range g.breakers {
		out[name] = mapState(cb.State())
	}
	return out
}

// OpenEndpoints returns the sorted names of endpoints whose breaker is open.
func (g *Gateway) OpenEndpoints() []string {
	var open []string
	for name, state := range g.Breakers() {
		if state == BreakerOpen {
			open = append(open, name)
		}
	}
	sort.Strings(open)
	return open
}
