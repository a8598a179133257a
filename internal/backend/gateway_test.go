// ABOUTME: Tests for the backend gateway
// ABOUTME: Covers retry policy per failure kind, breaker tripping and recovery, and cancellation

package backend

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Timeout:          100 * time.Millisecond,
		MaxAttempts:      3,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       5 * time.Millisecond,
		Jitter:           time.Millisecond,
		BreakerThreshold: 3,
		BreakerCooldown:  time.Minute,
	}
}

type countingHandler struct {
	calls atomic.Int32
	fn    func(n int32, ctx context.Context, req Request) (Response, error)
}

func (h *countingHandler) handle(ctx context.Context, req Request) (Response, error) {
	n := h.calls.Add(1)
	return h.fn(n, ctx, req)
}

func okResponse(op string) Response {
	resp, _ := NewResponse(op, map[string]string{"state": "OK"})
	return resp
}

func TestGateway_Success(t *testing.T) {
	gw := New(testConfig(), nil)
	h := &countingHandler{fn: func(_ int32, _ context.Context, req Request) (Response, error) {
		assert.Equal(t, "42", req.Param("chat"))
		return Response{Data: []byte(`{"state":"OK"}`)}, nil
	}}
	gw.Register("status", "cbr", h.handle)

	resp, err := gw.Call(context.Background(), NewRequest("status", "status", "chat", "42"))
	require.NoError(t, err)
	assert.Equal(t, "status", resp.Op, "op is filled in when the handler leaves it empty")
	assert.Equal(t, int32(1), h.calls.Load())
}

func TestGateway_UnknownOp(t *testing.T) {
	gw := New(testConfig(), nil)

	_, err := gw.Call(context.Background(), Request{Op: "teleport"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, err, ErrUnknownOp)
}

func TestGateway_RetryPolicy(t *testing.T) {
	tests := []struct {
		name      string
		failWith  error
		wantKind  *Error
		wantCalls int32
	}{
		{"timeout is retried", Timeout(errors.New("slow")), ErrTimeout, 3},
		{"unavailable is retried", Unavailable(errors.New("503")), ErrUnavailable, 3},
		{"invalid response is not retried", InvalidResponse(errors.New("bad xml")), ErrInvalidResponse, 1},
		{"rejected is not retried", Rejected(errors.New("404")), ErrRejected, 1},
		{"unclassified error becomes unavailable", errors.New("connection reset"), ErrUnavailable, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.BreakerThreshold = 100
			gw := New(cfg, nil)
			h := &countingHandler{fn: func(int32, context.Context, Request) (Response, error) {
				return Response{}, tt.failWith
			}}
			gw.Register("rate", "cbr", h.handle)

			_, err := gw.Call(context.Background(), NewRequest("rate", "rates", "code", "USD"))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantKind)
			assert.Equal(t, tt.wantCalls, h.calls.Load())

			var be *Error
			require.ErrorAs(t, err, &be)
			assert.Equal(t, "rate", be.Op)
			assert.Equal(t, "cbr", be.Endpoint)
		})
	}
}

func TestGateway_RecoversAfterTransientFailure(t *testing.T) {
	gw := New(testConfig(), nil)
	h := &countingHandler{fn: func(n int32, _ context.Context, req Request) (Response, error) {
		if n < 3 {
			return Response{}, Unavailable(errors.New("warming up"))
		}
		return okResponse(req.Op), nil
	}}
	gw.Register("price", "moex", h.handle)

	_, err := gw.Call(context.Background(), NewRequest("price", "shares", "ticker", "SBER"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), h.calls.Load())
	assert.Equal(t, BreakerClosed, gw.Breakers()["moex"])
}

func TestGateway_AttemptTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 10 * time.Millisecond
	cfg.BreakerThreshold = 100
	gw := New(cfg, nil)
	h := &countingHandler{fn: func(_ int32, ctx context.Context, _ Request) (Response, error) {
		<-ctx.Done()
		return Response{}, ctx.Err()
	}}
	gw.Register("rate", "cbr", h.handle)

	_, err := gw.Call(context.Background(), Request{Op: "rate"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int32(3), h.calls.Load())
}

// Backend times out on every attempt: the caller sees Timeout, the breaker
// counts the failures, and the next call fails fast without reaching the backend.
func TestGateway_TimeoutsTripBreaker(t *testing.T) {
	gw := New(testConfig(), nil)
	h := &countingHandler{fn: func(int32, context.Context, Request) (Response, error) {
		return Response{}, Timeout(context.DeadlineExceeded)
	}}
	gw.Register("status", "cbr", h.handle)

	_, err := gw.Call(context.Background(), Request{Op: "status"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int32(3), h.calls.Load())
	assert.Equal(t, BreakerOpen, gw.Breakers()["cbr"])
	assert.Equal(t, []string{"cbr"}, gw.OpenEndpoints())

	start := time.Now()
	_, err = gw.Call(context.Background(), Request{Op: "status"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(3), h.calls.Load(), "open breaker does not contact the backend")
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestGateway_BreakerIsPerEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.BreakerThreshold = 1
	cfg.MaxAttempts = 1
	gw := New(cfg, nil)

	gw.Register("rate", "cbr", func(context.Context, Request) (Response, error) {
		return Response{}, Unavailable(errors.New("down"))
	})
	gw.Register("price", "moex", func(_ context.Context, req Request) (Response, error) {
		return okResponse(req.Op), nil
	})

	_, err := gw.Call(context.Background(), Request{Op: "rate"})
	require.Error(t, err)

	_, err = gw.Call(context.Background(), Request{Op: "price"})
	require.NoError(t, err)

	states := gw.Breakers()
	assert.Equal(t, BreakerOpen, states["cbr"])
	assert.Equal(t, BreakerClosed, states["moex"])
}

func TestGateway_DeterministicFailuresDoNotTrip(t *testing.T) {
	cfg := testConfig()
	cfg.BreakerThreshold = 1
	gw := New(cfg, nil)
	gw.Register("rate", "cbr", func(context.Context, Request) (Response, error) {
		return Response{}, InvalidResponse(errors.New("garbage"))
	})

	for i := 0; i < 3; i++ {
		_, err := gw.Call(context.Background(), Request{Op: "rate"})
		assert.ErrorIs(t, err, ErrInvalidResponse)
	}
	assert.Equal(t, BreakerClosed, gw.Breakers()["cbr"])
}

func TestGateway_HalfOpenRecovery(t *testing.T) {
	cfg := testConfig()
	cfg.BreakerThreshold = 1
	cfg.MaxAttempts = 1
	cfg.BreakerCooldown = 30 * time.Millisecond
	gw := New(cfg, nil)

	var healthy atomic.Bool
	gw.Register("status", "cbr", func(_ context.Context, req Request) (Response, error) {
		if !healthy.Load() {
			return Response{}, Unavailable(errors.New("down"))
		}
		return okResponse(req.Op), nil
	})

	_, err := gw.Call(context.Background(), Request{Op: "status"})
	require.Error(t, err)
	assert.Equal(t, BreakerOpen, gw.Breakers()["cbr"])

	healthy.Store(true)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, BreakerHalfOpen, gw.Breakers()["cbr"])

	_, err = gw.Call(context.Background(), Request{Op: "status"})
	require.NoError(t, err)
	assert.Equal(t, BreakerClosed, gw.Breakers()["cbr"])
}

func TestGateway_CallerCancellation(t *testing.T) {
	cfg := testConfig()
	cfg.BreakerThreshold = 1
	gw := New(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	gw.Register("rate", "cbr", func(hctx context.Context, _ Request) (Response, error) {
		cancel()
		<-hctx.Done()
		return Response{}, hctx.Err()
	})

	_, err := gw.Call(ctx, Request{Op: "rate"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, BreakerClosed, gw.Breakers()["cbr"], "cancellation is not an endpoint failure")
}

func TestGateway_OneBreakerPerEndpoint(t *testing.T) {
	gw := New(testConfig(), nil)
	noop := func(context.Context, Request) (Response, error) { return Response{}, nil }
	gw.Register("status", "cbr", noop)
	gw.Register("price", "moex", noop)
	gw.Register("rate", "cbr", noop)

	assert.Equal(t, map[string]BreakerState{"cbr": BreakerClosed, "moex": BreakerClosed}, gw.Breakers())
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", BreakerClosed.String())
	assert.Equal(t, "HALF-OPEN", BreakerHalfOpen.String())
	assert.Equal(t, "OPEN", BreakerOpen.String())
}
