// ABOUTME: Tests for the Gateway orchestrator against fake Telegram and CBR servers
// ABOUTME: Covers construction, run/shutdown, and a webhook update answered end to end

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/2389/finbot-gateway/internal/config"
)

const testToken = "123456:TEST-token"

const dailyFixture = `<?xml version="1.0" encoding="windows-1251"?>
<ValCurs Date="15.03.2025" name="Foreign Currency Market">
<Valute ID="R01235"><NumCode>840</NumCode><CharCode>USD</CharCode><Nominal>1</Nominal><Name>Доллар США</Name><Value>87,1992</Value><VunitRate>87,1992</VunitRate></Valute>
<Valute ID="R01239"><NumCode>978</NumCode><CharCode>EUR</CharCode><Nominal>1</Nominal><Name>Евро</Name><Value>94,7817</Value><VunitRate>94,7817</VunitRate></Valute>
</ValCurs>`

type sentMessage struct {
	ChatID string
	Text   string
}

// fakeTelegram answers Bot API calls and records sendMessage requests.
type fakeTelegram struct {
	*httptest.Server

	mu    sync.Mutex
	calls map[string]int
	sent  []sentMessage
}

func newFakeTelegram(t *testing.T) *fakeTelegram {
	t.Helper()
	f := &fakeTelegram{calls: make(map[string]int)}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeTelegram) serve(w http.ResponseWriter, r *http.Request) {
	method := path.Base(r.URL.Path)
	_ = r.ParseMultipartForm(1 << 20)

	f.mu.Lock()
	f.calls[method]++
	f.mu.Unlock()

	var result any = true
	switch method {
	case "getMe":
		result = map[string]any{"id": 123456, "is_bot": true, "first_name": "finbot", "username": "finbot_test"}
	case "getUpdates":
		select {
		case <-time.After(50 * time.Millisecond):
		case <-r.Context().Done():
		}
		result = []any{}
	case "sendMessage":
		msg := sentMessage{
			ChatID: strings.Trim(r.FormValue("chat_id"), `"`),
			Text:   strings.Trim(r.FormValue("text"), `"`),
		}
		f.mu.Lock()
		f.sent = append(f.sent, msg)
		f.mu.Unlock()
		result = map[string]any{
			"message_id": 100,
			"date":       time.Now().Unix(),
			"chat":       map[string]any{"id": 42, "type": "private"},
			"text":       msg.Text,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func (f *fakeTelegram) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeTelegram) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// newFakeCBR serves the daily rates feed in windows-1251, or fails every
// request when broken is set.
func newFakeCBR(t *testing.T, broken bool) *httptest.Server {
	t.Helper()
	daily, err := charmap.Windows1251.NewEncoder().String(dailyFixture)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if broken {
			http.Error(w, "maintenance", http.StatusInternalServerError)
			return
		}
		if !strings.HasSuffix(r.URL.Path, "/XML_daily.asp") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/xml; charset=windows-1251")
		_, _ = w.Write([]byte(daily))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// freeAddr finds an available local port.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

type testEnv struct {
	tg  *fakeTelegram
	cbr *httptest.Server
	cfg *config.Config
}

// testConfig builds a config pointing every external dependency at fakes.
func testConfig(t *testing.T, mode string, cbrBroken bool) *testEnv {
	t.Helper()
	env := &testEnv{
		tg:  newFakeTelegram(t),
		cbr: newFakeCBR(t, cbrBroken),
	}

	yaml := fmt.Sprintf(`
telegram:
  token: %q
  mode: %s
  webhook_url: https://finbot.example.com/telegram/webhook
  webhook_secret: s3cret
  api_url: %s
server:
  http_addr: %s
backend:
  cbr_url: %s/scripts/
  moex_url: %s/iss/
  max_attempts: 1
  breaker_threshold: 1
  timeout: 2s
  initial_backoff: 10ms
  max_backoff: 10ms
  jitter: 1ms
  breaker_cooldown: 1m
egress:
  initial_backoff: 10ms
  max_backoff: 50ms
database:
  path: %s
logging:
  level: debug
`, testToken, mode, env.tg.URL, freeAddr(t), env.cbr.URL, env.cbr.URL,
		filepath.Join(t.TempDir(), "finbot.db"))

	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)
	env.cfg = cfg
	return env
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(t *testing.T, mode string, cbrBroken bool) (*Gateway, *testEnv) {
	t.Helper()
	env := testConfig(t, mode, cbrBroken)
	gw, err := New(env.cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw, env
}

func TestGatewayNew(t *testing.T) {
	gw, env := newTestGateway(t, "polling", false)

	assert.Same(t, env.cfg, gw.config)
	assert.NotNil(t, gw.store)
	assert.NotNil(t, gw.scheduler)
	assert.NotNil(t, gw.egress)
	assert.NotNil(t, gw.jobs)
	assert.Nil(t, gw.redis, "memory driver needs no redis client")
	assert.Equal(t, 1, env.tg.count("getMe"))
	assert.Len(t, gw.backend.Breakers(), 2, "cbr and moex endpoints are registered")
}

func TestGatewayNewFailsOnUnreachableRedis(t *testing.T) {
	env := testConfig(t, "polling", false)
	env.cfg.Cache.Driver = "redis"
	env.cfg.Redis.Addr = freeAddr(t)

	_, err := New(env.cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to redis")
}

func TestGatewayRunAndShutdown(t *testing.T) {
	gw, env := newTestGateway(t, "polling", false)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run(ctx) }()

	healthURL := "http://" + env.cfg.Server.HTTPAddr + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(healthURL)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return env.tg.count("setMyCommands") == 1 && env.tg.count("deleteWebhook") == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("gateway did not shut down in time")
	}
}

func TestWebhookStatusRoundTrip(t *testing.T) {
	gw, env := newTestGateway(t, "webhook", false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run(ctx) }()

	require.Eventually(t, func() bool {
		return env.tg.count("setWebhook") == 1
	}, 5*time.Second, 20*time.Millisecond)

	update := []byte(`{
		"update_id": 1001,
		"message": {
			"message_id": 7,
			"date": 1710000000,
			"chat": {"id": 42, "type": "private"},
			"from": {"id": 42, "is_bot": false, "first_name": "Ivan"},
			"text": "/status"
		}
	}`)
	webhookURL := "http://" + env.cfg.Server.HTTPAddr + "/telegram/webhook"
	post := func(secret string) int {
		req, err := http.NewRequest(http.MethodPost, webhookURL, bytes.NewReader(update))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Telegram-Bot-Api-Secret-Token", secret)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusUnauthorized, post("wrong"), "bad secret must be refused")
	assert.Equal(t, http.StatusOK, post("s3cret"))

	require.Eventually(t, func() bool {
		return len(env.tg.sentMessages()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	sent := env.tg.sentMessages()[0]
	assert.Equal(t, "42", sent.ChatID)
	assert.Equal(t, "status: OK", sent.Text)

	// A redelivered update is dropped by ingress.
	assert.Equal(t, http.StatusOK, post("s3cret"))
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, env.tg.sentMessages(), 1)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("gateway did not shut down in time")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	gw, _ := newTestGateway(t, "polling", false)

	require.NoError(t, gw.Shutdown(context.Background()))
	require.NoError(t, gw.Shutdown(context.Background()))
}
