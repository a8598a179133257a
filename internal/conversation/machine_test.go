package conversation

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/finbot-gateway/internal/backend"
	"github.com/2389/finbot-gateway/internal/backend/cbr"
	"github.com/2389/finbot-gateway/internal/backend/moex"
	"github.com/2389/finbot-gateway/internal/chat"
	"github.com/2389/finbot-gateway/internal/instrument"
	"github.com/2389/finbot-gateway/internal/session"
)

func testCatalog() *instrument.Catalog {
	return instrument.NewCatalog(
		[]instrument.Instrument{
			{Code: "USD", Name: "Доллар США"},
			{Code: "EUR", Name: "Евро"},
			{Code: "CNY", Name: "Китайский юань"},
		},
		[]instrument.Instrument{
			{Code: "SBER", Name: "Сбербанк"},
			{Code: "SBERP", Name: "Сбербанк-п"},
			{Code: "GAZP", Name: "Газпром"},
		},
	)
}

func newSession(chatID int64) *session.Session {
	sess, _ := session.NewStore(nil).GetOrCreate(chatID)
	return sess
}

func command(id string, name, args string) chat.InboundEvent {
	return chat.InboundEvent{ID: id, ChatID: 42, Payload: chat.Command{Name: name, Args: args}}
}

func text(id, s string) chat.InboundEvent {
	return chat.InboundEvent{ID: id, ChatID: 42, Payload: chat.Text{Text: s}}
}

func press(id, data string, messageID int) chat.InboundEvent {
	return chat.InboundEvent{ID: id, ChatID: 42, Payload: chat.Callback{QueryID: "q-" + id, Data: data, MessageID: messageID}}
}

func mustResponse(t *testing.T, op string, v any) backend.Response {
	t.Helper()
	resp, err := backend.NewResponse(op, v)
	require.NoError(t, err)
	return resp
}

func TestHandle_SimpleCommands(t *testing.T) {
	m := NewMachine()

	tests := []struct {
		name string
		ev   chat.InboundEvent
		want string
	}{
		{"start", command("1", "start", ""), textMainMenu},
		{"help", command("2", "help", ""), textHelp},
		{"unknown", command("3", "frobnicate", ""), textUnknownCommand},
		{"refresh without target", command("4", "refresh", ""), textRefreshUsage},
		{"refresh unknown target", command("5", "refresh", "bonds"), textRefreshUsage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newSession(42)
			d := m.Handle(sess, tt.ev, nil)

			require.Len(t, d.Replies, 1)
			assert.Equal(t, tt.want, d.Replies[0].Text)
			assert.Equal(t, tt.ev.ID, d.Replies[0].InReplyTo)
			assert.Nil(t, d.Request)
			assert.Equal(t, session.Idle, sess.State)
		})
	}
}

func TestHandle_StartShowsMainMenu(t *testing.T) {
	d := NewMachine().Handle(newSession(42), command("1", "start", ""), nil)

	require.Len(t, d.Replies, 1)
	kb := d.Replies[0].Keyboard
	require.NotNil(t, kb)
	assert.Equal(t, [][]string{
		{"Курс валют (/rate)", "Цена акций (/price)"},
		{"Поиск (/search)", "Помощь (/help)"},
	}, kb.Reply)
}

func TestHandle_StatusIssuesRequest(t *testing.T) {
	sess := newSession(42)
	d := NewMachine().Handle(sess, command("10", "status", ""), nil)

	require.NotNil(t, d.Request)
	assert.Equal(t, cbr.OpStatus, d.Request.Op)
	assert.Empty(t, d.Replies)
	assert.Equal(t, session.BackendPending, sess.State)
	assert.Equal(t, d.Request.Fingerprint(), sess.PendingFingerprint)
	assert.Equal(t, "10", sess.Context.EventID)
}

func TestHandle_MissingArgumentAwaitsInput(t *testing.T) {
	m := NewMachine()
	sess := newSession(42)

	d := m.Handle(sess, command("1", "rate", ""), nil)
	require.Len(t, d.Replies, 1)
	assert.Equal(t, textCurrencyInstructions, d.Replies[0].Text)
	assert.Equal(t, session.AwaitingInput, sess.State)
	assert.Equal(t, "rate", sess.Context.Command)

	d = m.Handle(sess, text("2", " eur "), nil)
	require.NotNil(t, d.Request)
	assert.Equal(t, cbr.RateRequest("EUR").Fingerprint(), d.Request.Fingerprint())
	assert.Equal(t, session.BackendPending, sess.State)
	assert.Equal(t, "EUR", sess.Context.Args)
}

func TestHandle_AwaitingSearchUsesCatalog(t *testing.T) {
	m := NewMachine()
	sess := newSession(42)

	m.Handle(sess, command("1", "search_stock", ""), nil)
	require.True(t, NeedsCatalog(sess, text("2", "сбер")))

	d := m.Handle(sess, text("2", "сбер"), testCatalog())
	require.Len(t, d.Replies, 1)
	assert.Contains(t, d.Replies[0].Text, "🔍 Результаты поиска для: 'сбер':\nСтраница 1 из 1")
	assert.Contains(t, d.Replies[0].Text, "📊 SBER (Сбербанк )")
	assert.NotContains(t, d.Replies[0].Text, "💰")
	assert.Equal(t, session.Idle, sess.State)
}

func TestHandle_NewCommandAbandonsAwaitingInput(t *testing.T) {
	m := NewMachine()
	sess := newSession(42)

	m.Handle(sess, command("1", "price", ""), nil)
	require.Equal(t, session.AwaitingInput, sess.State)

	d := m.Handle(sess, command("2", "help", ""), nil)
	require.Len(t, d.Replies, 1)
	assert.Equal(t, textHelp, d.Replies[0].Text)
	assert.Equal(t, session.Idle, sess.State)
	assert.Empty(t, sess.Context.Command)
}

func TestHandle_DefersWhileBackendPending(t *testing.T) {
	m := NewMachine()
	sess := newSession(42)

	m.Handle(sess, command("1", "status", ""), nil)
	require.Equal(t, session.BackendPending, sess.State)

	second := command("2", "help", "")
	third := text("3", "usd")
	assert.True(t, m.Handle(sess, second, nil).Deferred)
	assert.True(t, m.Handle(sess, third, nil).Deferred)
	assert.False(t, NeedsCatalog(sess, third))

	replies, replay := m.Resolve(sess, mustResponse(t, cbr.OpStatus, cbr.Status{State: "OK"}), nil)
	require.Len(t, replies, 1)
	assert.Equal(t, "status: OK", replies[0].Text)
	assert.Equal(t, "1", replies[0].InReplyTo)
	assert.Equal(t, []chat.InboundEvent{second, third}, replay)
	assert.Equal(t, session.Idle, sess.State)
	assert.Empty(t, sess.TakeDeferred())
}

func TestResolve_FailureKinds(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{backend.Timeout(errors.New("slow")), textTimeout},
		{backend.Unavailable(backend.ErrCircuitOpen), textUnavailable},
		{backend.InvalidResponse(errors.New("garbage")), textInvalidResponse},
		{backend.Rejected(errors.New("no")), textRejected},
		{errors.New("unclassified"), textUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			m := NewMachine()
			sess := newSession(42)
			m.Handle(sess, command("1", "price", "SBER"), nil)

			replies, replay := m.Resolve(sess, backend.Response{}, tt.err)
			require.Len(t, replies, 1)
			assert.Equal(t, tt.want, replies[0].Text)
			assert.Empty(t, replay)
			assert.Equal(t, session.Idle, sess.State)
			assert.Empty(t, sess.PendingFingerprint)
		})
	}
}

func TestResolve_Results(t *testing.T) {
	tests := []struct {
		name string
		ev   chat.InboundEvent
		resp backend.Response
		want string
	}{
		{
			"rate found",
			command("1", "rate", "usd"),
			backend.Response{},
			"💰 Курс валюты USD: 87.1992 RUB",
		},
		{
			"rate missing",
			command("1", "rate", "xyz"),
			backend.Response{},
			"Курс для валюты XYZ (XYZ) не найден.",
		},
		{
			"price found",
			command("1", "price", "sber"),
			backend.Response{},
			"📈 Цена акции SBER: 310.5000 RUB",
		},
		{
			"price missing",
			command("1", "price", "sber"),
			backend.Response{},
			"Цена для акции SBER (Сбербанк)  не найдена.",
		},
		{
			"refresh",
			command("1", "refresh", "rates"),
			backend.Response{},
			"🔄 Данные обновлены: курсы валют (записей: 43).",
		},
	}
	results := map[string]any{
		"rate found":    cbr.RateResult{Code: "USD", Found: true, Rate: cbr.Rate{UnitRate: 87.1992}},
		"rate missing":  cbr.RateResult{Code: "XYZ"},
		"price found":   moex.Quote{Ticker: "SBER", Price: 310.5, Found: true},
		"price missing": moex.Quote{Ticker: "SBER", Name: "Сбербанк"},
		"refresh":       cbr.RefreshResult{Resource: "rates", Items: 43},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine()
			sess := newSession(42)
			d := m.Handle(sess, tt.ev, nil)
			require.NotNil(t, d.Request)

			replies, _ := m.Resolve(sess, mustResponse(t, d.Request.Op, results[tt.name]), nil)
			require.Len(t, replies, 1)
			assert.Equal(t, tt.want, replies[0].Text)
		})
	}
}

func TestResolve_UndecodableResult(t *testing.T) {
	m := NewMachine()
	sess := newSession(42)
	m.Handle(sess, command("1", "status", ""), nil)

	replies, _ := m.Resolve(sess, backend.Response{Op: cbr.OpStatus, Data: []byte(`[1,2]`)}, nil)
	require.Len(t, replies, 1)
	assert.Equal(t, textInvalidResponse, replies[0].Text)
}

func TestHandle_CodeInput(t *testing.T) {
	catalog := testCatalog()

	t.Run("currency", func(t *testing.T) {
		sess := newSession(42)
		d := NewMachine().Handle(sess, text("1", "usd"), catalog)
		require.NotNil(t, d.Request)
		assert.Equal(t, cbr.OpRate, d.Request.Op)
		assert.Equal(t, "USD", d.Request.Param("code"))
		assert.Equal(t, "Доллар США", sess.Context.Name)
	})

	t.Run("share", func(t *testing.T) {
		sess := newSession(42)
		d := NewMachine().Handle(sess, text("1", "GAZP"), catalog)
		require.NotNil(t, d.Request)
		assert.Equal(t, moex.OpPrice, d.Request.Op)
		assert.Equal(t, "GAZP", d.Request.Param("ticker"))
	})

	t.Run("suggestions", func(t *testing.T) {
		sess := newSession(42)
		d := NewMachine().Handle(sess, text("1", "sbe"), catalog)
		require.Nil(t, d.Request)
		require.Len(t, d.Replies, 1)

		msg := d.Replies[0]
		assert.Equal(t, "🔍 Найдено по запросу 'SBE':\n\n📊 SBER (Сбербанк )\n📊 SBERP (Сбербанк-п )\n\nНажмите на код выше или введите точный код из списка.", msg.Text)
		require.NotNil(t, msg.Keyboard)
		assert.Equal(t, [][]chat.Button{
			{{Text: "SBER", Data: "stock_SBER"}},
			{{Text: "SBERP", Data: "stock_SBERP"}},
			{{Text: "❌ Закрыть", Data: "close"}},
		}, msg.Keyboard.Inline)
		assert.Equal(t, session.Idle, sess.State)
	})

	t.Run("not found", func(t *testing.T) {
		d := NewMachine().Handle(newSession(42), text("1", "qqq"), catalog)
		require.Len(t, d.Replies, 1)
		assert.Equal(t, textNotFound, d.Replies[0].Text)
	})
}

func TestHandle_Callbacks(t *testing.T) {
	catalog := testCatalog()

	t.Run("page info", func(t *testing.T) {
		d := NewMachine().Handle(newSession(42), press("1", "page_info", 5), catalog)
		require.Len(t, d.Replies, 1)
		assert.Equal(t, chat.KindAnswerCallback, d.Replies[0].Kind)
		assert.Equal(t, textPageInfo, d.Replies[0].Text)
		assert.Equal(t, "q-1", d.Replies[0].CallbackQueryID)
	})

	t.Run("close", func(t *testing.T) {
		d := NewMachine().Handle(newSession(42), press("1", "close", 5), catalog)
		require.Len(t, d.Replies, 2)
		assert.Equal(t, chat.KindAnswerCallback, d.Replies[0].Kind)
		assert.Equal(t, chat.KindEdit, d.Replies[1].Kind)
		assert.Equal(t, 5, d.Replies[1].MessageID)
		assert.Equal(t, textChoiceMade, d.Replies[1].Text)
	})

	t.Run("currency pick", func(t *testing.T) {
		m := NewMachine()
		sess := newSession(42)
		d := m.Handle(sess, press("1", "currency_EUR", 9), catalog)
		require.Len(t, d.Replies, 1)
		assert.Equal(t, chat.KindAnswerCallback, d.Replies[0].Kind)
		require.NotNil(t, d.Request)
		assert.Equal(t, "EUR", d.Request.Param("code"))

		replies, _ := m.Resolve(sess, mustResponse(t, cbr.OpRate, cbr.RateResult{Code: "EUR", Found: true, Rate: cbr.Rate{UnitRate: 94.5}}), nil)
		require.Len(t, replies, 2)
		assert.Equal(t, "💰 Курс валюты EUR: 94.5000 RUB", replies[0].Text)
		assert.Equal(t, chat.KindEdit, replies[1].Kind)
		assert.Equal(t, 9, replies[1].MessageID)
	})

	t.Run("search page", func(t *testing.T) {
		d := NewMachine().Handle(newSession(42), press("1", searchPageCallback(instrument.FilterAll, 0, ""), 7), catalog)
		require.Len(t, d.Replies, 2)
		page := d.Replies[1]
		assert.Equal(t, chat.KindEdit, page.Kind)
		assert.Equal(t, 7, page.MessageID)
		assert.Contains(t, page.Text, "Страница 1 из 1")
		assert.Contains(t, page.Text, "💰 CNY (Китайский юань )")
	})

	t.Run("unknown", func(t *testing.T) {
		d := NewMachine().Handle(newSession(42), press("1", "bogus", 7), catalog)
		require.Len(t, d.Replies, 2)
		assert.Equal(t, textUnknownRequest, d.Replies[1].Text)
	})

	t.Run("malformed", func(t *testing.T) {
		d := NewMachine().Handle(newSession(42), press("1", "search_page_bonds_0_x", 7), catalog)
		require.Len(t, d.Replies, 2)
		assert.Equal(t, textCallbackError, d.Replies[1].Text)
	})
}

func TestHandle_LongQueryPagesThroughSession(t *testing.T) {
	stocks := make([]instrument.Instrument, 25)
	for i := range stocks {
		stocks[i] = instrument.Instrument{Code: fmt.Sprintf("R%02d", i), Name: fmt.Sprintf("Российская нефтяная компания %d", i)}
	}
	catalog := instrument.NewCatalog(nil, stocks)
	const query = "российская нефтяная"

	m := NewMachine()
	sess := newSession(42)
	d := m.Handle(sess, command("1", "search_stock", query), catalog)
	require.Len(t, d.Replies, 1)
	require.NotNil(t, d.Replies[0].Keyboard)
	assert.Contains(t, d.Replies[0].Text, "Страница 1 из 3")

	nav := d.Replies[0].Keyboard.Inline[0]
	next := nav[len(nav)-1]
	assert.True(t, strings.HasPrefix(next.Data, searchRefPrefix), "long query travels as a token: %q", next.Data)
	assert.LessOrEqual(t, len(next.Data), maxCallbackBytes)

	d = m.Handle(sess, press("2", next.Data, 5), catalog)
	require.Len(t, d.Replies, 2)
	page := d.Replies[1]
	assert.Equal(t, chat.KindEdit, page.Kind)
	assert.Contains(t, page.Text, "Результаты поиска для: '"+query+"'")
	assert.Contains(t, page.Text, "Страница 2 из 3")

	t.Run("unknown token", func(t *testing.T) {
		d := NewMachine().Handle(newSession(42), press("3", next.Data, 5), catalog)
		require.Len(t, d.Replies, 2)
		assert.Equal(t, textSearchExpired, d.Replies[1].Text)
	})
}

func TestAbort_ResetsAndNotifies(t *testing.T) {
	m := NewMachine()
	sess := newSession(42)
	m.Handle(sess, command("1", "search", ""), nil)

	ev := press("2", "stock_SBER", 3)
	replies := m.Abort(sess, ev, backend.Timeout(errors.New("slow")))
	require.Len(t, replies, 2)
	assert.Equal(t, chat.KindAnswerCallback, replies[0].Kind)
	assert.Equal(t, textTimeout, replies[1].Text)
	assert.Equal(t, session.Idle, sess.State)
}
