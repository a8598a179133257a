package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/finbot-gateway/internal/instrument"
)

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data string
		want callback
	}{
		{"close", callback{kind: callbackClose}},
		{"page_info", callback{kind: callbackPageInfo}},
		{"currency_usd", callback{kind: callbackCurrency, code: "USD"}},
		{"stock_SBER", callback{kind: callbackStock, code: "SBER"}},
		{"search_page_stock_2_%D1%81%D0%B1%D0%B5%D1%80", callback{kind: callbackSearchPage, filter: instrument.FilterStocks, page: 2, query: "сбер"}},
		{"search_page_all_0_a_b", callback{kind: callbackSearchPage, filter: instrument.FilterAll, query: "a_b"}},
		{"search_page_currency_1", callback{kind: callbackSearchPage, filter: instrument.FilterCurrencies, page: 1}},
		{"search_ref_all_4_1x2y3z", callback{kind: callbackSearchPage, filter: instrument.FilterAll, page: 4, ref: "1x2y3z"}},
		{"something", callback{kind: callbackUnknown}},
	}

	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			got, err := parseCallback(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCallback_Malformed(t *testing.T) {
	for _, data := range []string{"currency_", "stock_", "search_page_", "search_page_bonds_0_x", "search_page_all_-1_x", "search_page_all_one_x", "search_ref_all_1", "search_ref_all_1_", "search_ref_bonds_1_abc"} {
		t.Run(data, func(t *testing.T) {
			_, err := parseCallback(data)
			assert.ErrorIs(t, err, errBadCallback)
		})
	}
}

func TestSearchPageCallback_RoundTrip(t *testing.T) {
	data := searchPageCallback(instrument.FilterCurrencies, 3, "eur")
	got, err := parseCallback(data)
	require.NoError(t, err)
	assert.Equal(t, callback{kind: callbackSearchPage, filter: instrument.FilterCurrencies, page: 3, query: "eur"}, got)
}

func TestSearchRefCallback_RoundTripThroughSession(t *testing.T) {
	sess := newSession(42)
	for _, query := range []string{"доллар сша", strings.Repeat("я", 40)} {
		t.Run(query, func(t *testing.T) {
			require.False(t, fitsInline(instrument.FilterCurrencies, 12, query))

			data := searchRefCallback(instrument.FilterCurrencies, 12, sess.RememberSearch(query))
			assert.LessOrEqual(t, len(data), maxCallbackBytes)

			got, err := parseCallback(data)
			require.NoError(t, err)
			assert.Equal(t, callbackSearchPage, got.kind)
			assert.Equal(t, 12, got.page)
			assert.Empty(t, got.query)

			recalled, ok := sess.RecallSearch(got.ref)
			require.True(t, ok)
			assert.Equal(t, query, recalled, "the full query comes back")
		})
	}
}

func TestPaginationKeyboard(t *testing.T) {
	items := make([]instrument.Instrument, 25)
	for i := range items {
		items[i] = instrument.Instrument{Code: string(rune('A' + i))}
	}

	first := paginationKeyboard(instrument.FilterAll, "q", "", instrument.Paginate(items, 1, 10))
	require.Len(t, first.Inline, 2)
	nav := first.Inline[0]
	require.Len(t, nav, 2)
	assert.Equal(t, "1/3", nav[0].Text)
	assert.Equal(t, "page_info", nav[0].Data)
	assert.Equal(t, "Вперед ➡️", nav[1].Text)
	assert.Equal(t, "search_page_all_1_q", nav[1].Data)

	middle := paginationKeyboard(instrument.FilterAll, "q", "", instrument.Paginate(items, 2, 10))
	require.Len(t, middle.Inline[0], 3)
	assert.Equal(t, "search_page_all_0_q", middle.Inline[0][0].Data)

	single := paginationKeyboard(instrument.FilterAll, "q", "", instrument.Paginate(items[:3], 1, 10))
	require.Len(t, single.Inline, 1, "no navigation row for a single page")
	assert.Equal(t, "❌ Закрыть", single.Inline[0][0].Text)
}

func TestPaginationKeyboard_Ref(t *testing.T) {
	items := make([]instrument.Instrument, 25)
	for i := range items {
		items[i] = instrument.Instrument{Code: string(rune('A' + i))}
	}

	kb := paginationKeyboard(instrument.FilterStocks, "ignored", "tok", instrument.Paginate(items, 2, 10))
	nav := kb.Inline[0]
	require.Len(t, nav, 3)
	assert.Equal(t, "search_ref_stock_0_tok", nav[0].Data)
	assert.Equal(t, "search_ref_stock_2_tok", nav[2].Data)
}
