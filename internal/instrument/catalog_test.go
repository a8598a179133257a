// ABOUTME: Tests for catalog lookup, ranked search, suggestions, and pagination
// ABOUTME: Uses a small fixed catalog of CBR currencies and MOEX shares

package instrument

import (
	"fmt"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() *Catalog {
	return NewCatalog(
		[]Instrument{
			{Code: "USD", Name: "Доллар США"},
			{Code: "EUR", Name: "Евро"},
			{Code: "cny", Name: "Китайский юань"},
			{Code: "USD", Name: "duplicate"},
			{Code: " ", Name: "blank"},
		},
		[]Instrument{
			{Code: "SBER", Name: "Сбербанк"},
			{Code: "SBERP", Name: "Сбербанк-п"},
			{Code: "GAZP", Name: "ГАЗПРОМ ао"},
			{Code: "USDX", Name: "Fictional share"},
		},
	)
}

func codes(items []Instrument) []string {
	return lo.Map(items, func(it Instrument, _ int) string { return it.Code })
}

func TestCatalog_Lookup(t *testing.T) {
	c := testCatalog()

	usd, ok := c.Currency("usd")
	require.True(t, ok)
	assert.Equal(t, "Доллар США", usd.Name, "first duplicate wins")
	assert.Equal(t, Currency, usd.Type)

	cny, ok := c.Currency("CNY")
	require.True(t, ok)
	assert.Equal(t, "CNY", cny.Code)

	sber, ok := c.Stock(" sber ")
	require.True(t, ok)
	assert.Equal(t, Stock, sber.Type)

	_, ok = c.Stock("USD")
	assert.False(t, ok)

	it, ok := c.Lookup("GAZP")
	require.True(t, ok)
	assert.Equal(t, Stock, it.Type)

	assert.Equal(t, 7, c.Len())
}

func TestCatalog_SearchRanking(t *testing.T) {
	c := testCatalog()

	assert.Equal(t, []string{"SBER", "SBERP"}, codes(c.Search("sber", FilterAll)))
	assert.Equal(t, []string{"USD", "USDX"}, codes(c.Search("USD", FilterAll)), "exact match first")
	assert.Equal(t, []string{"SBER", "SBERP"}, codes(c.Search("сбер", FilterAll)), "name match")
	assert.Equal(t, []string{"EUR"}, codes(c.Search("евро", FilterAll)))
	assert.Equal(t, []string{"GAZP"}, codes(c.Search("газ", FilterAll)), "name match is case-insensitive")
}

func TestCatalog_SearchFilters(t *testing.T) {
	c := testCatalog()

	assert.Equal(t, []string{"USD"}, codes(c.Search("usd", FilterCurrencies)))
	assert.Equal(t, []string{"USDX"}, codes(c.Search("usd", FilterStocks)))
	assert.Equal(t, []string{"CNY", "EUR", "USD"}, codes(c.Search("", FilterCurrencies)))
	assert.Empty(t, c.Search("zzz", FilterAll))
}

func TestCatalog_PrefixBeatsContains(t *testing.T) {
	c := NewCatalog(nil, []Instrument{
		{Code: "ABRU", Name: "x"},
		{Code: "RUAL", Name: "y"},
		{Code: "RU", Name: "z"},
	})
	assert.Equal(t, []string{"RU", "RUAL", "ABRU"}, codes(c.Search("ru", FilterAll)))
}

func TestCatalog_Suggest(t *testing.T) {
	c := testCatalog()

	assert.Equal(t, []string{"SBER"}, codes(c.Suggest("sber", 1)))
	assert.Equal(t, []string{"USD", "EUR", "CNY", "SBER", "GAZP"}, codes(c.Suggest("", 5)), "popular instruments present in the catalog")
}

func TestCatalog_CodeInBothLists(t *testing.T) {
	c := NewCatalog(
		[]Instrument{{Code: "XAU", Name: "gold"}},
		[]Instrument{{Code: "XAU", Name: "gold share"}},
	)
	assert.Equal(t, 1, c.Len())
	it, ok := c.Lookup("XAU")
	require.True(t, ok)
	assert.Equal(t, Currency, it.Type)
}

func TestParseFilter(t *testing.T) {
	f, ok := ParseFilter("stock")
	assert.True(t, ok)
	assert.Equal(t, FilterStocks, f)

	_, ok = ParseFilter("bonds")
	assert.False(t, ok)
}

func TestPaginate(t *testing.T) {
	items := make([]Instrument, 23)
	for i := range items {
		items[i] = Instrument{Code: fmt.Sprintf("C%02d", i)}
	}

	p := Paginate(items, 1, PageSize)
	assert.Len(t, p.Items, 10)
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 23, p.TotalItems)
	assert.False(t, p.HasPrev())
	assert.True(t, p.HasNext())

	p = Paginate(items, 3, PageSize)
	assert.Len(t, p.Items, 3)
	assert.Equal(t, "C20", p.Items[0].Code)
	assert.True(t, p.HasPrev())
	assert.False(t, p.HasNext())

	assert.Equal(t, 3, Paginate(items, 99, PageSize).Number, "clamped to last page")
	assert.Equal(t, 1, Paginate(items, -1, PageSize).Number, "clamped to first page")

	empty := Paginate(nil, 1, PageSize)
	assert.Empty(t, empty.Items)
	assert.Equal(t, 1, empty.Number)
	assert.Equal(t, 0, empty.TotalPages)
}
