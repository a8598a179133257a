// ABOUTME: Instrument catalog combining currencies and shares with ranked search
// ABOUTME: Also provides pagination and the popular-instrument fallback list

package instrument

import (
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Type distinguishes currencies from shares.
type Type string

const (
	Currency Type = "currency"
	Stock    Type = "stock"
)

// Instrument is a searchable code with a display name.
type Instrument struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Type Type   `json:"type"`
}

// Filter restricts a search to one instrument type.
type Filter string

const (
	FilterAll        Filter = "all"
	FilterCurrencies Filter = "currency"
	FilterStocks     Filter = "stock"
)

// ParseFilter maps a callback or command token onto a Filter.
func ParseFilter(s string) (Filter, bool) {
	switch Filter(s) {
	case FilterAll, FilterCurrencies, FilterStocks:
		return Filter(s), true
	}
	return "", false
}

// Popular is offered when a suggestion query is empty.
var Popular = []string{
	"USD", "EUR", "CNY", "JPY", "GBP",
	"SBER", "GAZP", "LKOH", "GMKN", "ROSNEFT",
	"VTBR", "TATN", "CHMF", "NLMK", "MAGN",
}

// Catalog is an immutable snapshot of known instruments.
type Catalog struct {
	currencies map[string]Instrument
	stocks     map[string]Instrument
	all        []Instrument
}

// NewCatalog builds a catalog. Codes are uppercased; duplicates keep the
// first entry. When a code is both a currency and a share, it is listed once
// as a currency.
func NewCatalog(currencies, stocks []Instrument) *Catalog {
	normalize := func(items []Instrument, t Type) []Instrument {
		items = lo.FilterMap(items, func(it Instrument, _ int) (Instrument, bool) {
			it.Code = strings.ToUpper(strings.TrimSpace(it.Code))
			it.Name = strings.TrimSpace(it.Name)
			it.Type = t
			return it, it.Code != ""
		})
		return lo.UniqBy(items, func(it Instrument) string { return it.Code })
	}

	cur := normalize(currencies, Currency)
	stk := normalize(stocks, Stock)

	c := &Catalog{
		currencies: lo.KeyBy(cur, func(it Instrument) string { return it.Code }),
		stocks:     lo.KeyBy(stk, func(it Instrument) string { return it.Code }),
	}
	stk = lo.Reject(stk, func(it Instrument, _ int) bool {
		_, dup := c.currencies[it.Code]
		return dup
	})
	c.all = append(append(make([]Instrument, 0, len(cur)+len(stk)), cur...), stk...)
	sort.Slice(c.all, func(i, j int) bool { return c.all[i].Code < c.all[j].Code })
	return c
}

// Currency looks up a currency by code, case-insensitively.
func (c *Catalog) Currency(code string) (Instrument, bool) {
	it, ok := c.currencies[strings.ToUpper(strings.TrimSpace(code))]
	return it, ok
}

// Stock looks up a share by ticker, case-insensitively.
func (c *Catalog) Stock(ticker string) (Instrument, bool) {
	it, ok := c.stocks[strings.ToUpper(strings.TrimSpace(ticker))]
	return it, ok
}

// Lookup finds code as a currency first, then as a share.
func (c *Catalog) Lookup(code string) (Instrument, bool) {
	if it, ok := c.Currency(code); ok {
		return it, true
	}
	return c.Stock(code)
}

// Len returns the number of distinct instruments.
func (c *Catalog) Len() int { return len(c.all) }

// Search returns every instrument matching query, ranked. An empty query
// returns the whole filtered catalog in code order.
func (c *Catalog) Search(query string, filter Filter) []Instrument {
	items := c.filtered(filter)
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return items
	}

	matches := lo.Filter(items, func(it Instrument, _ int) bool {
		return matches(it, q)
	})
	sort.SliceStable(matches, func(i, j int) bool {
		return less(matches[i], matches[j], q)
	})
	return matches
}

// Suggest returns at most limit ranked matches across all instruments.
// An empty query returns the popular instruments that are in the catalog.
func (c *Catalog) Suggest(query string, limit int) []Instrument {
	if strings.TrimSpace(query) == "" {
		popular := lo.FilterMap(Popular, func(code string, _ int) (Instrument, bool) {
			return c.Lookup(code)
		})
		return lo.Slice(popular, 0, limit)
	}
	return lo.Slice(c.Search(query, FilterAll), 0, limit)
}

func (c *Catalog) filtered(filter Filter) []Instrument {
	switch filter {
	case FilterCurrencies:
		return lo.Filter(c.all, func(it Instrument, _ int) bool { return it.Type == Currency })
	case FilterStocks:
		return lo.Filter(c.all, func(it Instrument, _ int) bool { return it.Type == Stock })
	default:
		return append([]Instrument(nil), c.all...)
	}
}

func matches(it Instrument, q string) bool {
	code := strings.ToLower(it.Code)
	return strings.Contains(code, q) || strings.Contains(strings.ToLower(it.Name), q)
}

// less ranks exact code, then code prefix, then shorter code, then code order.
func less(a, b Instrument, q string) bool {
	ac, bc := strings.ToLower(a.Code), strings.ToLower(b.Code)

	if ae, be := ac == q, bc == q; ae != be {
		return ae
	}
	if ap, bp := strings.HasPrefix(ac, q), strings.HasPrefix(bc, q); ap != bp {
		return ap
	}
	if len(a.Code) != len(b.Code) {
		return len(a.Code) < len(b.Code)
	}
	return a.Code < b.Code
}
