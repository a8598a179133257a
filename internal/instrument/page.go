// ABOUTME: Fixed-size pagination over search results
// ABOUTME: Pages are numbered from 1 and out-of-range requests are clamped

package instrument

import "github.com/samber/lo"

// PageSize is the number of search results shown per message.
const PageSize = 10

// Page is one page of search results.
type Page struct {
	Items      []Instrument `json:"items"`
	Number     int          `json:"number"`
	TotalPages int          `json:"total_pages"`
	TotalItems int          `json:"total_items"`
}

// HasPrev reports whether an earlier page exists.
func (p Page) HasPrev() bool { return p.Number > 1 }

// HasNext reports whether a later page exists.
func (p Page) HasNext() bool { return p.Number < p.TotalPages }

// Paginate returns page number (1-based) of items. Page numbers outside
// [1, TotalPages] are clamped; an empty list yields page 1 of 0.
func Paginate(items []Instrument, number, size int) Page {
	if size <= 0 {
		size = PageSize
	}
	total := (len(items) + size - 1) / size
	if number > total {
		number = total
	}
	if number < 1 {
		number = 1
	}
	start := (number - 1) * size
	return Page{
		Items:      lo.Slice(items, start, start+size),
		Number:     number,
		TotalPages: total,
		TotalItems: len(items),
	}
}
