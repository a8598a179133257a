// ABOUTME: Encoding and decoding of inline keyboard callback data
// ABOUTME: Formats are currency_X, stock_X, search_page_<filter>_<page>_<query>, search_ref_<filter>_<page>_<token>, page_info and close

package conversation

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/2389/finbot-gateway/internal/instrument"
)

const (
	currencyPrefix   = "currency_"
	stockPrefix      = "stock_"
	searchPagePrefix = "search_page_"
	searchRefPrefix  = "search_ref_"
	closeData        = "close"
	pageInfoData     = "page_info"

	// Telegram rejects callback data longer than this.
	maxCallbackBytes = 64
)

var errBadCallback = errors.New("malformed callback data")

type callbackKind int

const (
	callbackUnknown callbackKind = iota
	callbackCurrency
	callbackStock
	callbackSearchPage
	callbackPageInfo
	callbackClose
)

type callback struct {
	kind   callbackKind
	code   string
	filter instrument.Filter
	page   int // 0-based
	query  string
	ref    string // session token standing in for query
}

func parseCallback(data string) (callback, error) {
	switch {
	case data == closeData:
		return callback{kind: callbackClose}, nil
	case data == pageInfoData:
		return callback{kind: callbackPageInfo}, nil
	case strings.HasPrefix(data, currencyPrefix):
		code := strings.ToUpper(strings.TrimPrefix(data, currencyPrefix))
		if code == "" {
			return callback{}, fmt.Errorf("%w: %q", errBadCallback, data)
		}
		return callback{kind: callbackCurrency, code: code}, nil
	case strings.HasPrefix(data, stockPrefix):
		code := strings.ToUpper(strings.TrimPrefix(data, stockPrefix))
		if code == "" {
			return callback{}, fmt.Errorf("%w: %q", errBadCallback, data)
		}
		return callback{kind: callbackStock, code: code}, nil
	case strings.HasPrefix(data, searchPagePrefix):
		return parseSearchPage(strings.TrimPrefix(data, searchPagePrefix))
	case strings.HasPrefix(data, searchRefPrefix):
		return parseSearchRef(strings.TrimPrefix(data, searchRefPrefix))
	default:
		return callback{kind: callbackUnknown}, nil
	}
}

func parseSearchPage(rest string) (callback, error) {
	parts := strings.SplitN(rest, "_", 3)
	if len(parts) < 2 {
		return callback{}, fmt.Errorf("%w: search page %q", errBadCallback, rest)
	}
	cb, err := searchPosition(parts[0], parts[1])
	if err != nil {
		return callback{}, err
	}
	if len(parts) == 3 {
		query, err := url.QueryUnescape(parts[2])
		if err != nil {
			query = parts[2]
		}
		cb.query = query
	}
	return cb, nil
}

func parseSearchRef(rest string) (callback, error) {
	parts := strings.SplitN(rest, "_", 3)
	if len(parts) < 3 || parts[2] == "" {
		return callback{}, fmt.Errorf("%w: search ref %q", errBadCallback, rest)
	}
	cb, err := searchPosition(parts[0], parts[1])
	if err != nil {
		return callback{}, err
	}
	cb.ref = parts[2]
	return cb, nil
}

func searchPosition(rawFilter, rawPage string) (callback, error) {
	filter, ok := instrument.ParseFilter(rawFilter)
	if !ok {
		return callback{}, fmt.Errorf("%w: search filter %q", errBadCallback, rawFilter)
	}
	page, err := strconv.Atoi(rawPage)
	if err != nil || page < 0 {
		return callback{}, fmt.Errorf("%w: search page number %q", errBadCallback, rawPage)
	}
	return callback{kind: callbackSearchPage, filter: filter, page: page}, nil
}

func currencyCallback(code string) string { return currencyPrefix + code }

func stockCallback(code string) string { return stockPrefix + code }

// searchPageCallback encodes a page link carrying the query itself.
func searchPageCallback(filter instrument.Filter, page int, query string) string {
	return searchPagePrefix + string(filter) + "_" + strconv.Itoa(page) + "_" + url.QueryEscape(query)
}

// searchRefCallback encodes a page link whose query is kept in the session
// under ref.
func searchRefCallback(filter instrument.Filter, page int, ref string) string {
	return searchRefPrefix + string(filter) + "_" + strconv.Itoa(page) + "_" + ref
}

// fitsInline reports whether every page link up to pages can carry query
// within Telegram's callback limit.
func fitsInline(filter instrument.Filter, pages int, query string) bool {
	return len(searchPageCallback(filter, pages, query)) <= maxCallbackBytes
}
