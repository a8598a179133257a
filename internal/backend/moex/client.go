// ABOUTME: HTTP client for the MOEX ISS securities and market data endpoints
// ABOUTME: Filters the active share list and extracts last or market prices

package moex

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/2389/finbot-gateway/internal/backend"
	"github.com/2389/finbot-gateway/internal/instrument"
)

const (
	securitiesPath = "engines/stock/markets/shares/securities.json"
	boardPath      = "engines/stock/markets/shares/boards/%s/securities/%s.json"
	DefaultBoard   = "TQBR"
	maxBodyBytes   = 16 << 20
)

// Security is a listed share.
type Security struct {
	SecID     string `json:"secid"`
	ShortName string `json:"shortname"`
	SecName   string `json:"secname"`
	ISIN      string `json:"isin"`
	Board     string `json:"board"`
	ListLevel int    `json:"list_level"`
}

// Quote is the current price of a share.
type Quote struct {
	Ticker string  `json:"ticker"`
	Name   string  `json:"name"`
	Price  float64 `json:"price"`
	Found  bool    `json:"found"`
	Source string  `json:"source,omitempty"` // "last" or "marketprice"
}

// Client fetches ISS documents.
type Client struct {
	baseURL string
	board   string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client for baseURL (for example https://iss.moex.com/iss/)
// quoting prices from board. An empty board means TQBR.
func New(baseURL, board string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if board == "" {
		board = DefaultBoard
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		baseURL: baseURL,
		board:   board,
		http:    httpClient,
		logger:  logger.With("component", "moex"),
	}
}

// Securities returns the actively traded first-level listed shares: status
// A, a non-empty ISIN and list level 1. Rows repeated across boards are
// collapsed by SECID.
func (c *Client) Securities(ctx context.Context) ([]Security, error) {
	query := url.Values{"iss.meta": {"off"}, "iss.only": {"securities"}}
	blocks, err := c.fetch(ctx, securitiesPath, query, "securities")
	if err != nil {
		return nil, err
	}

	active := lo.Filter(blocks["securities"], func(r Row, _ int) bool {
		return r["status"] == "A" && strings.TrimSpace(r["isin"]) != "" && r["listlevel"] == "1" &&
			strings.TrimSpace(r["secid"]) != ""
	})
	securities := lo.Map(active, func(r Row, _ int) Security {
		level, _ := strconv.Atoi(r["listlevel"])
		return Security{
			SecID:     strings.ToUpper(strings.TrimSpace(r["secid"])),
			ShortName: r["shortname"],
			SecName:   r["secname"],
			ISIN:      r["isin"],
			Board:     r["boardid"],
			ListLevel: level,
		}
	})
	return lo.UniqBy(securities, func(s Security) string { return s.SecID }), nil
}

// Instruments converts securities into catalog instruments, preferring the
// full security name.
func Instruments(securities []Security) []instrument.Instrument {
	return lo.Map(securities, func(s Security, _ int) instrument.Instrument {
		name := s.SecName
		if name == "" {
			name = s.ShortName
		}
		return instrument.Instrument{Code: s.SecID, Name: name, Type: instrument.Stock}
	})
}

// Quote fetches the price of ticker. The last trade price is used when
// present, otherwise the market price. Found is false when neither is set.
func (c *Client) Quote(ctx context.Context, ticker string) (Quote, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	q := Quote{Ticker: ticker}

	path := fmt.Sprintf(boardPath, url.PathEscape(c.board), url.PathEscape(ticker))
	query := url.Values{"iss.meta": {"off"}, "iss.only": {"securities,marketdata"}}
	blocks, err := c.fetch(ctx, path, query, "securities", "marketdata")
	if err != nil {
		return q, err
	}

	if sec := blocks["securities"]; len(sec) > 0 {
		q.Name = lo.CoalesceOrEmpty(sec[0]["secname"], sec[0]["shortname"])
	}

	market := blocks["marketdata"]
	if len(market) == 0 {
		return q, nil
	}
	for _, field := range []string{"last", "marketprice"} {
		raw := strings.TrimSpace(market[0][field])
		if raw == "" || strings.EqualFold(raw, "null") {
			continue
		}
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return q, backend.InvalidResponse(fmt.Errorf("%s %s: %w", ticker, field, err))
		}
		q.Price, q.Found, q.Source = price, true, field
		return q, nil
	}
	return q, nil
}

func (c *Client) fetch(ctx context.Context, path string, query url.Values, blocks ...string) (map[string][]Row, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, backend.Rejected(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, backend.Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, backend.StatusError(resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, backend.Classify(err)
	}

	out, err := decodeBlocks(body, blocks...)
	if err != nil {
		return nil, backend.InvalidResponse(fmt.Errorf("%s: %w", path, err))
	}
	c.logger.Debug("fetched ISS document", "path", path, "bytes", len(body))
	return out, nil
}
