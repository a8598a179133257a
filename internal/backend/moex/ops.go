// ABOUTME: Backend operations served by the MOEX endpoint
// ABOUTME: price, securities and refresh_shares handlers plus registration

package moex

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/2389/finbot-gateway/internal/backend"
)

// Endpoint is the circuit breaker name shared by every MOEX operation.
const Endpoint = "moex"

// ResourceShares is the cache resource owned by MOEX operations.
const ResourceShares = "shares"

const (
	OpPrice         = "price"
	OpSecurities    = "securities"
	OpRefreshShares = "refresh_shares"
)

// Registrar is satisfied by *backend.Gateway.
type Registrar interface {
	Register(op, endpoint string, handler backend.Handler)
}

// RefreshResult reports a forced re-fetch of the share list.
type RefreshResult struct {
	Resource string    `json:"resource"`
	Items    int       `json:"items"`
	AsOf     time.Time `json:"as_of"`
}

// PriceRequest builds a price lookup for ticker.
func PriceRequest(ticker string) backend.Request {
	return backend.NewRequest(OpPrice, ResourceShares, "ticker", strings.ToUpper(strings.TrimSpace(ticker)))
}

// SecuritiesRequest builds a request for the active share list.
func SecuritiesRequest() backend.Request {
	return backend.NewRequest(OpSecurities, ResourceShares)
}

// RefreshRequest builds a mutating refresh of the shares resource.
func RefreshRequest() backend.Request {
	req := backend.NewRequest(OpRefreshShares, ResourceShares)
	req.Mutating = true
	return req
}

// Register adds the MOEX operations to r.
func Register(r Registrar, c *Client) {
	r.Register(OpPrice, Endpoint, c.handlePrice)
	r.Register(OpSecurities, Endpoint, c.handleSecurities)
	r.Register(OpRefreshShares, Endpoint, c.handleRefresh)
}

func (c *Client) handlePrice(ctx context.Context, req backend.Request) (backend.Response, error) {
	ticker := req.Param("ticker")
	if ticker == "" {
		return backend.Response{}, backend.Rejected(fmt.Errorf("price: missing ticker"))
	}
	q, err := c.Quote(ctx, ticker)
	if err != nil {
		return backend.Response{}, err
	}
	return backend.NewResponse(req.Op, q)
}

func (c *Client) handleSecurities(ctx context.Context, req backend.Request) (backend.Response, error) {
	securities, err := c.Securities(ctx)
	if err != nil {
		return backend.Response{}, err
	}
	return backend.NewResponse(req.Op, Instruments(securities))
}

func (c *Client) handleRefresh(ctx context.Context, req backend.Request) (backend.Response, error) {
	securities, err := c.Securities(ctx)
	if err != nil {
		return backend.Response{}, err
	}
	c.logger.Info("shares refreshed", "securities", len(securities))
	return backend.NewResponse(req.Op, RefreshResult{Resource: ResourceShares, Items: len(securities), AsOf: time.Now()})
}
