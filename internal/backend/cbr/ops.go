// ABOUTME: Backend operations served by the CBR endpoint
// ABOUTME: status, rate, currencies and refresh_rates handlers plus registration

package cbr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/2389/finbot-gateway/internal/backend"
)

// Endpoint is the circuit breaker name shared by every CBR operation.
const Endpoint = "cbr"

// Cache resources owned by CBR operations.
const (
	ResourceRates  = "rates"
	ResourceStatus = "status"
)

// Operation names.
const (
	OpStatus       = "status"
	OpRate         = "rate"
	OpCurrencies   = "currencies"
	OpRefreshRates = "refresh_rates"
)

// Registrar is satisfied by *backend.Gateway.
type Registrar interface {
	Register(op, endpoint string, handler backend.Handler)
}

// Status is the result of the status operation.
type Status struct {
	State      string    `json:"state"`
	Date       time.Time `json:"date"`
	Currencies int       `json:"currencies"`
}

// RateResult is the result of the rate operation. Found is false when the
// feed has no rate for Code.
type RateResult struct {
	Code  string `json:"code"`
	Found bool   `json:"found"`
	Rate  Rate   `json:"rate"`
}

// RefreshResult reports a forced re-fetch of a resource.
type RefreshResult struct {
	Resource string    `json:"resource"`
	Items    int       `json:"items"`
	AsOf     time.Time `json:"as_of"`
}

// StatusRequest builds a status request. The feed status is the same for
// every chat, so the request carries no chat id and all chats share one
// cache entry.
func StatusRequest() backend.Request {
	return backend.NewRequest(OpStatus, ResourceStatus)
}

// RateRequest builds a rate lookup for an ISO currency code.
func RateRequest(code string) backend.Request {
	return backend.NewRequest(OpRate, ResourceRates, "code", strings.ToUpper(strings.TrimSpace(code)))
}

// CurrenciesRequest builds a currency dictionary request.
func CurrenciesRequest() backend.Request {
	return backend.NewRequest(OpCurrencies, ResourceRates)
}

// RefreshRequest builds a mutating refresh of the rates resource.
func RefreshRequest() backend.Request {
	req := backend.NewRequest(OpRefreshRates, ResourceRates)
	req.Mutating = true
	return req
}

// Register adds the CBR operations to r.
func Register(r Registrar, c *Client) {
	r.Register(OpStatus, Endpoint, c.handleStatus)
	r.Register(OpRate, Endpoint, c.handleRate)
	r.Register(OpCurrencies, Endpoint, c.handleCurrencies)
	r.Register(OpRefreshRates, Endpoint, c.handleRefresh)
}

func (c *Client) handleStatus(ctx context.Context, req backend.Request) (backend.Response, error) {
	daily, err := c.DailyRates(ctx, time.Time{})
	if err != nil {
		return backend.Response{}, err
	}
	return backend.NewResponse(req.Op, Status{State: "OK", Date: daily.Date, Currencies: len(daily.Rates)})
}

func (c *Client) handleRate(ctx context.Context, req backend.Request) (backend.Response, error) {
	code := strings.ToUpper(req.Param("code"))
	if code == "" {
		return backend.Response{}, backend.Rejected(fmt.Errorf("rate: missing currency code"))
	}
	daily, err := c.DailyRates(ctx, time.Time{})
	if err != nil {
		return backend.Response{}, err
	}
	rate, found := daily.Rates[code]
	return backend.NewResponse(req.Op, RateResult{Code: code, Found: found, Rate: rate})
}

func (c *Client) handleCurrencies(ctx context.Context, req backend.Request) (backend.Response, error) {
	currencies, err := c.Currencies(ctx)
	if err != nil {
		return backend.Response{}, err
	}
	return backend.NewResponse(req.Op, Instruments(currencies))
}

func (c *Client) handleRefresh(ctx context.Context, req backend.Request) (backend.Response, error) {
	daily, err := c.DailyRates(ctx, time.Time{})
	if err != nil {
		return backend.Response{}, err
	}
	c.logger.Info("rates refreshed", "date", daily.Date.Format(dateLayout), "currencies", len(daily.Rates))
	return backend.NewResponse(req.Op, RefreshResult{Resource: ResourceRates, Items: len(daily.Rates), AsOf: daily.Date})
}
