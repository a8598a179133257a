// ABOUTME: Formats successful backend results into reply text
// ABOUTME: Dispatches on the operation recorded when the request was issued

package conversation

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/2389/finbot-gateway/internal/backend"
	"github.com/2389/finbot-gateway/internal/backend/cbr"
	"github.com/2389/finbot-gateway/internal/backend/moex"
	"github.com/2389/finbot-gateway/internal/session"
)

func formatResult(pc session.Context, resp backend.Response) (string, error) {
	switch pc.Command {
	case cbr.OpStatus:
		st, err := backend.Decode[cbr.Status](resp)
		if err != nil {
			return "", err
		}
		return statusText(st.State), nil

	case cbr.OpRate:
		r, err := backend.Decode[cbr.RateResult](resp)
		if err != nil {
			return "", err
		}
		code := lo.CoalesceOrEmpty(r.Code, pc.Args)
		if !r.Found {
			return rateNotFoundText(code, lo.CoalesceOrEmpty(pc.Name, code)), nil
		}
		return rateText(code, r.Rate.UnitRate), nil

	case moex.OpPrice:
		q, err := backend.Decode[moex.Quote](resp)
		if err != nil {
			return "", err
		}
		ticker := lo.CoalesceOrEmpty(q.Ticker, pc.Args)
		if !q.Found {
			return priceNotFoundText(ticker, lo.CoalesceOrEmpty(pc.Name, q.Name, ticker)), nil
		}
		return priceText(ticker, q.Price), nil

	case cbr.OpRefreshRates:
		r, err := backend.Decode[cbr.RefreshResult](resp)
		if err != nil {
			return "", err
		}
		return refreshText(r.Resource, r.Items), nil

	case moex.OpRefreshShares:
		r, err := backend.Decode[moex.RefreshResult](resp)
		if err != nil {
			return "", err
		}
		return refreshText(r.Resource, r.Items), nil

	default:
		return "", backend.InvalidResponse(fmt.Errorf("no reply format for %q", pc.Command))
	}
}
