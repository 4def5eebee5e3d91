package primary

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/paa-listas/primary-go/internal/domain"
)

type tradesResponse struct {
	apiStatus
	Trades []APITrade `json:"trades"`
}

// Trades returns historical trades of one instrument between two dates,
// both inclusive.
func (c *Client) Trades(ctx context.Context, id domain.InstrumentID, from, to time.Time) ([]domain.Trade, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("primary/rest: trades: incomplete instrument id %q", id.String())
	}

	params := url.Values{}
	params.Set("marketId", id.MarketID)
	params.Set("symbol", id.Symbol)
	params.Set("dateFrom", from.Format(tradeDateLayout))
	params.Set("dateTo", to.Format(tradeDateLayout))

	var resp tradesResponse
	if err := c.getJSON(ctx, "trades", "/rest/data/getTrades", params, &resp); err != nil {
		return nil, err
	}

	out := make([]domain.Trade, 0, len(resp.Trades))
	for _, a := range resp.Trades {
		t, err := a.ToTrade(id.MarketID)
		if err != nil {
			return nil, &domain.DecodeError{Op: "trades", Err: err}
		}
		out = append(out, t)
	}
	return out, nil
}
