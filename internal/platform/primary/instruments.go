package primary

import (
	"context"

	"github.com/paa-listas/primary-go/internal/domain"
)

type instrumentsResponse struct {
	apiStatus
	Instruments []APIInstrument `json:"instruments"`
}

// Instruments returns the full instrument catalog.
func (c *Client) Instruments(ctx context.Context) ([]domain.Instrument, error) {
	var resp instrumentsResponse
	if err := c.getJSON(ctx, "instruments", "/rest/instruments/details", nil, &resp); err != nil {
		return nil, err
	}

	out := make([]domain.Instrument, 0, len(resp.Instruments))
	for _, a := range resp.Instruments {
		out = append(out, a.ToInstrument())
	}
	return out, nil
}
