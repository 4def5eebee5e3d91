package primary

import (
	"context"
	"fmt"
	"net/url"

	"github.com/paa-listas/primary-go/internal/domain"
)

type accountReportResponse struct {
	apiStatus
	AccountData APIAccountData `json:"accountData"`
}

// AccountReport returns the current position and margin report of account.
// A status="ERROR" answer fails like every other trading endpoint.
func (c *Client) AccountReport(ctx context.Context, account string) (domain.AccountStatement, error) {
	if account == "" {
		return domain.AccountStatement{}, fmt.Errorf("primary/rest: account report: account is required")
	}

	var resp accountReportResponse
	path := "/rest/risk/accountReport/" + url.PathEscape(account)
	if err := c.getJSON(ctx, "account report", path, nil, &resp); err != nil {
		return domain.AccountStatement{}, err
	}
	return resp.AccountData.ToAccountStatement(account), nil
}
