package primary

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/paa-listas/primary-go/internal/domain"
)

type orderAckResponse struct {
	apiStatus
	Order APIOrderAck `json:"order"`
}

type orderStatusResponse struct {
	apiStatus
	Order APIOrderReport `json:"order"`
}

// SubmitOrder sends a new order for account and returns the identity the
// server assigned to it.
func (c *Client) SubmitOrder(ctx context.Context, account string, order domain.Order) (domain.OrderID, error) {
	if err := order.Validate(); err != nil {
		return domain.OrderID{}, fmt.Errorf("primary/rest: submit order: %w", err)
	}
	if account == "" {
		return domain.OrderID{}, fmt.Errorf("primary/rest: submit order: %w: account is required", domain.ErrInvalidOrder)
	}

	params := submitParams(account, order)

	var resp orderAckResponse
	if err := c.getJSON(ctx, "submit order", "/rest/order/newSingleOrder", params, &resp); err != nil {
		return domain.OrderID{}, err
	}

	id := domain.OrderID{ClientOrderID: resp.Order.ClientID, Proprietary: resp.Order.Proprietary}
	if id.IsZero() {
		return domain.OrderID{}, &domain.DecodeError{Op: "submit order", Err: fmt.Errorf("acknowledgment without order identity")}
	}
	return id, nil
}

// submitParams encodes an order as newSingleOrder query parameters. Prices
// and quantities use invariant decimal formatting.
func submitParams(account string, order domain.Order) url.Values {
	params := url.Values{}
	params.Set("marketId", order.InstrumentID.MarketID)
	params.Set("symbol", order.InstrumentID.Symbol)
	if order.Price != nil {
		params.Set("price", order.Price.String())
	}
	params.Set("orderQty", order.Quantity.String())
	params.Set("ordType", string(order.Type))
	params.Set("side", string(order.Side))
	params.Set("timeInForce", string(order.Expiration))
	params.Set("account", account)
	params.Set("cancelPrevious", strconv.FormatBool(order.CancelPrevious))
	params.Set("iceberg", strconv.FormatBool(order.Iceberg))
	if order.Expiration == domain.TimeInForceGTD {
		params.Set("expireDate", order.ExpireDate.Format(expireDateLayout))
	}
	if order.Iceberg && order.DisplayQuantity != nil {
		params.Set("displayQty", order.DisplayQuantity.String())
	}
	return params
}

// ReplaceOrder changes the quantity and, when price is non-nil, the price of
// a working order. The replacement carries a new identity.
func (c *Client) ReplaceOrder(ctx context.Context, id domain.OrderID, quantity decimal.Decimal, price *decimal.Decimal) (domain.OrderID, error) {
	if id.IsZero() {
		return domain.OrderID{}, fmt.Errorf("primary/rest: replace order: %w: incomplete order id", domain.ErrInvalidOrder)
	}
	if !quantity.IsPositive() {
		return domain.OrderID{}, fmt.Errorf("primary/rest: replace order: %w: quantity must be positive", domain.ErrInvalidOrder)
	}

	params := orderIDParams(id)
	params.Set("orderQty", quantity.String())
	if price != nil {
		params.Set("price", price.String())
	}

	var resp orderAckResponse
	if err := c.getJSON(ctx, "replace order", "/rest/order/replaceById", params, &resp); err != nil {
		return domain.OrderID{}, err
	}

	newID := domain.OrderID{ClientOrderID: resp.Order.ClientID, Proprietary: resp.Order.Proprietary}
	if newID.IsZero() {
		return domain.OrderID{}, &domain.DecodeError{Op: "replace order", Err: fmt.Errorf("acknowledgment without order identity")}
	}
	return newID, nil
}

// CancelOrder requests cancellation of a working order.
func (c *Client) CancelOrder(ctx context.Context, id domain.OrderID) error {
	if id.IsZero() {
		return fmt.Errorf("primary/rest: cancel order: %w: incomplete order id", domain.ErrInvalidOrder)
	}
	var resp apiStatus
	return c.getJSON(ctx, "cancel order", "/rest/order/cancelById", orderIDParams(id), &resp)
}

// OrderStatus returns the server's current view of an order.
func (c *Client) OrderStatus(ctx context.Context, id domain.OrderID) (domain.OrderStatus, error) {
	if id.IsZero() {
		return domain.OrderStatus{}, fmt.Errorf("primary/rest: order status: %w: incomplete order id", domain.ErrInvalidOrder)
	}

	var resp orderStatusResponse
	if err := c.getJSON(ctx, "order status", "/rest/order/id", orderIDParams(id), &resp); err != nil {
		return domain.OrderStatus{}, err
	}

	st, err := resp.Order.ToOrderStatus()
	if err != nil {
		return domain.OrderStatus{}, &domain.DecodeError{Op: "order status", Err: err}
	}
	return st, nil
}

func orderIDParams(id domain.OrderID) url.Values {
	params := url.Values{}
	params.Set("clOrdId", id.ClientOrderID)
	params.Set("proprietary", id.Proprietary)
	return params
}
