package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderID is the client-side identity of an order. Both halves are required
// and compared as an exact pair.
type OrderID struct {
	ClientOrderID string `json:"clOrdId"`
	Proprietary   string `json:"proprietary"`
}

// IsZero reports whether either half is missing.
func (id OrderID) IsZero() bool {
	return id.ClientOrderID == "" || id.Proprietary == ""
}

func (id OrderID) String() string {
	return id.ClientOrderID + "/" + id.Proprietary
}

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType is the pricing type of an order.
type OrderType string

const (
	OrderTypeLimit         OrderType = "LIMIT"
	OrderTypeMarket        OrderType = "MARKET"
	OrderTypeMarketToLimit OrderType = "MARKET_TO_LIMIT"
)

// TimeInForce is the expiration policy of an order.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "DAY"
	TimeInForceIOC TimeInForce = "IOC" // Immediate-Or-Cancel
	TimeInForceFOK TimeInForce = "FOK" // Fill-Or-Kill
	TimeInForceGTD TimeInForce = "GTD" // Good-Till-Date
)

// Order is the caller's intent. It is not modified after submission.
type Order struct {
	InstrumentID    InstrumentID
	Side            Side
	Type            OrderType
	Quantity        decimal.Decimal
	Price           *decimal.Decimal
	Expiration      TimeInForce
	ExpireDate      time.Time // only with TimeInForceGTD
	CancelPrevious  bool
	Iceberg         bool
	DisplayQuantity *decimal.Decimal // only with Iceberg
}

// Validate checks the order for missing or inconsistent fields.
func (o Order) Validate() error {
	switch {
	case o.InstrumentID.IsZero():
		return fmt.Errorf("%w: instrument id is required", ErrInvalidOrder)
	case o.Side != SideBuy && o.Side != SideSell:
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, o.Side)
	case !o.Quantity.IsPositive():
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	switch o.Type {
	case OrderTypeLimit:
		if o.Price == nil || !o.Price.IsPositive() {
			return fmt.Errorf("%w: limit order needs a positive price", ErrInvalidOrder)
		}
	case OrderTypeMarket, OrderTypeMarketToLimit:
	default:
		return fmt.Errorf("%w: order type %q", ErrInvalidOrder, o.Type)
	}
	switch o.Expiration {
	case TimeInForceDay, TimeInForceIOC, TimeInForceFOK:
	case TimeInForceGTD:
		if o.ExpireDate.IsZero() {
			return fmt.Errorf("%w: good-till-date order needs an expire date", ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("%w: time in force %q", ErrInvalidOrder, o.Expiration)
	}
	if o.Iceberg {
		if o.DisplayQuantity == nil || !o.DisplayQuantity.IsPositive() {
			return fmt.Errorf("%w: iceberg order needs a positive display quantity", ErrInvalidOrder)
		}
		if o.DisplayQuantity.GreaterThan(o.Quantity) {
			return fmt.Errorf("%w: display quantity exceeds quantity", ErrInvalidOrder)
		}
	}
	return nil
}

// OrderState is the server-observed lifecycle state of an order.
type OrderState string

const (
	OrderStatePendingNew      OrderState = "PENDING_NEW"
	OrderStateNew             OrderState = "NEW"
	OrderStatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderStatePendingCancel   OrderState = "PENDING_CANCEL"
	OrderStatePendingReplace  OrderState = "PENDING_REPLACE"
	OrderStateFilled          OrderState = "FILLED"
	OrderStateCancelled       OrderState = "CANCELLED"
	OrderStateRejected        OrderState = "REJECTED"
	OrderStateExpired         OrderState = "EXPIRED"
	OrderStateReplaced        OrderState = "REPLACED"
)

// transitions lists the forward moves out of each non-terminal state.
// PARTIALLY_FILLED -> PARTIALLY_FILLED is allowed here and further gated on
// a growing filled quantity by AcceptStatus.
var transitions = map[OrderState][]OrderState{
	OrderStatePendingNew: {
		OrderStateNew, OrderStatePartiallyFilled, OrderStateFilled,
		OrderStateCancelled, OrderStateRejected, OrderStateExpired,
	},
	OrderStateNew: {
		OrderStatePartiallyFilled, OrderStateFilled, OrderStatePendingCancel,
		OrderStatePendingReplace, OrderStateCancelled, OrderStateRejected,
		OrderStateExpired, OrderStateReplaced,
	},
	OrderStatePartiallyFilled: {
		OrderStatePartiallyFilled, OrderStateFilled, OrderStatePendingCancel,
		OrderStatePendingReplace, OrderStateCancelled, OrderStateExpired,
		OrderStateReplaced,
	},
	OrderStatePendingCancel: {
		OrderStateNew, OrderStatePartiallyFilled, OrderStateFilled,
		OrderStateCancelled, OrderStateExpired,
	},
	OrderStatePendingReplace: {
		OrderStateNew, OrderStatePartiallyFilled, OrderStateFilled,
		OrderStateCancelled, OrderStateExpired, OrderStateReplaced,
	},
}

// Valid reports whether s is a known state.
func (s OrderState) Valid() bool {
	_, working := transitions[s]
	return working || s.IsTerminal()
}

// IsTerminal reports whether s admits no further transitions.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderStateFilled, OrderStateCancelled, OrderStateRejected,
		OrderStateExpired, OrderStateReplaced:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a forward move from s.
func (s OrderState) CanTransitionTo(next OrderState) bool {
	for _, n := range transitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// OrderStatus is the server-observed state of one order.
type OrderStatus struct {
	OrderID         OrderID         `json:"orderId"`
	ExchangeOrderID string          `json:"exchangeOrderId,omitempty"`
	ExecID          string          `json:"execId,omitempty"`
	Account         string          `json:"account"`
	InstrumentID    InstrumentID    `json:"instrumentId"`
	Side            Side            `json:"side"`
	Type            OrderType       `json:"type"`
	TimeInForce     TimeInForce     `json:"timeInForce"`
	Price           decimal.Decimal `json:"price"`
	Quantity        decimal.Decimal `json:"quantity"`
	FilledQuantity  decimal.Decimal `json:"filledQuantity"`
	LeavesQuantity  decimal.Decimal `json:"leavesQuantity"`
	AveragePrice    decimal.Decimal `json:"averagePrice"`
	LastPrice       decimal.Decimal `json:"lastPrice"`
	LastQuantity    decimal.Decimal `json:"lastQuantity"`
	State           OrderState      `json:"state"`
	Text            string          `json:"text,omitempty"`
	TransactTime    time.Time       `json:"transactTime"`
}

// AcceptStatus reports whether next is a valid forward step from cur for
// the same order. Fills only move forward while the filled quantity grows.
func AcceptStatus(cur, next OrderStatus) bool {
	if cur.OrderID != next.OrderID || cur.State.IsTerminal() {
		return false
	}
	if !cur.State.CanTransitionTo(next.State) {
		return false
	}
	if next.FilledQuantity.LessThan(cur.FilledQuantity) {
		return false
	}
	if cur.State == OrderStatePartiallyFilled && next.State == OrderStatePartiallyFilled {
		return next.FilledQuantity.GreaterThan(cur.FilledQuantity)
	}
	return true
}
