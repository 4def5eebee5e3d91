package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/paa-listas/primary-go/internal/domain"
	"github.com/shopspring/decimal"
)

// OrderService is what the order endpoints need from the coordinator.
type OrderService interface {
	Submit(ctx context.Context, account string, order domain.Order) (domain.OrderID, error)
	Replace(ctx context.Context, id domain.OrderID, quantity decimal.Decimal, price *decimal.Decimal) (domain.OrderID, error)
	Cancel(ctx context.Context, id domain.OrderID) error
	Query(ctx context.Context, id domain.OrderID) (domain.OrderStatus, error)
	Status(id domain.OrderID) (domain.OrderStatus, bool)
	History(ctx context.Context, id domain.OrderID) ([]domain.OrderTransition, error)
	Orders() []domain.OrderStatus
	Open() []domain.OrderStatus
}

// OrderHandler serves the order endpoints.
type OrderHandler struct {
	orders         OrderService
	defaultAccount string
	logger         *slog.Logger
}

// NewOrderHandler creates an OrderHandler. defaultAccount is used when a
// submit request names no account.
func NewOrderHandler(orders OrderService, defaultAccount string, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders:         orders,
		defaultAccount: defaultAccount,
		logger:         logHandler(logger, "orders"),
	}
}

type submitRequest struct {
	Account         string              `json:"account"`
	Instrument      string              `json:"instrument"` // MARKET:SYMBOL
	Side            domain.Side         `json:"side"`
	Type            domain.OrderType    `json:"type"`
	Quantity        decimal.Decimal     `json:"quantity"`
	Price           decimal.NullDecimal `json:"price"`
	TimeInForce     domain.TimeInForce  `json:"timeInForce"`
	ExpireDate      string              `json:"expireDate"` // YYYY-MM-DD, GTD only
	CancelPrevious  bool                `json:"cancelPrevious"`
	Iceberg         bool                `json:"iceberg"`
	DisplayQuantity decimal.NullDecimal `json:"displayQuantity"`
}

func (req submitRequest) order() (domain.Order, error) {
	id, err := domain.ParseInstrumentID(req.Instrument)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", domain.ErrInvalidOrder, err)
	}
	o := domain.Order{
		InstrumentID:   id,
		Side:           domain.Side(strings.ToUpper(string(req.Side))),
		Type:           domain.OrderType(strings.ToUpper(string(req.Type))),
		Quantity:       req.Quantity,
		Expiration:     domain.TimeInForce(strings.ToUpper(string(req.TimeInForce))),
		CancelPrevious: req.CancelPrevious,
		Iceberg:        req.Iceberg,
	}
	if o.Type == "" {
		o.Type = domain.OrderTypeLimit
	}
	if o.Expiration == "" {
		o.Expiration = domain.TimeInForceDay
	}
	if req.Price.Valid {
		p := req.Price.Decimal
		o.Price = &p
	}
	if req.DisplayQuantity.Valid {
		d := req.DisplayQuantity.Decimal
		o.DisplayQuantity = &d
	}
	if req.ExpireDate != "" {
		t, err := time.Parse(time.DateOnly, req.ExpireDate)
		if err != nil {
			return domain.Order{}, fmt.Errorf("%w: expireDate %q", domain.ErrInvalidOrder, req.ExpireDate)
		}
		o.ExpireDate = t
	}
	return o, nil
}

type orderIDResponse struct {
	OrderID domain.OrderID `json:"orderId"`
}

type orderResponse struct {
	Status   domain.OrderStatus       `json:"status"`
	Tracked  bool                     `json:"tracked"`
	Timeline []domain.OrderTransition `json:"timeline,omitempty"`
}

// ListOrders returns tracked orders, only the working ones with ?open=true.
// GET /api/orders
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	var orders []domain.OrderStatus
	if r.URL.Query().Get("open") == "true" {
		orders = h.orders.Open()
	} else {
		orders = h.orders.Orders()
	}
	if account := r.URL.Query().Get("account"); account != "" {
		kept := orders[:0]
		for _, o := range orders {
			if o.Account == account {
				kept = append(kept, o)
			}
		}
		orders = kept
	}
	if orders == nil {
		orders = []domain.OrderStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// GetOrder returns the status and timeline of one order. Untracked orders,
// or any order with ?refresh=true, are queried upstream; their timeline
// comes from the order store when one is wired.
// GET /api/orders/{clOrdId}/{proprietary}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathOrderID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}
	st, tracked := h.orders.Status(id)
	if !tracked || r.URL.Query().Get("refresh") == "true" {
		var err error
		if st, err = h.orders.Query(r.Context(), id); err != nil {
			writeFailure(w, r, h.logger, "query order", err)
			return
		}
		st, tracked = h.refreshed(id, st)
	}
	resp := orderResponse{Status: st, Tracked: tracked}
	timeline, err := h.orders.History(r.Context(), id)
	switch {
	case err == nil:
		resp.Timeline = timeline
	case !errors.Is(err, domain.ErrNotFound):
		h.logger.WarnContext(r.Context(), "order history unavailable",
			slog.String("order_id", id.String()),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, http.StatusOK, resp)
}

// refreshed prefers the coordinator's folded view over the raw query answer.
func (h *OrderHandler) refreshed(id domain.OrderID, queried domain.OrderStatus) (domain.OrderStatus, bool) {
	if st, ok := h.orders.Status(id); ok {
		return st, true
	}
	return queried, false
}

// SubmitOrder places a new order.
// POST /api/orders
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	order, err := req.order()
	if err != nil {
		writeFailure(w, r, h.logger, "submit order", err)
		return
	}
	account := req.Account
	if account == "" {
		account = h.defaultAccount
	}
	if account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}

	id, err := h.orders.Submit(r.Context(), account, order)
	if err != nil {
		writeFailure(w, r, h.logger, "submit order", err)
		return
	}
	h.logger.InfoContext(r.Context(), "order submitted",
		slog.String("order_id", id.String()),
		slog.String("instrument", order.InstrumentID.String()),
	)
	writeJSON(w, http.StatusCreated, orderIDResponse{OrderID: id})
}

type replaceRequest struct {
	Quantity decimal.Decimal     `json:"quantity"`
	Price    decimal.NullDecimal `json:"price"`
}

// ReplaceOrder changes quantity and optionally price. The answer carries
// the identity of the replacement order.
// PUT /api/orders/{clOrdId}/{proprietary}
func (h *OrderHandler) ReplaceOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathOrderID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}
	var req replaceRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !req.Quantity.IsPositive() {
		writeError(w, http.StatusBadRequest, "quantity must be positive")
		return
	}
	var price *decimal.Decimal
	if req.Price.Valid {
		price = &req.Price.Decimal
	}

	newID, err := h.orders.Replace(r.Context(), id, req.Quantity, price)
	if err != nil {
		writeFailure(w, r, h.logger, "replace order", err)
		return
	}
	writeJSON(w, http.StatusOK, orderIDResponse{OrderID: newID})
}

// CancelOrder requests cancellation. The final state arrives later on the
// order channel.
// DELETE /api/orders/{clOrdId}/{proprietary}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathOrderID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}
	if err := h.orders.Cancel(r.Context(), id); err != nil {
		writeFailure(w, r, h.logger, "cancel order", err)
		return
	}
	writeJSON(w, http.StatusAccepted, orderIDResponse{OrderID: id})
}
