package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paa-listas/primary-go/internal/domain"
)

// defaultMaxParked bounds how many unknown order identities are parked while
// waiting for their submit acknowledgment.
const defaultMaxParked = 1024

// OrderCommander is the REST surface the coordinator drives.
type OrderCommander interface {
	SubmitOrder(ctx context.Context, account string, order domain.Order) (domain.OrderID, error)
	ReplaceOrder(ctx context.Context, id domain.OrderID, quantity decimal.Decimal, price *decimal.Decimal) (domain.OrderID, error)
	CancelOrder(ctx context.Context, id domain.OrderID) error
	OrderStatus(ctx context.Context, id domain.OrderID) (domain.OrderStatus, error)
}

// EventNotifier delivers operator alerts.
type EventNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

type trackedOrder struct {
	status   domain.OrderStatus
	timeline []domain.OrderTransition
}

// CoordinatorStats are the coordinator's counters.
type CoordinatorStats struct {
	Tracked int    `json:"tracked"`
	Open    int    `json:"open"`
	Parked  int    `json:"parked"`
	Ignored uint64 `json:"ignored"`
}

// OrderCoordinator issues order commands and folds order events into one
// authoritative status per order. Events only move an order forward through
// its state machine; anything else is dropped and counted.
type OrderCoordinator struct {
	commander OrderCommander
	store     domain.OrderStore
	bus       domain.SignalBus
	notifier  EventNotifier
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.Mutex
	orders      map[domain.OrderID]*trackedOrder
	parked      map[domain.OrderID][]domain.OrderStatus
	parkedOrder []domain.OrderID
	maxParked   int
	pending     []domain.OrderTransition // accepted, not yet published

	pubMu sync.Mutex

	ignored atomic.Uint64
}

// NewOrderCoordinator creates a coordinator over commander. Persistence, the
// event bus and notifications are optional and attached with the With
// methods.
func NewOrderCoordinator(commander OrderCommander, logger *slog.Logger) *OrderCoordinator {
	return &OrderCoordinator{
		commander: commander,
		logger:    logger.With(slog.String("component", "order_coordinator")),
		now:       time.Now,
		orders:    make(map[domain.OrderID]*trackedOrder),
		parked:    make(map[domain.OrderID][]domain.OrderStatus),
		maxParked: defaultMaxParked,
	}
}

// WithStore persists every accepted transition.
func (c *OrderCoordinator) WithStore(store domain.OrderStore) *OrderCoordinator {
	c.store = store
	return c
}

// WithBus publishes every accepted transition on the "orders" channel.
func (c *OrderCoordinator) WithBus(bus domain.SignalBus) *OrderCoordinator {
	c.bus = bus
	return c
}

// WithNotifier sends an alert when an order reaches a terminal state.
func (c *OrderCoordinator) WithNotifier(n EventNotifier) *OrderCoordinator {
	c.notifier = n
	return c
}

// Submit sends a new order and starts tracking it in PENDING_NEW. Events
// that arrived for the returned identity before the acknowledgment are
// folded in immediately.
func (c *OrderCoordinator) Submit(ctx context.Context, account string, order domain.Order) (domain.OrderID, error) {
	id, err := c.commander.SubmitOrder(ctx, account, order)
	if err != nil {
		return domain.OrderID{}, fmt.Errorf("coordinator: submit: %w", err)
	}

	seed := domain.OrderStatus{
		OrderID:        id,
		Account:        account,
		InstrumentID:   order.InstrumentID,
		Side:           order.Side,
		Type:           order.Type,
		TimeInForce:    order.Expiration,
		Quantity:       order.Quantity,
		LeavesQuantity: order.Quantity,
		State:          domain.OrderStatePendingNew,
		TransactTime:   c.now(),
	}
	if order.Price != nil {
		seed.Price = *order.Price
	}

	if err := c.track(ctx, seed); err != nil {
		return id, err
	}

	c.logger.InfoContext(ctx, "order submitted",
		slog.String("order_id", id.String()),
		slog.String("account", account),
		slog.String("instrument", order.InstrumentID.String()),
		slog.String("side", string(order.Side)),
		slog.String("quantity", order.Quantity.String()),
	)
	return id, nil
}

// Replace changes quantity and optionally price of a working order. The
// replacement is tracked under its new identity; the old one is expected to
// move to REPLACED through the event stream.
func (c *OrderCoordinator) Replace(ctx context.Context, id domain.OrderID, quantity decimal.Decimal, price *decimal.Decimal) (domain.OrderID, error) {
	newID, err := c.commander.ReplaceOrder(ctx, id, quantity, price)
	if err != nil {
		return domain.OrderID{}, fmt.Errorf("coordinator: replace %s: %w", id, err)
	}

	seed := domain.OrderStatus{OrderID: newID}
	if prev, ok := c.Status(id); ok {
		seed = prev
		seed.OrderID = newID
		seed.ExchangeOrderID = ""
		seed.ExecID = ""
		seed.FilledQuantity = decimal.Zero
		seed.AveragePrice = decimal.Zero
		seed.LastPrice = decimal.Zero
		seed.LastQuantity = decimal.Zero
		seed.Text = ""
	}
	seed.Quantity = quantity
	seed.LeavesQuantity = quantity
	if price != nil {
		seed.Price = *price
	}
	seed.State = domain.OrderStatePendingNew
	seed.TransactTime = c.now()

	if err := c.track(ctx, seed); err != nil {
		return newID, err
	}

	c.logger.InfoContext(ctx, "order replaced",
		slog.String("order_id", id.String()),
		slog.String("new_order_id", newID.String()),
		slog.String("quantity", quantity.String()),
	)
	return newID, nil
}

// Cancel requests cancellation. The tracked state only changes when the
// server reports it.
func (c *OrderCoordinator) Cancel(ctx context.Context, id domain.OrderID) error {
	if err := c.commander.CancelOrder(ctx, id); err != nil {
		return fmt.Errorf("coordinator: cancel %s: %w", id, err)
	}
	c.logger.InfoContext(ctx, "cancel requested", slog.String("order_id", id.String()))
	return nil
}

// Query reads the server's current status of an order and, when the order
// is tracked, folds it in like an event.
func (c *OrderCoordinator) Query(ctx context.Context, id domain.OrderID) (domain.OrderStatus, error) {
	st, err := c.commander.OrderStatus(ctx, id)
	if err != nil {
		return domain.OrderStatus{}, fmt.Errorf("coordinator: query %s: %w", id, err)
	}

	c.mu.Lock()
	var accepted []domain.OrderTransition
	if t, ok := c.orders[st.OrderID]; ok {
		if tr, ok := c.applyLocked(t, st, "query"); ok {
			accepted = append(accepted, tr)
		}
	}
	c.pending = append(c.pending, accepted...)
	c.mu.Unlock()

	c.flush(ctx)
	return st, nil
}

// Apply folds one order event. Events for identities not yet returned by
// Submit or Replace are parked. It reports whether the tracked status
// changed; it never fails.
func (c *OrderCoordinator) Apply(ctx context.Context, st domain.OrderStatus) bool {
	c.mu.Lock()
	t, ok := c.orders[st.OrderID]
	if !ok {
		c.parkLocked(st)
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "parked event for unknown order",
			slog.String("order_id", st.OrderID.String()),
			slog.String("state", string(st.State)),
		)
		return false
	}
	tr, accepted := c.applyLocked(t, st, "event")
	if accepted {
		c.pending = append(c.pending, tr)
	}
	c.mu.Unlock()

	if accepted {
		c.flush(ctx)
	}
	return accepted
}

// Consume folds events from an order channel until it ends. A reconnect
// triggers Resync. It returns the channel's terminal error, ctx.Err() on
// cancellation, or nil when the channel closed cleanly.
func (c *OrderCoordinator) Consume(ctx context.Context, events <-chan domain.StreamEvent[domain.OrderStatus]) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case domain.StreamData:
				c.Apply(ctx, ev.Value)
			case domain.StreamReconnected:
				if err := c.Resync(ctx); err != nil {
					c.logger.WarnContext(ctx, "resync after reconnect incomplete", slog.String("error", err.Error()))
				}
			case domain.StreamClosed:
				return fmt.Errorf("coordinator: order channel closed: %w", ev.Err)
			}
		}
	}
}

// Resync queries every non-terminal tracked order to close gaps left by a
// channel outage.
func (c *OrderCoordinator) Resync(ctx context.Context) error {
	open := c.Open()
	c.logger.InfoContext(ctx, "resyncing open orders", slog.Int("orders", len(open)))

	var errs []error
	for _, st := range open {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := c.Query(ctx, st.OrderID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Restore loads the open orders of account from the store and tracks the
// ones not already known. It is a no-op without a store.
func (c *OrderCoordinator) Restore(ctx context.Context, account string) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	open, err := c.store.ListOpen(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("coordinator: restore %s: %w", account, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, st := range open {
		if _, ok := c.orders[st.OrderID]; ok || st.State.IsTerminal() {
			continue
		}
		c.orders[st.OrderID] = &trackedOrder{status: st}
		n++
	}
	return n, nil
}

// Status returns the tracked status of an order.
func (c *OrderCoordinator) Status(id domain.OrderID) (domain.OrderStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.orders[id]
	if !ok {
		return domain.OrderStatus{}, false
	}
	return t.status, true
}

// Timeline returns the accepted transitions of an order, oldest first.
func (c *OrderCoordinator) Timeline(id domain.OrderID) []domain.OrderTransition {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.orders[id]
	if !ok {
		return nil
	}
	return slices.Clone(t.timeline)
}

// History returns the timeline of an order: from memory while it is
// tracked, otherwise from the store. It returns domain.ErrNotFound when
// neither knows the order.
func (c *OrderCoordinator) History(ctx context.Context, id domain.OrderID) ([]domain.OrderTransition, error) {
	if tl := c.Timeline(id); tl != nil {
		return tl, nil
	}
	if c.store == nil {
		return nil, domain.ErrNotFound
	}
	tl, err := c.store.Timeline(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("coordinator: history %s: %w", id, err)
	}
	if len(tl) == 0 {
		return nil, domain.ErrNotFound
	}
	return tl, nil
}

// Orders returns every tracked status ordered by client order id.
func (c *OrderCoordinator) Orders() []domain.OrderStatus {
	return c.collect(func(domain.OrderStatus) bool { return true })
}

// Open returns the tracked statuses that are not terminal.
func (c *OrderCoordinator) Open() []domain.OrderStatus {
	return c.collect(func(st domain.OrderStatus) bool { return !st.State.IsTerminal() })
}

// Stats returns the coordinator counters.
func (c *OrderCoordinator) Stats() CoordinatorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	open := 0
	for _, t := range c.orders {
		if !t.status.State.IsTerminal() {
			open++
		}
	}
	return CoordinatorStats{
		Tracked: len(c.orders),
		Open:    open,
		Parked:  len(c.parkedOrder),
		Ignored: c.ignored.Load(),
	}
}

func (c *OrderCoordinator) collect(keep func(domain.OrderStatus) bool) []domain.OrderStatus {
	c.mu.Lock()
	out := make([]domain.OrderStatus, 0, len(c.orders))
	for _, t := range c.orders {
		if keep(t.status) {
			out = append(out, t.status)
		}
	}
	c.mu.Unlock()

	slices.SortFunc(out, func(a, b domain.OrderStatus) int {
		return strings.Compare(a.OrderID.String(), b.OrderID.String())
	})
	return out
}

// track seeds a new order and folds its parked events.
func (c *OrderCoordinator) track(ctx context.Context, seed domain.OrderStatus) error {
	c.mu.Lock()
	if _, exists := c.orders[seed.OrderID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("coordinator: %w: order identity %s already tracked", domain.ErrProtocolViolation, seed.OrderID)
	}

	first := domain.OrderTransition{
		ID:     uuid.NewString(),
		Status: seed,
		Source: "submit",
		At:     c.now(),
	}
	t := &trackedOrder{status: seed, timeline: []domain.OrderTransition{first}}
	c.orders[seed.OrderID] = t

	accepted := []domain.OrderTransition{first}
	for _, st := range c.unparkLocked(seed.OrderID) {
		if tr, ok := c.applyLocked(t, st, "event"); ok {
			accepted = append(accepted, tr)
		}
	}
	c.pending = append(c.pending, accepted...)
	c.mu.Unlock()

	c.flush(ctx)
	return nil
}

// applyLocked moves t to next when that is a forward transition. Caller
// must hold c.mu.
func (c *OrderCoordinator) applyLocked(t *trackedOrder, next domain.OrderStatus, source string) (domain.OrderTransition, bool) {
	if !domain.AcceptStatus(t.status, next) {
		c.ignored.Add(1)
		c.logger.Debug("ignored order status",
			slog.String("order_id", next.OrderID.String()),
			slog.String("current", string(t.status.State)),
			slog.String("next", string(next.State)),
			slog.String("source", source),
		)
		return domain.OrderTransition{}, false
	}

	merged := mergeStatus(t.status, next)
	tr := domain.OrderTransition{
		ID:       uuid.NewString(),
		Status:   merged,
		Previous: t.status.State,
		Source:   source,
		At:       c.now(),
	}
	t.status = merged
	t.timeline = append(t.timeline, tr)
	return tr, true
}

// mergeStatus takes next but keeps the descriptive fields reports may omit.
func mergeStatus(cur, next domain.OrderStatus) domain.OrderStatus {
	if next.Account == "" {
		next.Account = cur.Account
	}
	if next.InstrumentID.IsZero() {
		next.InstrumentID = cur.InstrumentID
	}
	if next.Side == "" {
		next.Side = cur.Side
	}
	if next.Type == "" {
		next.Type = cur.Type
	}
	if next.TimeInForce == "" {
		next.TimeInForce = cur.TimeInForce
	}
	if next.ExchangeOrderID == "" {
		next.ExchangeOrderID = cur.ExchangeOrderID
	}
	if next.Quantity.IsZero() {
		next.Quantity = cur.Quantity
	}
	if next.Price.IsZero() {
		next.Price = cur.Price
	}
	return next
}

// parkLocked keeps an event for an identity the coordinator has not seen
// yet, evicting the oldest identity beyond maxParked. Caller must hold c.mu.
func (c *OrderCoordinator) parkLocked(st domain.OrderStatus) {
	if _, ok := c.parked[st.OrderID]; !ok {
		if len(c.parkedOrder) >= c.maxParked {
			oldest := c.parkedOrder[0]
			c.parkedOrder = c.parkedOrder[1:]
			delete(c.parked, oldest)
		}
		c.parkedOrder = append(c.parkedOrder, st.OrderID)
	}
	c.parked[st.OrderID] = append(c.parked[st.OrderID], st)
}

func (c *OrderCoordinator) unparkLocked(id domain.OrderID) []domain.OrderStatus {
	events, ok := c.parked[id]
	if !ok {
		return nil
	}
	delete(c.parked, id)
	c.parkedOrder = slices.DeleteFunc(c.parkedOrder, func(p domain.OrderID) bool { return p == id })
	return events
}

// flush drains the pending transitions in the order they were accepted.
// Whoever holds pubMu publishes everything queued so far, so side effects of
// concurrent callers never overtake each other. Publishing does not stop when
// the caller's context is cancelled.
func (c *OrderCoordinator) flush(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	for {
		c.mu.Lock()
		batch := c.pending
		c.pending = nil
		c.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		c.publish(ctx, batch)
	}
}

// publish runs the side effects of accepted transitions outside c.mu.
// Failures are logged; they never undo a transition. Caller must hold
// pubMu.
func (c *OrderCoordinator) publish(ctx context.Context, transitions []domain.OrderTransition) {
	for _, tr := range transitions {
		st := tr.Status

		if c.store != nil {
			if err := c.store.RecordTransition(ctx, tr); err != nil {
				c.logger.WarnContext(ctx, "persist transition failed",
					slog.String("order_id", st.OrderID.String()),
					slog.String("error", err.Error()),
				)
			}
		}

		if c.bus != nil {
			evt, _ := json.Marshal(map[string]any{
				"event":       "order_" + strings.ToLower(string(st.State)),
				"clOrdId":     st.OrderID.ClientOrderID,
				"proprietary": st.OrderID.Proprietary,
				"account":     st.Account,
				"instrument":  st.InstrumentID.String(),
				"previous":    string(tr.Previous),
				"state":       string(st.State),
				"filled":      st.FilledQuantity.String(),
				"source":      tr.Source,
				"at":          tr.At.Format(time.RFC3339Nano),
			})
			if err := c.bus.Publish(ctx, "orders", evt); err != nil {
				c.logger.WarnContext(ctx, "publish transition failed",
					slog.String("order_id", st.OrderID.String()),
					slog.String("error", err.Error()),
				)
			}
		}

		if c.notifier != nil && st.State.IsTerminal() {
			title := fmt.Sprintf("Order %s %s", st.OrderID, st.State)
			msg := fmt.Sprintf("%s %s %s filled %s/%s avg %s",
				st.Account, st.Side, st.InstrumentID, st.FilledQuantity, st.Quantity, st.AveragePrice)
			if st.Text != "" {
				msg += " (" + st.Text + ")"
			}
			if err := c.notifier.Notify(ctx, "order_"+strings.ToLower(string(st.State)), title, msg); err != nil {
				c.logger.WarnContext(ctx, "notify failed",
					slog.String("order_id", st.OrderID.String()),
					slog.String("error", err.Error()),
				)
			}
		}

		c.logger.InfoContext(ctx, "order transition",
			slog.String("order_id", st.OrderID.String()),
			slog.String("from", string(tr.Previous)),
			slog.String("to", string(st.State)),
			slog.String("source", tr.Source),
		)
	}
}
