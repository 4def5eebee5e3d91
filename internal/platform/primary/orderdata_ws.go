package primary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/paa-listas/primary-go/internal/domain"
)

// OrderDataChannel streams order reports for a set of accounts. It only
// decodes and forwards; it keeps no order state.
type OrderDataChannel struct {
	desc     domain.OrderSubscription
	accounts map[string]bool
	stream   *stream[domain.OrderStatus]
}

// NewOrderDataChannel validates desc and prepares a channel. Nothing is
// dialed until Open.
func NewOrderDataChannel(session *Session, desc domain.OrderSubscription, cfg StreamConfig, logger *slog.Logger) (*OrderDataChannel, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("primary/ws: order data: %w", err)
	}
	desc.Accounts = slices.Clone(desc.Accounts)

	msg := WSOrderSubscribe{Type: "os", SnapshotOnlyActive: desc.SnapshotOnlyActive}
	accounts := make(map[string]bool, len(desc.Accounts))
	for _, a := range desc.Accounts {
		msg.Accounts = append(msg.Accounts, WSAccountRef{ID: a})
		accounts[a] = true
	}
	sub, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("primary/ws: order data: marshal subscription: %w", err)
	}

	c := &OrderDataChannel{desc: desc, accounts: accounts}
	c.stream = newStream("order_data", session, sub, c.handleFrame, cfg, logger)
	return c, nil
}

// Open connects, subscribes, and returns the event sequence.
func (c *OrderDataChannel) Open(ctx context.Context) (<-chan domain.StreamEvent[domain.OrderStatus], error) {
	return c.stream.open(ctx)
}

// Accounts returns the subscribed accounts.
func (c *OrderDataChannel) Accounts() []string { return slices.Clone(c.desc.Accounts) }

// State returns the channel lifecycle state.
func (c *OrderDataChannel) State() ChannelState { return c.stream.State() }

// Stats returns the channel counters.
func (c *OrderDataChannel) Stats() Stats { return c.stream.Stats() }

func (c *OrderDataChannel) handleFrame(raw []byte) (domain.OrderStatus, bool, error) {
	var env WSEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.OrderStatus{}, false, &domain.DecodeError{Op: "order frame", Err: err}
	}
	if env.Type != "or" {
		return domain.OrderStatus{}, false, nil
	}

	var frame WSOrderReport
	if err := json.Unmarshal(raw, &frame); err != nil {
		return domain.OrderStatus{}, false, &domain.DecodeError{Op: "order frame", Err: err}
	}
	st, err := frame.OrderReport.ToOrderStatus()
	if err != nil {
		return domain.OrderStatus{}, false, &domain.DecodeError{Op: "order frame", Err: err}
	}
	if st.Account != "" && !c.accounts[st.Account] {
		return domain.OrderStatus{}, false, fmt.Errorf("%w: account %s is not subscribed", domain.ErrProtocolViolation, st.Account)
	}
	return st, true, nil
}
