package primary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/paa-listas/primary-go/internal/domain"
)

// MarketDataChannel streams market data for a fixed set of instruments and
// keeps one live snapshot per instrument. Snapshots are owned by the
// channel; callers only ever see copies.
type MarketDataChannel struct {
	desc        domain.MarketDataSubscription
	requested   map[domain.MarketDataEntry]bool
	instruments map[domain.InstrumentID]bool
	stream      *stream[domain.MarketDataEvent]

	mu        sync.RWMutex
	snapshots map[domain.InstrumentID]*domain.MarketDataSnapshot
}

// NewMarketDataChannel validates desc and prepares a channel. Nothing is
// dialed until Open.
func NewMarketDataChannel(session *Session, desc domain.MarketDataSubscription, cfg StreamConfig, logger *slog.Logger) (*MarketDataChannel, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("primary/ws: market data: %w", err)
	}
	desc = domain.MarketDataSubscription{
		Instruments: slices.Clone(desc.Instruments),
		Entries:     slices.Clone(desc.Entries),
		Level:       desc.Level,
		Depth:       desc.Depth,
	}

	sub, err := json.Marshal(WSMarketDataSubscribe{
		Type:     "smd",
		Level:    desc.Level,
		Entries:  desc.Entries,
		Products: desc.Instruments,
		Depth:    desc.Depth,
	})
	if err != nil {
		return nil, fmt.Errorf("primary/ws: market data: marshal subscription: %w", err)
	}

	c := &MarketDataChannel{
		desc:        desc,
		requested:   make(map[domain.MarketDataEntry]bool, len(desc.Entries)),
		instruments: make(map[domain.InstrumentID]bool, len(desc.Instruments)),
		snapshots:   make(map[domain.InstrumentID]*domain.MarketDataSnapshot, len(desc.Instruments)),
	}
	for _, e := range desc.Entries {
		c.requested[e] = true
	}
	for _, id := range desc.Instruments {
		c.instruments[id] = true
		c.snapshots[id] = domain.NewMarketDataSnapshot(id, desc.Depth)
	}
	c.stream = newStream("market_data", session, sub, c.handleFrame, cfg, logger)
	return c, nil
}

// Open connects, subscribes, and returns the event sequence. The sequence
// ends when ctx is cancelled or, after a final StreamClosed event, when the
// reconnect budget is spent.
func (c *MarketDataChannel) Open(ctx context.Context) (<-chan domain.StreamEvent[domain.MarketDataEvent], error) {
	return c.stream.open(ctx)
}

// Subscription returns a copy of the descriptor the channel was built with.
func (c *MarketDataChannel) Subscription() domain.MarketDataSubscription {
	return domain.MarketDataSubscription{
		Instruments: slices.Clone(c.desc.Instruments),
		Entries:     slices.Clone(c.desc.Entries),
		Level:       c.desc.Level,
		Depth:       c.desc.Depth,
	}
}

// Snapshot returns a copy of the live view of one instrument.
func (c *MarketDataChannel) Snapshot(id domain.InstrumentID) (domain.MarketDataSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snapshots[id]
	if !ok {
		return domain.MarketDataSnapshot{}, false
	}
	return snap.Clone(), true
}

// Snapshots returns copies of every instrument's live view, in subscription
// order.
func (c *MarketDataChannel) Snapshots() []domain.MarketDataSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.MarketDataSnapshot, 0, len(c.desc.Instruments))
	for _, id := range c.desc.Instruments {
		out = append(out, c.snapshots[id].Clone())
	}
	return out
}

// State returns the channel lifecycle state.
func (c *MarketDataChannel) State() ChannelState { return c.stream.State() }

// Stats returns the channel counters.
func (c *MarketDataChannel) Stats() Stats { return c.stream.Stats() }

func (c *MarketDataChannel) handleFrame(raw []byte) (domain.MarketDataEvent, bool, error) {
	var env WSEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.MarketDataEvent{}, false, &domain.DecodeError{Op: "market data frame", Err: err}
	}
	if env.Type != "Md" {
		return domain.MarketDataEvent{}, false, nil
	}

	var frame WSMarketData
	if err := json.Unmarshal(raw, &frame); err != nil {
		return domain.MarketDataEvent{}, false, &domain.DecodeError{Op: "market data frame", Err: err}
	}
	update, err := frame.ToUpdate()
	if err != nil {
		return domain.MarketDataEvent{}, false, &domain.DecodeError{Op: "market data frame", Err: err}
	}
	if !c.instruments[update.InstrumentID] {
		return domain.MarketDataEvent{}, false, fmt.Errorf("%w: instrument %s is not subscribed", domain.ErrProtocolViolation, update.InstrumentID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.snapshots[update.InstrumentID]
	changed := snap.Apply(update, c.requested)
	if len(changed) == 0 {
		return domain.MarketDataEvent{}, false, nil
	}
	return domain.MarketDataEvent{Snapshot: snap.Clone(), Changed: changed}, true, nil
}
