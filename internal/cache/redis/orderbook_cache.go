package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/paa-listas/primary-go/internal/domain"
)

// OrderbookCache implements domain.OrderbookCache. Each instrument owns one
// hash:
//
//	{prefix}book:{MARKET:SYMBOL}   fields bids, offers, values (JSON), depth, ts
//	{prefix}bbo:{MARKET:SYMBOL}    fields bid, bid_size, offer, offer_size
//
// Both hashes are rewritten in a single MULTI so readers never see one side
// of an update without the other.
type OrderbookCache struct {
	c   *Client
	ttl time.Duration
}

// NewOrderbookCache creates an OrderbookCache. A positive ttl expires books
// that stop updating.
func NewOrderbookCache(c *Client, ttl time.Duration) *OrderbookCache {
	return &OrderbookCache{c: c, ttl: ttl}
}

func (oc *OrderbookCache) bookKey(id domain.InstrumentID) string {
	return oc.c.Key("book", id.String())
}

func (oc *OrderbookCache) bboKey(id domain.InstrumentID) string {
	return oc.c.Key("bbo", id.String())
}

// SetSnapshot replaces the stored book for the snapshot's instrument.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, snap domain.MarketDataSnapshot) error {
	id := snap.InstrumentID
	fields, err := encodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("redis: encode book %s: %w", id, err)
	}

	bk, bbo := oc.bookKey(id), oc.bboKey(id)
	pipe := oc.c.rdb.TxPipeline()
	pipe.Del(ctx, bk, bbo)
	pipe.HSet(ctx, bk, fields)
	if top := bboFields(snap); len(top) > 0 {
		pipe.HSet(ctx, bbo, top)
	}
	if oc.ttl > 0 {
		pipe.Expire(ctx, bk, oc.ttl)
		pipe.Expire(ctx, bbo, oc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s: %w", id, err)
	}
	return nil
}

// GetSnapshot returns the stored book, or domain.ErrNotFound.
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, id domain.InstrumentID) (domain.MarketDataSnapshot, error) {
	vals, err := oc.c.rdb.HGetAll(ctx, oc.bookKey(id)).Result()
	if err != nil {
		return domain.MarketDataSnapshot{}, fmt.Errorf("redis: get book %s: %w", id, err)
	}
	if len(vals) == 0 {
		return domain.MarketDataSnapshot{}, domain.ErrNotFound
	}
	snap, err := decodeSnapshot(id, vals)
	if err != nil {
		return domain.MarketDataSnapshot{}, fmt.Errorf("redis: decode book %s: %w", id, err)
	}
	return snap, nil
}

func encodeSnapshot(snap domain.MarketDataSnapshot) (map[string]any, error) {
	bids, err := json.Marshal(snap.Bids)
	if err != nil {
		return nil, err
	}
	offers, err := json.Marshal(snap.Offers)
	if err != nil {
		return nil, err
	}
	values, err := json.Marshal(snap.Values)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"bids":   bids,
		"offers": offers,
		"values": values,
		"depth":  strconv.Itoa(snap.Depth),
		"ts":     strconv.FormatInt(snap.UpdatedAt.UnixMilli(), 10),
	}, nil
}

func decodeSnapshot(id domain.InstrumentID, vals map[string]string) (domain.MarketDataSnapshot, error) {
	snap := domain.MarketDataSnapshot{
		InstrumentID: id,
		Values:       make(map[domain.MarketDataEntry]domain.EntryValue),
	}
	for field, dst := range map[string]any{
		"bids":   &snap.Bids,
		"offers": &snap.Offers,
		"values": &snap.Values,
	} {
		raw, ok := vals[field]
		if !ok || raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return snap, fmt.Errorf("field %s: %w", field, err)
		}
	}
	if snap.Values == nil {
		snap.Values = make(map[domain.MarketDataEntry]domain.EntryValue)
	}
	if d, ok := vals["depth"]; ok {
		depth, err := strconv.Atoi(d)
		if err != nil {
			return snap, fmt.Errorf("field depth: %w", err)
		}
		snap.Depth = depth
	}
	if ts, ok := vals["ts"]; ok {
		ms, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return snap, fmt.Errorf("field ts: %w", err)
		}
		if ms > 0 {
			snap.UpdatedAt = time.UnixMilli(ms)
		}
	}
	return snap, nil
}

func bboFields(snap domain.MarketDataSnapshot) map[string]any {
	out := make(map[string]any, 4)
	if b, ok := snap.BestBid(); ok {
		out["bid"] = b.Price.String()
		out["bid_size"] = b.Size.String()
	}
	if o, ok := snap.BestOffer(); ok {
		out["offer"] = o.Price.String()
		out["offer_size"] = o.Size.String()
	}
	return out
}

var _ domain.OrderbookCache = (*OrderbookCache)(nil)
