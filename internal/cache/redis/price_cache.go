package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/paa-listas/primary-go/internal/domain"
	"github.com/shopspring/decimal"
)

// PriceCache implements domain.PriceCache. Every instrument has one hash at
// "{prefix}price:{MARKET:SYMBOL}" with a field per entry code holding the
// decimal price and a "{code}:ts" field holding Unix milliseconds.
type PriceCache struct {
	c *Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{c: c}
}

func (pc *PriceCache) priceKey(id domain.InstrumentID) string {
	return pc.c.Key("price", id.String())
}

// SetPrice stores the latest value of one entry.
func (pc *PriceCache) SetPrice(ctx context.Context, id domain.InstrumentID, entry domain.MarketDataEntry, price decimal.Decimal, ts time.Time) error {
	code := string(entry)
	err := pc.c.rdb.HSet(ctx, pc.priceKey(id),
		code, price.String(),
		code+":ts", strconv.FormatInt(ts.UnixMilli(), 10),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set price %s %s: %w", id, code, err)
	}
	return nil
}

// GetPrice returns the latest value of one entry, or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, id domain.InstrumentID, entry domain.MarketDataEntry) (decimal.Decimal, time.Time, error) {
	code := string(entry)
	vals, err := pc.c.rdb.HMGet(ctx, pc.priceKey(id), code, code+":ts").Result()
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: get price %s %s: %w", id, code, err)
	}
	priceStr, ok1 := vals[0].(string)
	tsStr, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse price %s %s: %w", id, code, err)
	}
	ms, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse ts %s %s: %w", id, code, err)
	}
	return price, time.UnixMilli(ms), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
