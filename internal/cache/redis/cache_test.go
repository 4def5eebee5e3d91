package redis

import (
	"testing"
	"time"

	"github.com/paa-listas/primary-go/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gotest.tools/v3/assert"
)

func offlineClient(t *testing.T, prefix string) *Client {
	t.Helper()
	c := Wrap(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), prefix)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestKeyUsesPrefix(t *testing.T) {
	c := offlineClient(t, "")
	assert.Equal(t, c.Key("book", "ROFX:DLR/DIC23"), "primary:book:ROFX:DLR/DIC23")

	c = offlineClient(t, "desk1:")
	assert.Equal(t, c.Key("orders"), "desk1:orders")
}

func TestSnapshotFieldsRoundTrip(t *testing.T) {
	id := domain.InstrumentID{MarketID: "ROFX", Symbol: "DLR/DIC23"}
	snap := domain.MarketDataSnapshot{
		InstrumentID: id,
		Depth:        2,
		Bids: []domain.PriceLevel{
			{Price: decimal.RequireFromString("350.5"), Size: decimal.NewFromInt(10)},
			{Price: decimal.RequireFromString("350.25"), Size: decimal.NewFromInt(3)},
		},
		Values: map[domain.MarketDataEntry]domain.EntryValue{
			domain.EntryLast: {Price: decimal.RequireFromString("350.4"), Size: decimal.NewFromInt(1)},
		},
		UpdatedAt: time.UnixMilli(1_700_000_000_123),
	}

	fields, err := encodeSnapshot(snap)
	assert.NilError(t, err)

	vals := make(map[string]string, len(fields))
	for k, v := range fields {
		switch v := v.(type) {
		case []byte:
			vals[k] = string(v)
		case string:
			vals[k] = v
		}
	}
	got, err := decodeSnapshot(id, vals)
	assert.NilError(t, err)

	assert.Equal(t, got.Depth, 2)
	assert.Equal(t, len(got.Bids), 2)
	assert.Assert(t, got.Bids[1].Price.Equal(decimal.RequireFromString("350.25")))
	assert.Equal(t, len(got.Offers), 0)
	assert.Assert(t, got.Values[domain.EntryLast].Price.Equal(decimal.RequireFromString("350.4")))
	assert.Assert(t, got.UpdatedAt.Equal(snap.UpdatedAt))
}

func TestDecodeSnapshotRejectsGarbage(t *testing.T) {
	_, err := decodeSnapshot(domain.InstrumentID{MarketID: "ROFX", Symbol: "X"}, map[string]string{"bids": "{"})
	assert.ErrorContains(t, err, "field bids")
}

func TestBBOFieldsOnlyForPresentSides(t *testing.T) {
	snap := domain.MarketDataSnapshot{
		Offers: []domain.PriceLevel{{Price: decimal.NewFromInt(351), Size: decimal.NewFromInt(4)}},
	}
	top := bboFields(snap)
	assert.Equal(t, len(top), 2)
	assert.Equal(t, top["offer"], "351")
	assert.Equal(t, top["offer_size"], "4")
}

func TestRateLimiterWindowKey(t *testing.T) {
	rl := NewRateLimiter(offlineClient(t, ""))
	at := time.UnixMilli(10_500)
	assert.Equal(t, rl.windowKey("api:1.2.3.4", time.Second, at), "primary:ratelimit:api:1.2.3.4:10")
	assert.Equal(t, rl.windowKey("api:1.2.3.4", time.Second, at.Add(400*time.Millisecond)), "primary:ratelimit:api:1.2.3.4:10")
	assert.Equal(t, rl.windowKey("api:1.2.3.4", time.Second, at.Add(600*time.Millisecond)), "primary:ratelimit:api:1.2.3.4:11")
}

func TestHasPatternSelectsPSubscribe(t *testing.T) {
	assert.Check(t, !hasPattern("orders"))
	assert.Check(t, !hasPattern("marketdata"))
	assert.Check(t, hasPattern("orders.*"))
	assert.Check(t, hasPattern("md.ROFX.DLR?"))
	assert.Check(t, hasPattern("md.[AB]"))
}
