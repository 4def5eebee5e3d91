package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderbookCache mirrors market data snapshots for other processes.
type OrderbookCache interface {
	SetSnapshot(ctx context.Context, snap MarketDataSnapshot) error
	GetSnapshot(ctx context.Context, id InstrumentID) (MarketDataSnapshot, error)
}

// PriceCache keeps the latest scalar value per instrument and entry.
type PriceCache interface {
	SetPrice(ctx context.Context, id InstrumentID, entry MarketDataEntry, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, id InstrumentID, entry MarketDataEntry) (decimal.Decimal, time.Time, error)
}

// SignalBus publishes events to other processes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter counts requests per key inside a fixed window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Lock is a held distributed lock.
type Lock interface {
	Refresh(ctx context.Context) error
	Release()
}

// LockManager hands out exclusive, expiring locks.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}
