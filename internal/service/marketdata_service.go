package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/paa-listas/primary-go/internal/domain"
)

// MarketDataService mirrors market data channel events into the order book
// and price caches and announces them on the signal bus.
type MarketDataService struct {
	book   domain.OrderbookCache
	prices domain.PriceCache
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewMarketDataService creates a MarketDataService. Any of book, prices and
// bus may be nil; that part of the mirror is then skipped.
func NewMarketDataService(
	book domain.OrderbookCache,
	prices domain.PriceCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *MarketDataService {
	return &MarketDataService{
		book:   book,
		prices: prices,
		bus:    bus,
		logger: logger.With(slog.String("component", "marketdata_service")),
	}
}

// HandleEvent stores the snapshot, records every changed scalar entry as
// the latest price, and publishes a summary.
func (s *MarketDataService) HandleEvent(ctx context.Context, ev domain.MarketDataEvent) error {
	snap := ev.Snapshot
	if s.book != nil {
		if err := s.book.SetSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("marketdata_service: set snapshot for %s: %w", snap.InstrumentID, err)
		}
	}

	for _, entry := range ev.Changed {
		if s.prices == nil || entry.IsBookSide() {
			continue
		}
		v, ok := snap.Values[entry]
		if !ok {
			continue
		}
		ts := v.Date
		if ts.IsZero() {
			ts = snap.UpdatedAt
		}
		if err := s.prices.SetPrice(ctx, snap.InstrumentID, entry, v.Price, ts); err != nil {
			return fmt.Errorf("marketdata_service: set %s price for %s: %w", entry, snap.InstrumentID, err)
		}
	}

	if s.bus == nil {
		return nil
	}
	payload := map[string]any{
		"event":      "market_data",
		"instrument": snap.InstrumentID.String(),
		"changed":    ev.Changed,
		"timestamp":  snap.UpdatedAt.Format(time.RFC3339Nano),
	}
	if bid, ok := snap.BestBid(); ok {
		payload["best_bid"] = bid.Price.String()
	}
	if offer, ok := snap.BestOffer(); ok {
		payload["best_offer"] = offer.Price.String()
	}
	evt, _ := json.Marshal(payload)
	if err := s.bus.Publish(ctx, "marketdata", evt); err != nil {
		s.logger.WarnContext(ctx, "publish market data event failed",
			slog.String("instrument", snap.InstrumentID.String()),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Consume mirrors events until the channel ends. It returns the channel's
// terminal error, ctx.Err() on cancellation, or nil on a clean close.
func (s *MarketDataService) Consume(ctx context.Context, events <-chan domain.StreamEvent[domain.MarketDataEvent]) error {
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
				if err := s.HandleEvent(ctx, ev.Value); err != nil {
					s.logger.WarnContext(ctx, "mirror market data failed", slog.String("error", err.Error()))
				}
			case domain.StreamReconnected:
				s.logger.InfoContext(ctx, "market data channel reconnected")
			case domain.StreamClosed:
				return fmt.Errorf("marketdata_service: channel closed: %w", ev.Err)
			}
		}
	}
}
