package domain

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// MarketDataEntry names one kind of market data a subscription can request.
type MarketDataEntry string

const (
	EntryBids            MarketDataEntry = "BI"
	EntryOffers          MarketDataEntry = "OF"
	EntryLast            MarketDataEntry = "LA"
	EntryOpening         MarketDataEntry = "OP"
	EntryClosing         MarketDataEntry = "CL"
	EntrySettlement      MarketDataEntry = "SE"
	EntryHigh            MarketDataEntry = "HI"
	EntryLow             MarketDataEntry = "LO"
	EntryTradeVolume     MarketDataEntry = "TV"
	EntryOpenInterest    MarketDataEntry = "OI"
	EntryIndexValue      MarketDataEntry = "IV"
	EntryEffectiveVolume MarketDataEntry = "EV"
	EntryNominalVolume   MarketDataEntry = "NV"
	EntryAuctionPrice    MarketDataEntry = "ACP"
)

var knownEntries = map[MarketDataEntry]bool{
	EntryBids: true, EntryOffers: true, EntryLast: true, EntryOpening: true,
	EntryClosing: true, EntrySettlement: true, EntryHigh: true, EntryLow: true,
	EntryTradeVolume: true, EntryOpenInterest: true, EntryIndexValue: true,
	EntryEffectiveVolume: true, EntryNominalVolume: true, EntryAuctionPrice: true,
}

// Valid reports whether e is a known entry code.
func (e MarketDataEntry) Valid() bool { return knownEntries[e] }

// IsBookSide reports whether e carries a list of price levels.
func (e MarketDataEntry) IsBookSide() bool {
	return e == EntryBids || e == EntryOffers
}

// PriceLevel is one price/size pair on a book side.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// EntryValue is a scalar entry (last trade, settlement, opening price...).
// Entries pushed as a bare number only carry Price.
type EntryValue struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size,omitzero"`
	Date  time.Time       `json:"date,omitzero"`
}

// MarketDataUpdate is one decoded market data frame. A nil slice in Book
// for a present key means the side was pushed empty.
type MarketDataUpdate struct {
	InstrumentID InstrumentID
	Timestamp    time.Time
	Book         map[MarketDataEntry][]PriceLevel
	Values       map[MarketDataEntry]*EntryValue
}

// Entries lists the entry codes the update carries.
func (u MarketDataUpdate) Entries() []MarketDataEntry {
	out := make([]MarketDataEntry, 0, len(u.Book)+len(u.Values))
	for e := range u.Book {
		out = append(out, e)
	}
	for e := range u.Values {
		out = append(out, e)
	}
	slices.Sort(out)
	return out
}

// MarketDataSnapshot is the live view of one instrument at a fixed depth.
// Book sides are replaced wholesale on every update that names them.
type MarketDataSnapshot struct {
	InstrumentID InstrumentID                   `json:"instrumentId"`
	Depth        int                            `json:"depth"`
	Bids         []PriceLevel                   `json:"bids"`
	Offers       []PriceLevel                   `json:"offers"`
	Values       map[MarketDataEntry]EntryValue `json:"values"`
	UpdatedAt    time.Time                      `json:"updatedAt"`
}

// NewMarketDataSnapshot returns an empty snapshot for id.
func NewMarketDataSnapshot(id InstrumentID, depth int) *MarketDataSnapshot {
	return &MarketDataSnapshot{
		InstrumentID: id,
		Depth:        depth,
		Values:       make(map[MarketDataEntry]EntryValue),
	}
}

// Apply merges u into the snapshot, keeping only the entries in requested.
// It returns the entries that changed.
func (s *MarketDataSnapshot) Apply(u MarketDataUpdate, requested map[MarketDataEntry]bool) []MarketDataEntry {
	var changed []MarketDataEntry
	for entry, levels := range u.Book {
		if !requested[entry] {
			continue
		}
		if s.Depth > 0 && len(levels) > s.Depth {
			levels = levels[:s.Depth]
		}
		side := slices.Clone(levels)
		if entry == EntryBids {
			s.Bids = side
		} else {
			s.Offers = side
		}
		changed = append(changed, entry)
	}
	for entry, v := range u.Values {
		if !requested[entry] {
			continue
		}
		if v == nil {
			delete(s.Values, entry)
		} else {
			s.Values[entry] = *v
		}
		changed = append(changed, entry)
	}
	if len(changed) > 0 {
		s.UpdatedAt = u.Timestamp
	}
	slices.Sort(changed)
	return changed
}

// Clone returns a deep copy safe to hand to callers.
func (s *MarketDataSnapshot) Clone() MarketDataSnapshot {
	return MarketDataSnapshot{
		InstrumentID: s.InstrumentID,
		Depth:        s.Depth,
		Bids:         slices.Clone(s.Bids),
		Offers:       slices.Clone(s.Offers),
		Values:       maps.Clone(s.Values),
		UpdatedAt:    s.UpdatedAt,
	}
}

// BestBid returns the top bid level.
func (s MarketDataSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestOffer returns the top offer level.
func (s MarketDataSnapshot) BestOffer() (PriceLevel, bool) {
	if len(s.Offers) == 0 {
		return PriceLevel{}, false
	}
	return s.Offers[0], true
}

// MarketDataEvent is what the market data channel yields per merged frame.
type MarketDataEvent struct {
	Snapshot MarketDataSnapshot
	Changed  []MarketDataEntry
}

// MarketDataSubscription describes what a market data channel receives.
type MarketDataSubscription struct {
	Instruments []InstrumentID
	Entries     []MarketDataEntry
	Level       int
	Depth       int
}

// Validate checks the descriptor before it is sent to the server.
func (s MarketDataSubscription) Validate() error {
	if len(s.Instruments) == 0 {
		return fmt.Errorf("%w: no instruments", ErrInvalidSubscription)
	}
	for _, id := range s.Instruments {
		if id.IsZero() {
			return fmt.Errorf("%w: incomplete instrument id %q", ErrInvalidSubscription, id.String())
		}
	}
	if len(s.Entries) == 0 {
		return fmt.Errorf("%w: no entries", ErrInvalidSubscription)
	}
	for _, e := range s.Entries {
		if !e.Valid() {
			return fmt.Errorf("%w: unknown entry %q", ErrInvalidSubscription, e)
		}
	}
	if s.Level < 1 || s.Level > 5 {
		return fmt.Errorf("%w: level %d outside 1..5", ErrInvalidSubscription, s.Level)
	}
	if s.Depth < 1 {
		return fmt.Errorf("%w: depth must be >= 1", ErrInvalidSubscription)
	}
	return nil
}

// OrderSubscription describes what an order event channel receives.
type OrderSubscription struct {
	Accounts           []string
	SnapshotOnlyActive bool
}

// Validate checks the descriptor before it is sent to the server.
func (s OrderSubscription) Validate() error {
	if len(s.Accounts) == 0 {
		return fmt.Errorf("%w: no accounts", ErrInvalidSubscription)
	}
	for _, a := range s.Accounts {
		if a == "" {
			return fmt.Errorf("%w: empty account", ErrInvalidSubscription)
		}
	}
	return nil
}
