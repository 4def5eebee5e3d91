package domain

import (
	"errors"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

var dlr = InstrumentID{MarketID: "ROFX", Symbol: "DLR/DIC21"}

func levels(prices ...string) []PriceLevel {
	out := make([]PriceLevel, 0, len(prices))
	for _, p := range prices {
		out = append(out, PriceLevel{Price: dec(p), Size: dec("1")})
	}
	return out
}

func prices(ls []PriceLevel) []string {
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.Price.String())
	}
	return out
}

func TestSnapshotBookSideIsReplaced(t *testing.T) {
	requested := map[MarketDataEntry]bool{EntryBids: true, EntryOffers: true}
	snap := NewMarketDataSnapshot(dlr, 5)

	snap.Apply(MarketDataUpdate{
		InstrumentID: dlr,
		Book:         map[MarketDataEntry][]PriceLevel{EntryBids: levels("99", "98"), EntryOffers: levels("101")},
	}, requested)
	changed := snap.Apply(MarketDataUpdate{
		InstrumentID: dlr,
		Book:         map[MarketDataEntry][]PriceLevel{EntryBids: levels("97")},
	}, requested)

	assert.DeepEqual(t, changed, []MarketDataEntry{EntryBids})
	assert.DeepEqual(t, prices(snap.Bids), []string{"97"})
	assert.DeepEqual(t, prices(snap.Offers), []string{"101"})
}

func TestSnapshotTruncatesToDepth(t *testing.T) {
	snap := NewMarketDataSnapshot(dlr, 2)
	snap.Apply(MarketDataUpdate{
		Book: map[MarketDataEntry][]PriceLevel{EntryOffers: levels("101", "102", "103")},
	}, map[MarketDataEntry]bool{EntryOffers: true})

	assert.DeepEqual(t, prices(snap.Offers), []string{"101", "102"})
}

func TestSnapshotDropsUnrequestedEntries(t *testing.T) {
	snap := NewMarketDataSnapshot(dlr, 1)
	changed := snap.Apply(MarketDataUpdate{
		Book:   map[MarketDataEntry][]PriceLevel{EntryBids: levels("99")},
		Values: map[MarketDataEntry]*EntryValue{EntryLast: {Price: dec("100")}, EntrySettlement: {Price: dec("95")}},
	}, map[MarketDataEntry]bool{EntryLast: true})

	assert.DeepEqual(t, changed, []MarketDataEntry{EntryLast})
	assert.Equal(t, len(snap.Bids), 0)
	_, hasSettlement := snap.Values[EntrySettlement]
	assert.Check(t, !hasSettlement)
	assert.Equal(t, snap.Values[EntryLast].Price.String(), "100")
}

func TestSnapshotScalarLastWriteWinsAndNullClears(t *testing.T) {
	requested := map[MarketDataEntry]bool{EntryLast: true}
	snap := NewMarketDataSnapshot(dlr, 1)
	ts := time.UnixMilli(1700000000000)

	snap.Apply(MarketDataUpdate{Timestamp: ts, Values: map[MarketDataEntry]*EntryValue{EntryLast: {Price: dec("100")}}}, requested)
	snap.Apply(MarketDataUpdate{Timestamp: ts, Values: map[MarketDataEntry]*EntryValue{EntryLast: {Price: dec("101")}}}, requested)
	assert.Equal(t, snap.Values[EntryLast].Price.String(), "101")
	assert.Equal(t, snap.UpdatedAt, ts)

	snap.Apply(MarketDataUpdate{Values: map[MarketDataEntry]*EntryValue{EntryLast: nil}}, requested)
	_, ok := snap.Values[EntryLast]
	assert.Check(t, !ok)
}

func TestSnapshotCloneIsIndependent(t *testing.T) {
	snap := NewMarketDataSnapshot(dlr, 5)
	snap.Apply(MarketDataUpdate{
		Book:   map[MarketDataEntry][]PriceLevel{EntryBids: levels("99")},
		Values: map[MarketDataEntry]*EntryValue{EntryLast: {Price: dec("100")}},
	}, map[MarketDataEntry]bool{EntryBids: true, EntryLast: true})

	clone := snap.Clone()
	clone.Bids[0].Price = dec("1")
	clone.Values[EntryOpening] = EntryValue{Price: dec("2")}

	assert.Equal(t, snap.Bids[0].Price.String(), "99")
	_, ok := snap.Values[EntryOpening]
	assert.Check(t, !ok)
}

func TestMarketDataSubscriptionValidate(t *testing.T) {
	good := MarketDataSubscription{
		Instruments: []InstrumentID{dlr},
		Entries:     []MarketDataEntry{EntryBids, EntryOffers},
		Level:       1,
		Depth:       5,
	}
	assert.NilError(t, good.Validate())

	bad := []MarketDataSubscription{
		{Entries: good.Entries, Level: 1, Depth: 1},
		{Instruments: good.Instruments, Level: 1, Depth: 1},
		{Instruments: good.Instruments, Entries: []MarketDataEntry{"XX"}, Level: 1, Depth: 1},
		{Instruments: good.Instruments, Entries: good.Entries, Level: 6, Depth: 1},
		{Instruments: good.Instruments, Entries: good.Entries, Level: 1, Depth: 0},
	}
	for _, s := range bad {
		assert.Check(t, errors.Is(s.Validate(), ErrInvalidSubscription))
	}

	assert.NilError(t, OrderSubscription{Accounts: []string{"REM123"}}.Validate())
	assert.Check(t, errors.Is(OrderSubscription{}.Validate(), ErrInvalidSubscription))
}

func TestParseInstrumentID(t *testing.T) {
	id, err := ParseInstrumentID("ROFX:DLR/DIC21")
	assert.NilError(t, err)
	assert.Equal(t, id, dlr)

	id, err = ParseInstrumentID("ROFX:MERV - XMEV - GGAL - 48hs")
	assert.NilError(t, err)
	assert.Equal(t, id.Symbol, "MERV - XMEV - GGAL - 48hs")

	_, err = ParseInstrumentID("DLR/DIC21")
	assert.ErrorContains(t, err, "MARKET:SYMBOL")
}
