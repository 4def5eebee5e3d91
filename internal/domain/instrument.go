package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentID identifies an instrument on a market. Equality is structural.
type InstrumentID struct {
	MarketID string `json:"marketId"`
	Symbol   string `json:"symbol"`
}

// String renders the id as "MARKET:SYMBOL".
func (id InstrumentID) String() string {
	return id.MarketID + ":" + id.Symbol
}

// IsZero reports whether either half of the id is missing.
func (id InstrumentID) IsZero() bool {
	return id.MarketID == "" || id.Symbol == ""
}

// ParseInstrumentID parses "MARKET:SYMBOL". The symbol may itself contain
// colons; only the first one separates the market.
func ParseInstrumentID(s string) (InstrumentID, error) {
	market, symbol, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || market == "" || symbol == "" {
		return InstrumentID{}, fmt.Errorf("instrument id %q: want MARKET:SYMBOL", s)
	}
	return InstrumentID{MarketID: market, Symbol: symbol}, nil
}

// Instrument is catalog metadata for one tradable instrument.
type Instrument struct {
	ID                 InstrumentID    `json:"instrumentId"`
	Segment            string          `json:"segment"`
	Currency           string          `json:"currency"`
	SecurityType       string          `json:"securityType"`
	CFICode            string          `json:"cficode"`
	SettlementType     string          `json:"settlType"`
	LowLimitPrice      decimal.Decimal `json:"lowLimitPrice"`
	HighLimitPrice     decimal.Decimal `json:"highLimitPrice"`
	MinPriceIncrement  decimal.Decimal `json:"minPriceIncrement"`
	MinTradeVolume     decimal.Decimal `json:"minTradeVolume"`
	MaxTradeVolume     decimal.Decimal `json:"maxTradeVolume"`
	ContractMultiplier decimal.Decimal `json:"contractMultiplier"`
	RoundLot           decimal.Decimal `json:"roundLot"`
	PricePrecision     int             `json:"instrumentPricePrecision"`
	SizePrecision      int             `json:"instrumentSizePrecision"`
	MaturityDate       time.Time       `json:"maturityDate"`
	OrderTypes         []OrderType     `json:"orderTypes"`
	TimesInForce       []TimeInForce   `json:"timesInForce"`
}

// Trade is one historical trade print.
type Trade struct {
	InstrumentID InstrumentID    `json:"instrumentId"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	Time         time.Time       `json:"time"`
	ServerTime   time.Time       `json:"serverTime"`
}
