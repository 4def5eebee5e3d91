package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatement is a point-in-time report of one account's positions
// and margin.
type AccountStatement struct {
	Account               string                     `json:"account"`
	MarketMember          string                     `json:"marketMember"`
	Collateral            decimal.Decimal            `json:"collateral"`
	Margin                decimal.Decimal            `json:"margin"`
	AvailableToCollateral decimal.Decimal            `json:"availableToCollateral"`
	CurrentCash           decimal.Decimal            `json:"currentCash"`
	Portfolio             decimal.Decimal            `json:"portfolio"`
	OrdersMargin          decimal.Decimal            `json:"ordersMargin"`
	Cash                  map[string]decimal.Decimal `json:"cash"`
	Positions             []Position                 `json:"positions"`
	ReportedAt            time.Time                  `json:"reportedAt"`
}

// Position is the net holding of one instrument inside an account statement.
type Position struct {
	Symbol           string          `json:"symbol"`
	BuySize          decimal.Decimal `json:"buySize"`
	SellSize         decimal.Decimal `json:"sellSize"`
	BuyPrice         decimal.Decimal `json:"buyPrice"`
	SellPrice        decimal.Decimal `json:"sellPrice"`
	TotalDailyDiff   decimal.Decimal `json:"totalDailyDiff"`
	TotalMarketValue decimal.Decimal `json:"totalMarketValue"`
}
