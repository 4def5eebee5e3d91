package primary

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paa-listas/primary-go/internal/domain"
)

const (
	// transactTimeLayout is the server's execution timestamp format,
	// e.g. "20211231-14:05:01.123-0300".
	transactTimeLayout = "20060102-15:04:05.000-0700"
	// expireDateLayout is the GTD expire date parameter format.
	expireDateLayout = "20060102"
	// tradeDateLayout is the date parameter format of the trades endpoint.
	tradeDateLayout = "2006-01-02"
	// tradeTimeLayout is the datetime format of a historical trade.
	tradeTimeLayout = "2006-01-02 15:04:05.000"
	// maturityLayout is the instrument maturity date format.
	maturityLayout = "20060102"
)

// exchangeLocation is the exchange's local time zone (UTC-3, no DST).
var exchangeLocation = time.FixedZone("ART", -3*60*60)

// --------------------------------------------------------------------------
// REST schemas
// --------------------------------------------------------------------------

// APIInstrument is one entry of /rest/instruments/details.
type APIInstrument struct {
	InstrumentID domain.InstrumentID `json:"instrumentId"`
	Segment      struct {
		MarketSegmentID string `json:"marketSegmentId"`
	} `json:"segment"`
	CFICode                  string          `json:"cficode"`
	Currency                 string          `json:"currency"`
	SecurityType             string          `json:"securityType"`
	SettlType                string          `json:"settlType"`
	LowLimitPrice            decimal.Decimal `json:"lowLimitPrice"`
	HighLimitPrice           decimal.Decimal `json:"highLimitPrice"`
	MinPriceIncrement        decimal.Decimal `json:"minPriceIncrement"`
	MinTradeVolume           decimal.Decimal `json:"minTradeVolume"`
	MaxTradeVolume           decimal.Decimal `json:"maxTradeVolume"`
	ContractMultiplier       decimal.Decimal `json:"contractMultiplier"`
	RoundLot                 decimal.Decimal `json:"roundLot"`
	InstrumentPricePrecision int             `json:"instrumentPricePrecision"`
	InstrumentSizePrecision  int             `json:"instrumentSizePrecision"`
	MaturityDate             string          `json:"maturityDate"`
	OrderTypes               []string        `json:"orderTypes"`
	TimesInForce             []string        `json:"timesInForce"`
}

// ToInstrument converts the wire instrument to the domain type. An
// unparseable maturity date is left zero.
func (a APIInstrument) ToInstrument() domain.Instrument {
	inst := domain.Instrument{
		ID:                 a.InstrumentID,
		Segment:            a.Segment.MarketSegmentID,
		Currency:           a.Currency,
		SecurityType:       a.SecurityType,
		CFICode:            a.CFICode,
		SettlementType:     a.SettlType,
		LowLimitPrice:      a.LowLimitPrice,
		HighLimitPrice:     a.HighLimitPrice,
		MinPriceIncrement:  a.MinPriceIncrement,
		MinTradeVolume:     a.MinTradeVolume,
		MaxTradeVolume:     a.MaxTradeVolume,
		ContractMultiplier: a.ContractMultiplier,
		RoundLot:           a.RoundLot,
		PricePrecision:     a.InstrumentPricePrecision,
		SizePrecision:      a.InstrumentSizePrecision,
	}
	if t, err := time.ParseInLocation(maturityLayout, a.MaturityDate, exchangeLocation); err == nil {
		inst.MaturityDate = t
	}
	for _, ot := range a.OrderTypes {
		inst.OrderTypes = append(inst.OrderTypes, domain.OrderType(ot))
	}
	for _, tif := range a.TimesInForce {
		inst.TimesInForce = append(inst.TimesInForce, domain.TimeInForce(tif))
	}
	return inst
}

// APITrade is one entry of /rest/data/getTrades.
type APITrade struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"`
	Datetime   string          `json:"datetime"`
	ServerTime int64           `json:"servertime"`
}

// ToTrade converts the wire trade to the domain type.
func (a APITrade) ToTrade(market string) (domain.Trade, error) {
	t, err := time.ParseInLocation(tradeTimeLayout, a.Datetime, exchangeLocation)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trade datetime %q: %w", a.Datetime, err)
	}
	return domain.Trade{
		InstrumentID: domain.InstrumentID{MarketID: market, Symbol: a.Symbol},
		Price:        a.Price,
		Size:         a.Size,
		Time:         t,
		ServerTime:   time.UnixMilli(a.ServerTime),
	}, nil
}

// APIOrderReport is the order status schema shared by /rest/order/id and
// the "or" WebSocket frame.
type APIOrderReport struct {
	OrderID     string `json:"orderId"`
	ClOrdID     string `json:"clOrdId"`
	Proprietary string `json:"proprietary"`
	ExecID      string `json:"execId"`
	AccountID   struct {
		ID string `json:"id"`
	} `json:"accountId"`
	InstrumentID domain.InstrumentID `json:"instrumentId"`
	Price        decimal.NullDecimal `json:"price"`
	OrderQty     decimal.Decimal     `json:"orderQty"`
	OrdType      string              `json:"ordType"`
	Side         string              `json:"side"`
	TimeInForce  string              `json:"timeInForce"`
	TransactTime string              `json:"transactTime"`
	AvgPx        decimal.Decimal     `json:"avgPx"`
	LastPx       decimal.Decimal     `json:"lastPx"`
	LastQty      decimal.Decimal     `json:"lastQty"`
	CumQty       decimal.Decimal     `json:"cumQty"`
	LeavesQty    decimal.Decimal     `json:"leavesQty"`
	Status       string              `json:"status"`
	Text         string              `json:"text"`
}

// ToOrderStatus converts the wire report to the domain type. It fails on an
// incomplete identity or an unknown state.
func (a APIOrderReport) ToOrderStatus() (domain.OrderStatus, error) {
	id := domain.OrderID{ClientOrderID: a.ClOrdID, Proprietary: a.Proprietary}
	if id.IsZero() {
		return domain.OrderStatus{}, fmt.Errorf("order report without clOrdId/proprietary")
	}
	state := domain.OrderState(a.Status)
	if !state.Valid() {
		return domain.OrderStatus{}, fmt.Errorf("order %s: unknown status %q", id, a.Status)
	}

	st := domain.OrderStatus{
		OrderID:         id,
		ExchangeOrderID: a.OrderID,
		ExecID:          a.ExecID,
		Account:         a.AccountID.ID,
		InstrumentID:    a.InstrumentID,
		Side:            domain.Side(a.Side),
		Type:            domain.OrderType(a.OrdType),
		TimeInForce:     domain.TimeInForce(a.TimeInForce),
		Quantity:        a.OrderQty,
		FilledQuantity:  a.CumQty,
		LeavesQuantity:  a.LeavesQty,
		AveragePrice:    a.AvgPx,
		LastPrice:       a.LastPx,
		LastQuantity:    a.LastQty,
		State:           state,
		Text:            a.Text,
	}
	if a.Price.Valid {
		st.Price = a.Price.Decimal
	}
	if a.TransactTime != "" {
		t, err := time.Parse(transactTimeLayout, a.TransactTime)
		if err != nil {
			return domain.OrderStatus{}, fmt.Errorf("order %s: transactTime %q: %w", id, a.TransactTime, err)
		}
		st.TransactTime = t
	}
	return st, nil
}

// APIOrderAck is the order identity returned by submit and replace.
type APIOrderAck struct {
	ClientID    string `json:"clientId"`
	Proprietary string `json:"proprietary"`
}

// APIAccountData is the accountData object of /rest/risk/accountReport.
type APIAccountData struct {
	AccountName           string          `json:"accountName"`
	MarketMember          string          `json:"marketMember"`
	Collateral            decimal.Decimal `json:"collateral"`
	Margin                decimal.Decimal `json:"margin"`
	AvailableToCollateral decimal.Decimal `json:"availableToCollateral"`
	CurrentCash           decimal.Decimal `json:"currentCash"`
	Portfolio             decimal.Decimal `json:"portfolio"`
	OrdersMargin          decimal.Decimal `json:"ordersMargin"`
	LastCalculation       int64           `json:"lastCalculation"`
	Cash                  struct {
		DetailedCash map[string]decimal.Decimal `json:"detailedCash"`
	} `json:"cash"`
	DetailedPosition struct {
		Report map[string][]APIPosition `json:"report"`
	} `json:"detailedPosition"`
}

// APIPosition is one position line inside a detailed position report.
type APIPosition struct {
	Symbol           string          `json:"symbol"`
	BuySize          decimal.Decimal `json:"buySize"`
	SellSize         decimal.Decimal `json:"sellSize"`
	BuyPrice         decimal.Decimal `json:"buyPrice"`
	SellPrice        decimal.Decimal `json:"sellPrice"`
	TotalDailyDiff   decimal.Decimal `json:"totalDailyDiff"`
	TotalMarketValue decimal.Decimal `json:"totalMarketValue"`
}

// ToAccountStatement converts the wire report to the domain type.
func (a APIAccountData) ToAccountStatement(account string) domain.AccountStatement {
	st := domain.AccountStatement{
		Account:               account,
		MarketMember:          a.MarketMember,
		Collateral:            a.Collateral,
		Margin:                a.Margin,
		AvailableToCollateral: a.AvailableToCollateral,
		CurrentCash:           a.CurrentCash,
		Portfolio:             a.Portfolio,
		OrdersMargin:          a.OrdersMargin,
		Cash:                  a.Cash.DetailedCash,
	}
	if a.AccountName != "" {
		st.Account = a.AccountName
	}
	if a.LastCalculation > 0 {
		st.ReportedAt = time.UnixMilli(a.LastCalculation)
	}
	for _, positions := range a.DetailedPosition.Report {
		for _, p := range positions {
			st.Positions = append(st.Positions, domain.Position{
				Symbol:           p.Symbol,
				BuySize:          p.BuySize,
				SellSize:         p.SellSize,
				BuyPrice:         p.BuyPrice,
				SellPrice:        p.SellPrice,
				TotalDailyDiff:   p.TotalDailyDiff,
				TotalMarketValue: p.TotalMarketValue,
			})
		}
	}
	return st
}

// --------------------------------------------------------------------------
// WebSocket schemas
// --------------------------------------------------------------------------

// WSMarketDataSubscribe is the "smd" subscription message.
type WSMarketDataSubscribe struct {
	Type     string                   `json:"type"`
	Level    int                      `json:"level"`
	Entries  []domain.MarketDataEntry `json:"entries"`
	Products []domain.InstrumentID    `json:"products"`
	Depth    int                      `json:"depth"`
}

// WSOrderSubscribe is the "os" subscription message.
type WSOrderSubscribe struct {
	Type               string         `json:"type"`
	Accounts           []WSAccountRef `json:"accounts"`
	SnapshotOnlyActive bool           `json:"snapshotOnlyActive"`
}

// WSAccountRef names one account in an order subscription.
type WSAccountRef struct {
	ID string `json:"id"`
}

// WSEnvelope peeks at a frame's type before the full decode.
type WSEnvelope struct {
	Type string `json:"type"`
}

// WSMarketData is the "Md" frame.
type WSMarketData struct {
	Type         string                                     `json:"type"`
	Timestamp    int64                                      `json:"timestamp"`
	InstrumentID domain.InstrumentID                        `json:"instrumentId"`
	MarketData   map[domain.MarketDataEntry]json.RawMessage `json:"marketData"`
}

// WSOrderReport is the "or" frame.
type WSOrderReport struct {
	Type        string         `json:"type"`
	OrderReport APIOrderReport `json:"orderReport"`
}

// wsLevel is one price level of a BI/OF entry.
type wsLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// wsValue is an object-shaped scalar entry such as LA or SE.
type wsValue struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
	Date  int64           `json:"date"`
}

// ToUpdate decodes each entry of the frame. Book entries are level arrays;
// scalar entries are either an object or a bare number; null clears.
func (m WSMarketData) ToUpdate() (domain.MarketDataUpdate, error) {
	u := domain.MarketDataUpdate{
		InstrumentID: m.InstrumentID,
		Timestamp:    time.UnixMilli(m.Timestamp),
		Book:         make(map[domain.MarketDataEntry][]domain.PriceLevel),
		Values:       make(map[domain.MarketDataEntry]*domain.EntryValue),
	}
	for entry, raw := range m.MarketData {
		if !entry.Valid() {
			continue
		}
		isNull := len(raw) == 0 || string(raw) == "null"

		if entry.IsBookSide() {
			var levels []wsLevel
			if !isNull {
				if err := json.Unmarshal(raw, &levels); err != nil {
					return domain.MarketDataUpdate{}, fmt.Errorf("entry %s: %w", entry, err)
				}
			}
			side := make([]domain.PriceLevel, 0, len(levels))
			for _, l := range levels {
				side = append(side, domain.PriceLevel{Price: l.Price, Size: l.Size})
			}
			u.Book[entry] = side
			continue
		}

		if isNull {
			u.Values[entry] = nil
			continue
		}
		v, err := decodeScalar(raw)
		if err != nil {
			return domain.MarketDataUpdate{}, fmt.Errorf("entry %s: %w", entry, err)
		}
		u.Values[entry] = v
	}
	return u, nil
}

func decodeScalar(raw json.RawMessage) (*domain.EntryValue, error) {
	if raw[0] == '{' {
		var v wsValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		ev := &domain.EntryValue{Price: v.Price, Size: v.Size}
		if v.Date > 0 {
			ev.Date = time.UnixMilli(v.Date)
		}
		return ev, nil
	}
	var d decimal.Decimal
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return &domain.EntryValue{Price: d}, nil
}
