package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/paa-listas/primary-go/internal/domain"
	"github.com/shopspring/decimal"
	"gotest.tools/v3/assert"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeOrders struct {
	submitted  []domain.Order
	accounts   []string
	submitErr  error
	replaced   []*decimal.Decimal
	cancelled  []domain.OrderID
	queried    []domain.OrderID
	tracked    map[domain.OrderID]domain.OrderStatus
	queryReply domain.OrderStatus
	queryErr   error
	stored     map[domain.OrderID][]domain.OrderTransition
}

func (f *fakeOrders) Submit(_ context.Context, account string, o domain.Order) (domain.OrderID, error) {
	if f.submitErr != nil {
		return domain.OrderID{}, f.submitErr
	}
	f.accounts = append(f.accounts, account)
	f.submitted = append(f.submitted, o)
	return domain.OrderID{ClientOrderID: "c1", Proprietary: "api"}, nil
}

func (f *fakeOrders) Replace(_ context.Context, _ domain.OrderID, _ decimal.Decimal, price *decimal.Decimal) (domain.OrderID, error) {
	f.replaced = append(f.replaced, price)
	return domain.OrderID{ClientOrderID: "c2", Proprietary: "api"}, nil
}

func (f *fakeOrders) Cancel(_ context.Context, id domain.OrderID) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeOrders) Query(_ context.Context, id domain.OrderID) (domain.OrderStatus, error) {
	f.queried = append(f.queried, id)
	return f.queryReply, f.queryErr
}

func (f *fakeOrders) Status(id domain.OrderID) (domain.OrderStatus, bool) {
	st, ok := f.tracked[id]
	return st, ok
}

func (f *fakeOrders) History(_ context.Context, id domain.OrderID) ([]domain.OrderTransition, error) {
	if st, ok := f.tracked[id]; ok {
		return []domain.OrderTransition{{Status: st, Source: "submit"}}, nil
	}
	if tl, ok := f.stored[id]; ok {
		return tl, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeOrders) Orders() []domain.OrderStatus {
	var out []domain.OrderStatus
	for _, st := range f.tracked {
		out = append(out, st)
	}
	return out
}

func (f *fakeOrders) Open() []domain.OrderStatus {
	var out []domain.OrderStatus
	for _, st := range f.tracked {
		if !st.State.IsTerminal() {
			out = append(out, st)
		}
	}
	return out
}

func serve(t *testing.T, pattern string, h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, rd))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	assert.NilError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestSubmitOrderBuildsOrder(t *testing.T) {
	orders := &fakeOrders{}
	h := NewOrderHandler(orders, "REM1", quietLogger())

	body := `{"instrument":"ROFX:DLR/DIC23","side":"buy","quantity":"10","price":350.5,"timeInForce":"gtd","expireDate":"2023-12-29"}`
	rec := serve(t, "POST /api/orders", h.SubmitOrder, http.MethodPost, "/api/orders", body)
	assert.Equal(t, rec.Code, http.StatusCreated)

	resp := decode[orderIDResponse](t, rec)
	assert.Equal(t, resp.OrderID, domain.OrderID{ClientOrderID: "c1", Proprietary: "api"})

	assert.DeepEqual(t, orders.accounts, []string{"REM1"})
	o := orders.submitted[0]
	assert.Equal(t, o.InstrumentID, domain.InstrumentID{MarketID: "ROFX", Symbol: "DLR/DIC23"})
	assert.Equal(t, o.Side, domain.SideBuy)
	assert.Equal(t, o.Type, domain.OrderTypeLimit)
	assert.Equal(t, o.Expiration, domain.TimeInForceGTD)
	assert.Assert(t, o.Price.Equal(decimal.RequireFromString("350.5")))
	assert.Equal(t, o.ExpireDate.Format(time.DateOnly), "2023-12-29")
	assert.Assert(t, o.DisplayQuantity == nil)
}

func TestSubmitOrderErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		want   string
	}{
		{name: "bad json", body: `{`, status: http.StatusBadRequest, want: "invalid request body"},
		{name: "unknown field", body: `{"instrument":"ROFX:X","bogus":1}`, status: http.StatusBadRequest, want: "invalid request body"},
		{name: "bad instrument", body: `{"instrument":"nocolon","side":"BUY","quantity":"1"}`, status: http.StatusBadRequest, want: "invalid order"},
		{
			name:   "invalid order",
			body:   `{"instrument":"ROFX:X","side":"BUY","quantity":"1"}`,
			err:    domain.ErrInvalidOrder,
			status: http.StatusBadRequest,
		},
		{
			name:   "server rejection",
			body:   `{"instrument":"ROFX:X","side":"BUY","quantity":"1","price":"2"}`,
			err:    &domain.DomainError{Op: "new order", Message: "Insufficient funds", Description: "cash"},
			status: http.StatusUnprocessableEntity,
			want:   "Insufficient funds",
		},
		{
			name:   "upstream down",
			body:   `{"instrument":"ROFX:X","side":"BUY","quantity":"1","price":"2"}`,
			err:    &domain.TransportError{Op: "new order", Err: errors.New("dial tcp: refused")},
			status: http.StatusBadGateway,
			want:   "upstream unavailable",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewOrderHandler(&fakeOrders{submitErr: tc.err}, "REM1", quietLogger())
			rec := serve(t, "POST /api/orders", h.SubmitOrder, http.MethodPost, "/api/orders", tc.body)
			assert.Equal(t, rec.Code, tc.status)
			if tc.want != "" {
				assert.Assert(t, strings.Contains(rec.Body.String(), tc.want), rec.Body.String())
			}
		})
	}
}

func TestSubmitOrderNeedsAccount(t *testing.T) {
	h := NewOrderHandler(&fakeOrders{}, "", quietLogger())
	rec := serve(t, "POST /api/orders", h.SubmitOrder, http.MethodPost, "/api/orders",
		`{"instrument":"ROFX:X","side":"BUY","quantity":"1","price":"2"}`)
	assert.Equal(t, rec.Code, http.StatusBadRequest)
	assert.Assert(t, strings.Contains(rec.Body.String(), "account is required"))
}

func TestGetOrderTrackedAndUntracked(t *testing.T) {
	id := domain.OrderID{ClientOrderID: "c1", Proprietary: "api"}
	orders := &fakeOrders{
		tracked: map[domain.OrderID]domain.OrderStatus{
			id: {OrderID: id, State: domain.OrderStateNew},
		},
		queryReply: domain.OrderStatus{OrderID: domain.OrderID{ClientOrderID: "other", Proprietary: "api"}, State: domain.OrderStateFilled},
	}
	h := NewOrderHandler(orders, "", quietLogger())
	const pattern = "GET /api/orders/{clOrdId}/{proprietary}"

	rec := serve(t, pattern, h.GetOrder, http.MethodGet, "/api/orders/c1/api", "")
	assert.Equal(t, rec.Code, http.StatusOK)
	got := decode[orderResponse](t, rec)
	assert.Assert(t, got.Tracked)
	assert.Equal(t, got.Status.State, domain.OrderStateNew)
	assert.Equal(t, len(got.Timeline), 1)
	assert.Equal(t, len(orders.queried), 0)

	rec = serve(t, pattern, h.GetOrder, http.MethodGet, "/api/orders/other/api", "")
	assert.Equal(t, rec.Code, http.StatusOK)
	got = decode[orderResponse](t, rec)
	assert.Assert(t, !got.Tracked)
	assert.Equal(t, got.Status.State, domain.OrderStateFilled)
	assert.Equal(t, len(orders.queried), 1)
	assert.Equal(t, len(got.Timeline), 0)

	orders.queryErr = domain.ErrNotFound
	rec = serve(t, pattern, h.GetOrder, http.MethodGet, "/api/orders/missing/api", "")
	assert.Equal(t, rec.Code, http.StatusNotFound)
}

func TestReplaceAndCancel(t *testing.T) {
	orders := &fakeOrders{}
	h := NewOrderHandler(orders, "", quietLogger())
	const pattern = "/api/orders/{clOrdId}/{proprietary}"

	rec := serve(t, "PUT "+pattern, h.ReplaceOrder, http.MethodPut, "/api/orders/c1/api", `{"quantity":"5"}`)
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, decode[orderIDResponse](t, rec).OrderID.ClientOrderID, "c2")

	rec = serve(t, "PUT "+pattern, h.ReplaceOrder, http.MethodPut, "/api/orders/c1/api", `{"quantity":"5","price":"351"}`)
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Assert(t, orders.replaced[0] == nil)
	assert.Assert(t, orders.replaced[1].Equal(decimal.NewFromInt(351)))

	rec = serve(t, "PUT "+pattern, h.ReplaceOrder, http.MethodPut, "/api/orders/c1/api", `{"quantity":"0"}`)
	assert.Equal(t, rec.Code, http.StatusBadRequest)

	rec = serve(t, "DELETE "+pattern, h.CancelOrder, http.MethodDelete, "/api/orders/c1/api", "")
	assert.Equal(t, rec.Code, http.StatusAccepted)
	assert.DeepEqual(t, orders.cancelled, []domain.OrderID{{ClientOrderID: "c1", Proprietary: "api"}})
}

func TestListOrdersFilters(t *testing.T) {
	a := domain.OrderID{ClientOrderID: "a", Proprietary: "api"}
	b := domain.OrderID{ClientOrderID: "b", Proprietary: "api"}
	orders := &fakeOrders{tracked: map[domain.OrderID]domain.OrderStatus{
		a: {OrderID: a, Account: "REM1", State: domain.OrderStateNew},
		b: {OrderID: b, Account: "REM2", State: domain.OrderStateFilled},
	}}
	h := NewOrderHandler(orders, "", quietLogger())

	rec := serve(t, "GET /api/orders", h.ListOrders, http.MethodGet, "/api/orders?open=true", "")
	got := decode[map[string][]domain.OrderStatus](t, rec)
	assert.Equal(t, len(got["orders"]), 1)
	assert.Equal(t, got["orders"][0].OrderID, a)

	rec = serve(t, "GET /api/orders", h.ListOrders, http.MethodGet, "/api/orders?account=REM2", "")
	got = decode[map[string][]domain.OrderStatus](t, rec)
	assert.Equal(t, len(got["orders"]), 1)
	assert.Equal(t, got["orders"][0].OrderID, b)

	rec = serve(t, "GET /api/orders", h.ListOrders, http.MethodGet, "/api/orders?account=none", "")
	assert.Equal(t, strings.TrimSpace(rec.Body.String()), `{"orders":[]}`)
}

type fakeInstruments struct {
	list []domain.Instrument
	err  error
}

func (f fakeInstruments) List(context.Context) ([]domain.Instrument, error) { return f.list, f.err }

func (f fakeInstruments) Get(_ context.Context, id domain.InstrumentID) (domain.Instrument, error) {
	for _, in := range f.list {
		if in.ID == id {
			return in, nil
		}
	}
	return domain.Instrument{}, domain.ErrNotFound
}

type fakeSnapshots map[domain.InstrumentID]domain.MarketDataSnapshot

func (f fakeSnapshots) Snapshot(id domain.InstrumentID) (domain.MarketDataSnapshot, bool) {
	s, ok := f[id]
	return s, ok
}

func (f fakeSnapshots) Snapshots() []domain.MarketDataSnapshot {
	var out []domain.MarketDataSnapshot
	for _, s := range f {
		out = append(out, s)
	}
	return out
}

func TestInstrumentRoutesHandleSlashSymbols(t *testing.T) {
	dlr := domain.InstrumentID{MarketID: "ROFX", Symbol: "DLR/DIC23"}
	ggal := domain.InstrumentID{MarketID: "MERV", Symbol: "GGAL - 48hs"}
	h := NewMarketHandler(fakeInstruments{list: []domain.Instrument{{ID: dlr}, {ID: ggal}}}, nil, quietLogger())

	rec := serve(t, "GET /api/instruments/{market}/{symbol...}", h.GetInstrument, http.MethodGet, "/api/instruments/ROFX/DLR/DIC23", "")
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, decode[domain.Instrument](t, rec).ID, dlr)

	rec = serve(t, "GET /api/instruments/{market}/{symbol...}", h.GetInstrument, http.MethodGet, "/api/instruments/ROFX/NOPE", "")
	assert.Equal(t, rec.Code, http.StatusNotFound)

	rec = serve(t, "GET /api/instruments", h.ListInstruments, http.MethodGet, "/api/instruments?market=MERV", "")
	got := decode[map[string][]domain.Instrument](t, rec)
	assert.Equal(t, len(got["instruments"]), 1)
	assert.Equal(t, got["instruments"][0].ID, ggal)
}

func TestSnapshotRoutes(t *testing.T) {
	id := domain.InstrumentID{MarketID: "ROFX", Symbol: "DLR/DIC23"}
	snaps := fakeSnapshots{id: {InstrumentID: id, Depth: 5}}

	h := NewMarketHandler(fakeInstruments{}, nil, quietLogger())
	rec := serve(t, "GET /api/marketdata", h.ListSnapshots, http.MethodGet, "/api/marketdata", "")
	assert.Equal(t, rec.Code, http.StatusServiceUnavailable)

	h = NewMarketHandler(fakeInstruments{}, snaps, quietLogger())
	rec = serve(t, "GET /api/marketdata/{market}/{symbol...}", h.GetSnapshot, http.MethodGet, "/api/marketdata/ROFX/DLR/DIC23", "")
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, decode[domain.MarketDataSnapshot](t, rec).Depth, 5)

	rec = serve(t, "GET /api/marketdata/{market}/{symbol...}", h.GetSnapshot, http.MethodGet, "/api/marketdata/ROFX/OTHER", "")
	assert.Equal(t, rec.Code, http.StatusNotFound)
}

type fakeReporter struct {
	from, to time.Time
	err      error
}

func (f *fakeReporter) AccountReport(_ context.Context, account string) (domain.AccountStatement, error) {
	return domain.AccountStatement{Account: account}, f.err
}

func (f *fakeReporter) Trades(_ context.Context, id domain.InstrumentID, from, to time.Time) ([]domain.Trade, error) {
	f.from, f.to = from, to
	return nil, f.err
}

func TestListTradesDates(t *testing.T) {
	rep := &fakeReporter{}
	h := NewAccountHandler(rep, quietLogger())
	h.now = func() time.Time { return time.Date(2023, 11, 20, 15, 4, 5, 0, time.UTC) }

	rec := serve(t, "GET /api/trades", h.ListTrades, http.MethodGet, "/api/trades?instrument=ROFX:DLR/DIC23&from=2023-11-01", "")
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, strings.TrimSpace(rec.Body.String()), `{"trades":[]}`)
	assert.Equal(t, rep.from.Format(time.DateOnly), "2023-11-01")
	assert.Equal(t, rep.to.Format(time.DateOnly), "2023-11-20")

	rec = serve(t, "GET /api/trades", h.ListTrades, http.MethodGet, "/api/trades?instrument=ROFX:X&from=2023-11-21", "")
	assert.Equal(t, rec.Code, http.StatusBadRequest)

	rec = serve(t, "GET /api/trades", h.ListTrades, http.MethodGet, "/api/trades?instrument=bad", "")
	assert.Equal(t, rec.Code, http.StatusBadRequest)
}

func TestGetAccountMapsDomainError(t *testing.T) {
	rep := &fakeReporter{err: &domain.DomainError{Op: "account report", Message: "Account not found"}}
	h := NewAccountHandler(rep, quietLogger())

	rec := serve(t, "GET /api/accounts/{id}", h.GetAccount, http.MethodGet, "/api/accounts/REM1", "")
	assert.Equal(t, rec.Code, http.StatusUnprocessableEntity)
	assert.Equal(t, decode[errorBody](t, rec).Error, "Account not found")
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(quietLogger()).
		WithProbe("redis", func(context.Context) error { return nil }).
		WithStatus("coordinator", func() any { return map[string]int{"tracked": 2} })

	rec := serve(t, "GET /api/health", h.HealthCheck, http.MethodGet, "/api/health", "")
	assert.Equal(t, rec.Code, http.StatusOK)

	h.WithProbe("postgres", func(context.Context) error { return errors.New("connection refused") })
	rec = serve(t, "GET /api/health", h.HealthCheck, http.MethodGet, "/api/health", "")
	assert.Equal(t, rec.Code, http.StatusServiceUnavailable)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, got["status"], "degraded")

	rec = serve(t, "GET /api/status", h.Status, http.MethodGet, "/api/status", "")
	assert.Assert(t, strings.Contains(rec.Body.String(), `"coordinator":{"tracked":2}`), rec.Body.String())
}

func TestGetOrderUntrackedUsesStoredTimeline(t *testing.T) {
	id := domain.OrderID{ClientOrderID: "old", Proprietary: "api"}
	orders := &fakeOrders{
		queryReply: domain.OrderStatus{OrderID: id, State: domain.OrderStateFilled},
		stored: map[domain.OrderID][]domain.OrderTransition{
			id: {
				{Status: domain.OrderStatus{OrderID: id, State: domain.OrderStatePendingNew}, Source: "submit"},
				{Status: domain.OrderStatus{OrderID: id, State: domain.OrderStateFilled}, Previous: domain.OrderStatePendingNew, Source: "event"},
			},
		},
	}
	h := NewOrderHandler(orders, "", quietLogger())

	rec := serve(t, "GET /api/orders/{clOrdId}/{proprietary}", h.GetOrder, http.MethodGet, "/api/orders/old/api", "")
	assert.Equal(t, rec.Code, http.StatusOK)
	got := decode[orderResponse](t, rec)
	assert.Assert(t, !got.Tracked)
	assert.Equal(t, len(got.Timeline), 2)
	assert.Equal(t, got.Timeline[1].Status.State, domain.OrderStateFilled)
}
