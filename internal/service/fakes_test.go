package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paa-listas/primary-go/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeCommander assigns sequential client ids and answers OrderStatus from
// a settable table.
type fakeCommander struct {
	mu        sync.Mutex
	next      int
	statuses  map[domain.OrderID]domain.OrderStatus
	queries   int
	cancelled []domain.OrderID
	submitErr error
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{statuses: make(map[domain.OrderID]domain.OrderStatus)}
}

func (f *fakeCommander) newID() domain.OrderID {
	f.next++
	return domain.OrderID{ClientOrderID: fmt.Sprintf("%d", 1000+f.next), Proprietary: "PBCP"}
}

func (f *fakeCommander) SubmitOrder(_ context.Context, account string, o domain.Order) (domain.OrderID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return domain.OrderID{}, f.submitErr
	}
	id := f.newID()
	f.statuses[id] = domain.OrderStatus{OrderID: id, Account: account, InstrumentID: o.InstrumentID, Quantity: o.Quantity, State: domain.OrderStateNew}
	return id, nil
}

func (f *fakeCommander) ReplaceOrder(_ context.Context, id domain.OrderID, qty decimal.Decimal, _ *decimal.Decimal) (domain.OrderID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	newID := f.newID()
	f.statuses[newID] = domain.OrderStatus{OrderID: newID, Quantity: qty, State: domain.OrderStateNew}
	return newID, nil
}

func (f *fakeCommander) CancelOrder(_ context.Context, id domain.OrderID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeCommander) OrderStatus(_ context.Context, id domain.OrderID) (domain.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	st, ok := f.statuses[id]
	if !ok {
		return domain.OrderStatus{}, domain.ErrNotFound
	}
	return st, nil
}

func (f *fakeCommander) set(st domain.OrderStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[st.OrderID] = st
}

func (f *fakeCommander) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

// memStore is an in-memory OrderStore.
type memStore struct {
	mu          sync.Mutex
	transitions []domain.OrderTransition
}

func (m *memStore) RecordTransition(_ context.Context, t domain.OrderTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, t)
	return nil
}

func (m *memStore) Timeline(_ context.Context, id domain.OrderID) ([]domain.OrderTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OrderTransition
	for _, t := range m.transitions {
		if t.Status.OrderID == id {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) ListOpen(_ context.Context, account string) ([]domain.OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := make(map[domain.OrderID]domain.OrderStatus)
	for _, t := range m.transitions {
		if t.Status.Account == account {
			latest[t.Status.OrderID] = t.Status
		}
	}
	var out []domain.OrderStatus
	for _, st := range latest {
		if !st.State.IsTerminal() {
			out = append(out, st)
		}
	}
	return out, nil
}

// memBus records published payloads per channel.
type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func newMemBus() *memBus { return &memBus{published: make(map[string][][]byte)} }

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, fmt.Errorf("not supported")
}

func (b *memBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}

// memNotifier records notified events.
type memNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *memNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

// memBlob is an in-memory blob store that counts reads and writes.
type memBlob struct {
	mu     sync.Mutex
	data   map[string][]byte
	puts   int
	putErr error
}

func newMemBlob() *memBlob { return &memBlob{data: make(map[string][]byte)} }

func (m *memBlob) Put(_ context.Context, path string, r io.Reader, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.data[path] = b
	m.puts++
	return nil
}

func (m *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[path]
	return ok, nil
}

// memCaches implements OrderbookCache and PriceCache.
type memCaches struct {
	mu     sync.Mutex
	snaps  map[domain.InstrumentID]domain.MarketDataSnapshot
	prices map[string]decimal.Decimal
}

func newMemCaches() *memCaches {
	return &memCaches{
		snaps:  make(map[domain.InstrumentID]domain.MarketDataSnapshot),
		prices: make(map[string]decimal.Decimal),
	}
}

func (m *memCaches) SetSnapshot(_ context.Context, snap domain.MarketDataSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.InstrumentID] = snap
	return nil
}

func (m *memCaches) GetSnapshot(_ context.Context, id domain.InstrumentID) (domain.MarketDataSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[id]
	if !ok {
		return domain.MarketDataSnapshot{}, domain.ErrNotFound
	}
	return s, nil
}

func (m *memCaches) SetPrice(_ context.Context, id domain.InstrumentID, entry domain.MarketDataEntry, price decimal.Decimal, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[id.String()+"/"+string(entry)] = price
	return nil
}

func (m *memCaches) GetPrice(_ context.Context, id domain.InstrumentID, entry domain.MarketDataEntry) (decimal.Decimal, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[id.String()+"/"+string(entry)]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	return p, time.Time{}, nil
}
