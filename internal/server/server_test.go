package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/paa-listas/primary-go/internal/domain"
	"github.com/paa-listas/primary-go/internal/server/handler"
	"github.com/paa-listas/primary-go/internal/server/ws"
	"gotest.tools/v3/assert"
)

type emptyCatalog struct{}

func (emptyCatalog) List(context.Context) ([]domain.Instrument, error) { return nil, nil }

func (emptyCatalog) Get(context.Context, domain.InstrumentID) (domain.Instrument, error) {
	return domain.Instrument{}, domain.ErrNotFound
}

func TestRoutesAndAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(
		Config{Port: 0, APIKey: "k"},
		Handlers{
			Health:  handler.NewHealthHandler(logger),
			Markets: handler.NewMarketHandler(emptyCatalog{}, nil, logger),
		},
		nil,
		logger,
	)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	get := func(path, key string) int {
		req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		assert.NilError(t, err)
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		resp, err := http.DefaultClient.Do(req)
		assert.NilError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, get("/api/health", ""), http.StatusOK)
	assert.Equal(t, get("/api/instruments", ""), http.StatusUnauthorized)
	assert.Equal(t, get("/api/instruments", "k"), http.StatusOK)
	assert.Equal(t, get("/api/instruments/ROFX/DLR/DIC23", "k"), http.StatusNotFound)
	// order routes are not registered without an order handler
	assert.Equal(t, get("/api/orders", "k"), http.StatusNotFound)
	assert.Equal(t, get("/api/events", "k"), http.StatusNotFound)
}

// oneShotBus delivers a single payload to the first subscriber.
type oneShotBus struct{ payload []byte }

func (b oneShotBus) Publish(context.Context, string, []byte) error { return nil }

func (b oneShotBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte, 1)
	ch <- b.payload
	return ch, nil
}

func TestEventsUpgradeThroughMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := NewServer(
		Config{Port: 0, APIKey: "k"},
		Handlers{Events: ws.NewEventStream(ctx, oneShotBus{payload: []byte(`{"event":"order_new"}`)}, nil, logger)},
		nil,
		logger,
	)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Assert(t, err != nil)
	assert.Equal(t, resp.StatusCode, http.StatusUnauthorized)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-API-Key": []string{"k"}})
	assert.NilError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	assert.NilError(t, err)
	assert.Equal(t, string(data), `{"event":"order_new"}`)
}
