package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"gotest.tools/v3/assert"
)

// chanBus hands out one buffered channel per subscription.
type chanBus struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

func newChanBus() *chanBus { return &chanBus{subs: make(map[string]chan []byte)} }

func (b *chanBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[channel]; ok {
		ch <- payload
	}
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 8)
	b.subs[channel] = ch
	return ch, nil
}

func (b *chanBus) subscribed(channel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[channel]
	return ok
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventStreamRelaysBusPayloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := newChanBus()
	srv := httptest.NewServer(http.HandlerFunc(NewEventStream(ctx, bus, nil, quietLogger()).HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events?channel=orders"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NilError(t, err)
	defer conn.Close()

	assert.Assert(t, bus.subscribed("orders"))
	assert.NilError(t, bus.Publish(ctx, "orders", []byte(`{"event":"order_filled"}`)))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	assert.NilError(t, err)
	assert.Equal(t, kind, websocket.TextMessage)
	assert.Equal(t, string(data), `{"event":"order_filled"}`)

	// cancelling the stream's context closes the connection
	cancel()
	_, _, err = conn.ReadMessage()
	assert.Assert(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestEventStreamRejectsUnknownChannel(t *testing.T) {
	bus := newChanBus()
	h := NewEventStream(context.Background(), bus, []string{"orders"}, quietLogger())

	rec := httptest.NewRecorder()
	h.HandleWS(rec, httptest.NewRequest(http.MethodGet, "/api/events?channel=secrets", nil))
	assert.Equal(t, rec.Code, http.StatusBadRequest)
	assert.Assert(t, !bus.subscribed("secrets"))
}
