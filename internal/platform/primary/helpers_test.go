package primary

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/paa-listas/primary-go/internal/domain"
)

const testToken = "test-token"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// httpToWS converts an http:// URL to ws://.
func httpToWS(url string) string {
	return strings.Replace(url, "http://", "ws://", 1)
}

// wsFake is a WebSocket server that records every subscription message and
// runs script for each accepted connection. Connections beyond maxConns
// (when > 0) are refused before the upgrade.
type wsFake struct {
	srv     *httptest.Server
	release chan struct{}

	mu       sync.Mutex
	conns    int
	subs     []string
	maxConns int
}

func newWSFake(t *testing.T, maxConns int, script func(n int, conn *websocket.Conn, release <-chan struct{})) *wsFake {
	t.Helper()
	f := &wsFake{release: make(chan struct{}), maxConns: maxConns}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerAuthToken) != testToken {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		f.conns++
		n := f.conns
		f.mu.Unlock()
		if f.maxConns > 0 && n > f.maxConns {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		_, sub, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.subs = append(f.subs, string(sub))
		f.mu.Unlock()

		script(n, conn, f.release)
	}))

	t.Cleanup(func() {
		close(f.release)
		f.srv.Close()
	})
	return f
}

func (f *wsFake) session() *Session {
	s := NewSession("http://127.0.0.1:0", httpToWS(f.srv.URL), testLogger())
	s.SetToken(testToken)
	return s
}

func (f *wsFake) subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subs...)
}

func send(conn *websocket.Conn, frames ...string) {
	for _, fr := range frames {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(fr))
	}
}

// next reads one event or fails the test after two seconds.
func next[T any](t *testing.T, ch <-chan domain.StreamEvent[T]) domain.StreamEvent[T] {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event stream closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero domain.StreamEvent[T]
	return zero
}

// expectQuiet fails when an event arrives within d.
func expectQuiet[T any](t *testing.T, ch <-chan domain.StreamEvent[T], d time.Duration) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event %+v", ev)
		}
		t.Fatal("event stream closed unexpectedly")
	case <-time.After(d):
	}
}

// expectClosed waits for the stream to end without a further event.
func expectClosed[T any](t *testing.T, ch <-chan domain.StreamEvent[T]) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("expected closed stream, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close")
	}
}

func mdFrame(symbol string, bids ...int) string {
	levels := make([]string, 0, len(bids))
	for _, b := range bids {
		levels = append(levels, fmt.Sprintf(`{"price":%d,"size":10}`, b))
	}
	return fmt.Sprintf(`{"type":"Md","timestamp":1700000000000,"instrumentId":{"marketId":"ROFX","symbol":%q},"marketData":{"BI":[%s]}}`,
		symbol, strings.Join(levels, ","))
}

func orFrame(account, clOrdID, status, cumQty string) string {
	return fmt.Sprintf(`{"type":"or","orderReport":{"orderId":"1","clOrdId":%q,"proprietary":"PBCP","execId":"E1","accountId":{"id":%q},`+
		`"instrumentId":{"marketId":"ROFX","symbol":"DLR/DIC21"},"price":900,"orderQty":10,"ordType":"LIMIT","side":"BUY",`+
		`"timeInForce":"DAY","transactTime":"20211231-14:05:01.123-0300","avgPx":900,"lastPx":900,"lastQty":%s,"cumQty":%s,`+
		`"leavesQty":0,"status":%q,"text":""}}`, clOrdID, account, cumQty, cumQty, status)
}

func fastRetry(maxRetries int) StreamConfig {
	return StreamConfig{
		Retry: RetryPolicy{
			MaxRetries:      maxRetries,
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     50 * time.Millisecond,
		},
		BufferSize: 16,
	}
}
