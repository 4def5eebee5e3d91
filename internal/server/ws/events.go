// Package ws relays signal bus channels to WebSocket clients.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/paa-listas/primary-go/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second
	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize bounds client frames; clients only send close and pong.
	maxMessageSize = 512
)

// DefaultChannels are the bus channels a client may follow.
var DefaultChannels = []string{"orders", "marketdata"}

// EventStream serves one bus subscription per WebSocket connection.
type EventStream struct {
	ctx      context.Context
	bus      domain.SignalBus
	channels []string
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewEventStream creates an EventStream over bus. ctx bounds the lifetime of
// every connection. An empty channels list allows DefaultChannels.
func NewEventStream(ctx context.Context, bus domain.SignalBus, channels []string, logger *slog.Logger) *EventStream {
	if len(channels) == 0 {
		channels = DefaultChannels
	}
	return &EventStream{
		ctx:      ctx,
		bus:      bus,
		channels: slices.Clone(channels),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With(slog.String("component", "ws_events")),
	}
}

// HandleWS upgrades the request and forwards every payload published on
// ?channel= (default "orders") as a text frame until either side goes away.
// GET /api/events
func (e *EventStream) HandleWS(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		channel = e.channels[0]
	}
	if !slices.Contains(e.channels, channel) {
		http.Error(w, "unknown channel "+channel, http.StatusBadRequest)
		return
	}

	// The subscription outlives the request context once the connection is
	// hijacked.
	ctx, cancel := context.WithCancel(e.ctx)
	msgs, err := e.bus.Subscribe(ctx, channel)
	if err != nil {
		cancel()
		e.logger.ErrorContext(r.Context(), "subscribe failed", slog.String("channel", channel), slog.String("error", err.Error()))
		http.Error(w, "event bus unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		e.logger.WarnContext(r.Context(), "upgrade failed", slog.String("error", err.Error()))
		return
	}
	e.logger.Info("client connected", slog.String("channel", channel))

	go e.readPump(conn, cancel)
	go e.writePump(ctx, conn, msgs, channel)
}

// readPump discards client frames and cancels the subscription when the
// connection fails or the client stops answering pings.
func (e *EventStream) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (e *EventStream) writePump(ctx context.Context, conn *websocket.Conn, msgs <-chan []byte, channel string) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		e.logger.Info("client disconnected", slog.String("channel", channel))
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case data, ok := <-msgs:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "bus closed"), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
