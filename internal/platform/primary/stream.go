package primary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/paa-listas/primary-go/internal/domain"
)

const (
	// defaultWriteWait is the time allowed to write a message to the peer.
	defaultWriteWait = 10 * time.Second

	// defaultPongWait is the time allowed between two reads before the
	// connection is considered dead.
	defaultPongWait = 60 * time.Second

	// defaultHandshakeTimeout bounds one dial plus upgrade.
	defaultHandshakeTimeout = 15 * time.Second

	// defaultReconnectDelay is the first delay of the reconnect backoff.
	defaultReconnectDelay = 2 * time.Second

	// defaultMaxReconnectDelay caps the exponential backoff.
	defaultMaxReconnectDelay = 60 * time.Second
)

// ChannelState is the lifecycle state of a streaming channel.
type ChannelState int32

const (
	StateIdle ChannelState = iota
	StateConnecting
	StateSubscribed
	StateStreaming
	StateReconnecting
	StateClosed
)

func (s ChannelState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// OverflowPolicy decides what the receive loop does when the consumer
// lets the event buffer fill up.
type OverflowPolicy string

const (
	// OverflowBlock stalls frame consumption until the consumer catches up.
	OverflowBlock OverflowPolicy = "block"
	// OverflowDrop discards the newest data event and counts it.
	OverflowDrop OverflowPolicy = "drop"
)

// RetryPolicy bounds reconnection. MaxRetries < 0 retries forever;
// MaxRetries == 0 closes the channel on the first disconnect.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// StreamConfig tunes a streaming channel. Zero durations, buffer size and
// overflow policy take defaults; Retry.MaxRetries is used as given.
type StreamConfig struct {
	Retry            RetryPolicy
	PongWait         time.Duration
	WriteWait        time.Duration
	HandshakeTimeout time.Duration
	BufferSize       int
	Overflow         OverflowPolicy
}

// DefaultStreamConfig returns the settings used when none are given.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Retry: RetryPolicy{
			MaxRetries:      10,
			InitialInterval: defaultReconnectDelay,
			MaxInterval:     defaultMaxReconnectDelay,
		},
		PongWait:         defaultPongWait,
		WriteWait:        defaultWriteWait,
		HandshakeTimeout: defaultHandshakeTimeout,
		BufferSize:       256,
		Overflow:         OverflowBlock,
	}
}

func (c StreamConfig) withDefaults() StreamConfig {
	d := DefaultStreamConfig()
	if c.Retry.InitialInterval <= 0 {
		c.Retry.InitialInterval = d.Retry.InitialInterval
	}
	if c.Retry.MaxInterval <= 0 {
		c.Retry.MaxInterval = d.Retry.MaxInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.BufferSize < 0 {
		c.BufferSize = 0
	}
	if c.Overflow == "" {
		c.Overflow = d.Overflow
	}
	return c
}

// Stats are the counters of one channel.
type Stats struct {
	State              string `json:"state"`
	Frames             uint64 `json:"frames"`
	DecodeErrors       uint64 `json:"decodeErrors"`
	ProtocolViolations uint64 `json:"protocolViolations"`
	Dropped            uint64 `json:"dropped"`
	Reconnects         uint64 `json:"reconnects"`
}

// frameHandler turns one raw frame into at most one event value. ok=false
// with a nil error skips the frame silently. An error wrapping
// domain.ErrProtocolViolation is counted as a violation, any other error as
// a decode error. Neither ends the stream.
type frameHandler[T any] func(raw []byte) (value T, ok bool, err error)

// stream is the connection lifecycle shared by the market data and order
// channels: connect, subscribe, receive, reconnect with the original
// subscription, close.
type stream[T any] struct {
	name      string
	session   *Session
	subscribe []byte
	handle    frameHandler[T]
	cfg       StreamConfig
	dialer    websocket.Dialer
	logger    *slog.Logger

	opened       atomic.Bool
	state        atomic.Int32
	frames       atomic.Uint64
	decodeErrors atomic.Uint64
	violations   atomic.Uint64
	dropped      atomic.Uint64
	reconnects   atomic.Uint64
}

func newStream[T any](name string, session *Session, subscribe []byte, handle frameHandler[T], cfg StreamConfig, logger *slog.Logger) *stream[T] {
	cfg = cfg.withDefaults()
	return &stream[T]{
		name:      name,
		session:   session,
		subscribe: subscribe,
		handle:    handle,
		cfg:       cfg,
		dialer: websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: logger.With(slog.String("component", "primary_ws"), slog.String("channel", name)),
	}
}

// open connects and subscribes, then hands the connection to a detached
// receive loop. It returns once the subscription is sent. A stream can be
// opened only once.
func (s *stream[T]) open(ctx context.Context) (<-chan domain.StreamEvent[T], error) {
	if !s.opened.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("primary/ws: %s: channel already opened", s.name)
	}

	conn, err := s.connect(ctx)
	if err != nil {
		s.setState(StateClosed)
		return nil, fmt.Errorf("primary/ws: %s: open: %w", s.name, err)
	}

	out := make(chan domain.StreamEvent[T], s.cfg.BufferSize)
	go s.run(ctx, conn, out)
	return out, nil
}

// State returns the current lifecycle state.
func (s *stream[T]) State() ChannelState { return ChannelState(s.state.Load()) }

// Stats returns a copy of the channel counters.
func (s *stream[T]) Stats() Stats {
	return Stats{
		State:              s.State().String(),
		Frames:             s.frames.Load(),
		DecodeErrors:       s.decodeErrors.Load(),
		ProtocolViolations: s.violations.Load(),
		Dropped:            s.dropped.Load(),
		Reconnects:         s.reconnects.Load(),
	}
}

func (s *stream[T]) setState(st ChannelState) {
	s.state.Store(int32(st))
}

// connect dials with the session token and sends the subscription.
func (s *stream[T]) connect(ctx context.Context) (*websocket.Conn, error) {
	s.setState(StateConnecting)

	header, err := s.session.authHeader()
	if err != nil {
		return nil, err
	}

	conn, resp, err := s.dialer.DialContext(ctx, s.session.WSURL(), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &domain.AuthError{StatusCode: resp.StatusCode, Body: "websocket handshake rejected"}
		}
		return nil, &domain.TransportError{Op: "dial", Err: err}
	}

	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, s.subscribe); err != nil {
		conn.Close()
		return nil, &domain.TransportError{Op: "subscribe", Err: err}
	}

	s.setState(StateSubscribed)
	return conn, nil
}

// run owns the connection for the lifetime of the channel and closes out
// when it ends.
func (s *stream[T]) run(ctx context.Context, conn *websocket.Conn, out chan<- domain.StreamEvent[T]) {
	defer close(out)

	for {
		s.setState(StateStreaming)
		err := s.receive(ctx, conn, out)
		conn.Close()

		if ctx.Err() != nil {
			s.setState(StateClosed)
			s.logger.Info("channel closed by caller")
			return
		}

		s.logger.Warn("disconnected", slog.String("error", err.Error()))
		s.setState(StateReconnecting)

		conn, err = s.reconnect(ctx)
		if err != nil {
			s.setState(StateClosed)
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("giving up", slog.String("error", err.Error()))
			s.send(ctx, out, domain.StreamEvent[T]{Kind: domain.StreamClosed, Err: err})
			return
		}

		s.reconnects.Add(1)
		s.logger.Info("reconnected", slog.Uint64("reconnects", s.reconnects.Load()))
		if !s.send(ctx, out, domain.StreamEvent[T]{Kind: domain.StreamReconnected}) {
			conn.Close()
			s.setState(StateClosed)
			return
		}
	}
}

// receive reads frames until the connection fails or ctx is cancelled.
func (s *stream[T]) receive(ctx context.Context, conn *websocket.Conn, out chan<- domain.StreamEvent[T]) error {
	done := make(chan struct{})
	defer close(done)

	// Unblock ReadMessage on cancellation.
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.cfg.WriteWait),
			)
			conn.Close()
		case <-done:
		}
	}()
	go s.pingLoop(conn, done)

	conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", domain.ErrWSDisconnect, err)
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		s.frames.Add(1)

		value, ok, err := s.handle(message)
		if err != nil {
			s.reportFrameError(err)
			continue
		}
		if !ok {
			continue
		}
		if !s.deliver(ctx, out, value) {
			return ctx.Err()
		}
	}
}

func (s *stream[T]) reportFrameError(err error) {
	if errors.Is(err, domain.ErrProtocolViolation) {
		n := s.violations.Add(1)
		s.logger.Warn("dropped frame", slog.String("error", err.Error()), slog.Uint64("violations", n))
		return
	}
	n := s.decodeErrors.Add(1)
	s.logger.Warn("undecodable frame", slog.String("error", err.Error()), slog.Uint64("decode_errors", n))
}

// deliver hands a data event to the consumer according to the overflow
// policy. It returns false when ctx was cancelled while waiting.
func (s *stream[T]) deliver(ctx context.Context, out chan<- domain.StreamEvent[T], value T) bool {
	ev := domain.StreamEvent[T]{Kind: domain.StreamData, Value: value}
	if s.cfg.Overflow != OverflowDrop {
		return s.send(ctx, out, ev)
	}
	select {
	case out <- ev:
	case <-ctx.Done():
		return false
	default:
		n := s.dropped.Add(1)
		if n == 1 || n%100 == 0 {
			s.logger.Warn("consumer too slow, dropping events", slog.Uint64("dropped", n))
		}
	}
	return true
}

// send blocks until the consumer takes ev or ctx is cancelled.
func (s *stream[T]) send(ctx context.Context, out chan<- domain.StreamEvent[T], ev domain.StreamEvent[T]) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// pingLoop sends periodic pings to keep the connection alive.
func (s *stream[T]) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteWait)); err != nil {
				return
			}
		}
	}
}

// reconnect retries connect+subscribe with exponential backoff until it
// succeeds, the retry budget runs out, or ctx is cancelled. The
// subscription sent is always the one the channel was created with.
func (s *stream[T]) reconnect(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.Retry.InitialInterval
	b.MaxInterval = s.cfg.Retry.MaxInterval
	b.Multiplier = 2
	b.Reset()

	var lastErr error = domain.ErrWSDisconnect
	attempt := 0
	for s.cfg.Retry.MaxRetries < 0 || attempt < s.cfg.Retry.MaxRetries {
		attempt++

		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		conn, err := s.connect(ctx)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		s.setState(StateReconnecting)
		s.logger.Warn("reconnect failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("primary/ws: %s: %w after %d attempts: %w", s.name, domain.ErrRetriesExhausted, attempt, lastErr)
}
