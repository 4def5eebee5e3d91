// Package server exposes the order coordinator, market data snapshots and
// the REST passthroughs over a small JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/paa-listas/primary-go/internal/domain"
	"github.com/paa-listas/primary-go/internal/server/handler"
	"github.com/paa-listas/primary-go/internal/server/middleware"
	"github.com/paa-listas/primary-go/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
	RateLimit   int    // requests per client per minute, 0 disables
}

// Handlers aggregates the endpoint groups. Nil groups are not routed.
type Handlers struct {
	Health   *handler.HealthHandler
	Markets  *handler.MarketHandler
	Orders   *handler.OrderHandler
	Accounts *handler.AccountHandler
	Events   *ws.EventStream
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers the routes and builds the middleware chain. limiter
// may be nil.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	if h := handlers.Health; h != nil {
		mux.HandleFunc("GET /api/health", h.HealthCheck)
		mux.HandleFunc("GET /api/status", h.Status)
	}
	if h := handlers.Markets; h != nil {
		mux.HandleFunc("GET /api/instruments", h.ListInstruments)
		mux.HandleFunc("GET /api/instruments/{market}/{symbol...}", h.GetInstrument)
		mux.HandleFunc("GET /api/marketdata", h.ListSnapshots)
		mux.HandleFunc("GET /api/marketdata/{market}/{symbol...}", h.GetSnapshot)
	}
	if h := handlers.Accounts; h != nil {
		mux.HandleFunc("GET /api/accounts/{id}", h.GetAccount)
		mux.HandleFunc("GET /api/trades", h.ListTrades)
	}
	if h := handlers.Orders; h != nil {
		mux.HandleFunc("GET /api/orders", h.ListOrders)
		mux.HandleFunc("POST /api/orders", h.SubmitOrder)
		mux.HandleFunc("GET /api/orders/{clOrdId}/{proprietary}", h.GetOrder)
		mux.HandleFunc("PUT /api/orders/{clOrdId}/{proprietary}", h.ReplaceOrder)
		mux.HandleFunc("DELETE /api/orders/{clOrdId}/{proprietary}", h.CancelOrder)
	}
	if e := handlers.Events; e != nil {
		mux.HandleFunc("GET /api/events", e.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
