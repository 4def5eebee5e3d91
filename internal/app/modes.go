package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paa-listas/primary-go/internal/config"
	"github.com/paa-listas/primary-go/internal/domain"
	"github.com/paa-listas/primary-go/internal/platform/primary"
	"github.com/paa-listas/primary-go/internal/server"
	"github.com/paa-listas/primary-go/internal/server/handler"
	"github.com/paa-listas/primary-go/internal/server/ws"
	"github.com/paa-listas/primary-go/internal/service"
)

const (
	shutdownTimeout     = 5 * time.Second
	defaultTradeLockTTL = 30 * time.Second
)

// trading is the order side of a running mode.
type trading struct {
	coordinator *service.OrderCoordinator
	channel     *primary.OrderDataChannel
}

// StreamMode opens the market data channel, mirrors it into the caches and
// serves snapshots over HTTP.
func (a *App) StreamMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting stream mode")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	md, err := a.startMarketData(ctx, g, deps)
	if err != nil {
		return err
	}
	a.warmInstruments(ctx, deps)
	a.startHTTPServer(ctx, g, deps, md, nil)

	return g.Wait()
}

// TradeMode runs the order coordinator over the order channel for the
// configured accounts.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode", slog.Any("accounts", a.cfg.Primary.Accounts))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	tr, err := a.startTrading(ctx, g, deps)
	if err != nil {
		return err
	}
	a.startHTTPServer(ctx, g, deps, nil, tr)

	return g.Wait()
}

// FullMode runs market data and trading in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	tr, err := a.startTrading(ctx, g, deps)
	if err != nil {
		return err
	}
	md, err := a.startMarketData(ctx, g, deps)
	if err != nil {
		return err
	}
	a.warmInstruments(ctx, deps)
	a.startHTTPServer(ctx, g, deps, md, tr)

	return g.Wait()
}

// streamConfig maps the [stream] section onto the channel settings.
func streamConfig(cfg *config.Config) primary.StreamConfig {
	sc := primary.DefaultStreamConfig()
	sc.Retry = primary.RetryPolicy{
		MaxRetries:      cfg.Stream.MaxRetries,
		InitialInterval: cfg.Stream.InitialBackoff.Duration,
		MaxInterval:     cfg.Stream.MaxBackoff.Duration,
	}
	if cfg.Stream.PongWait.Duration > 0 {
		sc.PongWait = cfg.Stream.PongWait.Duration
	}
	if cfg.Stream.HandshakeTimeout.Duration > 0 {
		sc.HandshakeTimeout = cfg.Stream.HandshakeTimeout.Duration
	}
	sc.BufferSize = cfg.Stream.BufferSize
	sc.Overflow = primary.OverflowPolicy(cfg.Stream.Overflow)
	return sc
}

// tradeLockKey names the lock that keeps a second process off the same
// accounts. Account order does not matter.
func tradeLockKey(accounts []string) string {
	sorted := slices.Clone(accounts)
	slices.Sort(sorted)
	return "lock:trade:" + strings.Join(sorted, ",")
}

func (a *App) startMarketData(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*primary.MarketDataChannel, error) {
	desc, err := a.cfg.Subscription()
	if err != nil {
		return nil, fmt.Errorf("app: market data subscription: %w", err)
	}
	md, err := primary.NewMarketDataChannel(deps.Session, desc, streamConfig(a.cfg), a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: market data channel: %w", err)
	}
	events, err := md.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: open market data channel: %w", err)
	}
	a.logger.InfoContext(ctx, "market data channel open",
		slog.Int("instruments", len(desc.Instruments)),
		slog.Int("depth", desc.Depth),
	)

	mirror := service.NewMarketDataService(deps.BookCache, deps.PriceCache, deps.SignalBus, a.logger)
	g.Go(func() error {
		return mirror.Consume(ctx, events)
	})
	return md, nil
}

func (a *App) startTrading(ctx context.Context, g *errgroup.Group, deps *Dependencies) (tr *trading, err error) {
	accounts := a.cfg.Primary.Accounts

	var (
		lock domain.Lock
		ttl  time.Duration
	)
	if deps.LockManager != nil {
		ttl = a.cfg.Redis.TradeLockTTL.Duration
		if ttl <= 0 {
			ttl = defaultTradeLockTTL
		}
		lock, err = deps.LockManager.Acquire(ctx, tradeLockKey(accounts), ttl)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return nil, fmt.Errorf("app: accounts %v are traded by another process: %w", accounts, err)
			}
			return nil, fmt.Errorf("app: acquire trade lock: %w", err)
		}
		// Until holdLock owns it, a failed start must give the lock back.
		defer func() {
			if err != nil {
				lock.Release()
			}
		}()
	}

	coord := service.NewOrderCoordinator(deps.Client, a.logger)
	if deps.OrderStore != nil {
		coord.WithStore(deps.OrderStore)
	}
	if deps.SignalBus != nil {
		coord.WithBus(deps.SignalBus)
	}
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		coord.WithNotifier(deps.Notifier)
	}

	for _, account := range accounts {
		n, err := coord.Restore(ctx, account)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			a.logger.InfoContext(ctx, "restored open orders", slog.String("account", account), slog.Int("orders", n))
		}
	}

	ch, err := primary.NewOrderDataChannel(deps.Session, domain.OrderSubscription{
		Accounts:           accounts,
		SnapshotOnlyActive: a.cfg.Stream.SnapshotOnlyActive,
	}, streamConfig(a.cfg), a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: order channel: %w", err)
	}
	events, err := ch.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: open order channel: %w", err)
	}

	// Restored orders may have moved while nothing was listening.
	if coord.Stats().Open > 0 {
		if err := coord.Resync(ctx); err != nil {
			a.logger.WarnContext(ctx, "initial resync incomplete", slog.String("error", err.Error()))
		}
	}

	if lock != nil {
		g.Go(func() error {
			return holdLock(ctx, lock, ttl)
		})
	}
	g.Go(func() error {
		return coord.Consume(ctx, events)
	})
	return &trading{coordinator: coord, channel: ch}, nil
}

// holdLock refreshes lock until ctx ends and releases it on the way out.
func holdLock(ctx context.Context, lock domain.Lock, ttl time.Duration) error {
	defer lock.Release()

	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := lock.Refresh(ctx); err != nil {
				return fmt.Errorf("app: trade lock lost: %w", err)
			}
		}
	}
}

// warmInstruments loads the instrument catalog once so the first HTTP
// request does not pay for the download.
func (a *App) warmInstruments(ctx context.Context, deps *Dependencies) {
	list, err := deps.Instruments.List(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "instrument catalog unavailable", slog.String("error", err.Error()))
		return
	}
	a.logger.InfoContext(ctx, "instrument catalog loaded", slog.Int("instruments", len(list)))
}

// startHTTPServer routes the endpoint groups that make sense for the
// running channels. md and tr may be nil.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	md *primary.MarketDataChannel,
	tr *trading,
) {
	if !a.cfg.Server.Enabled {
		return
	}

	health := handler.NewHealthHandler(a.logger).
		WithStatus("mode", func() any { return a.cfg.Mode })
	for name, probe := range deps.Probes {
		health.WithProbe(name, probe)
	}

	handlers := server.Handlers{
		Health:   health,
		Accounts: handler.NewAccountHandler(deps.Client, a.logger),
	}
	if md != nil {
		health.WithStatus("marketData", func() any { return md.Stats() })
		handlers.Markets = handler.NewMarketHandler(deps.Instruments, md, a.logger)
	} else {
		handlers.Markets = handler.NewMarketHandler(deps.Instruments, nil, a.logger)
	}
	if tr != nil {
		health.WithStatus("orderData", func() any { return tr.channel.Stats() })
		health.WithStatus("orders", func() any { return tr.coordinator.Stats() })
		var defaultAccount string
		if len(a.cfg.Primary.Accounts) > 0 {
			defaultAccount = a.cfg.Primary.Accounts[0]
		}
		handlers.Orders = handler.NewOrderHandler(tr.coordinator, defaultAccount, a.logger)
	}

	if deps.SignalBus != nil {
		handlers.Events = ws.NewEventStream(ctx, deps.SignalBus, nil, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
