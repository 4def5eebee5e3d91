package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	fileblob "github.com/paa-listas/primary-go/internal/blob/file"
	s3blob "github.com/paa-listas/primary-go/internal/blob/s3"
	"github.com/paa-listas/primary-go/internal/cache/redis"
	"github.com/paa-listas/primary-go/internal/config"
	"github.com/paa-listas/primary-go/internal/domain"
	"github.com/paa-listas/primary-go/internal/notify"
	"github.com/paa-listas/primary-go/internal/platform/primary"
	"github.com/paa-listas/primary-go/internal/server/handler"
	"github.com/paa-listas/primary-go/internal/service"
	"github.com/paa-listas/primary-go/internal/store/postgres"
)

const logoutTimeout = 5 * time.Second

// Dependencies bundles what the modes need. Infrastructure fields are nil
// when the matching section is disabled.
type Dependencies struct {
	Session     *primary.Session
	Client      *primary.Client
	Instruments *service.InstrumentService

	// Postgres
	OrderStore domain.OrderStore

	// Redis
	BookCache   domain.OrderbookCache
	PriceCache  domain.PriceCache
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	Notifier *notify.Notifier

	// Probes are the dependency checks reported by /api/health.
	Probes map[string]handler.Probe
}

// Wire logs in and builds every dependency enabled by cfg. The returned
// cleanup releases them in reverse order and logs out.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Probes: make(map[string]handler.Probe)}

	// --- Primary session ---
	session := primary.NewSession(cfg.Primary.BaseURL, cfg.Primary.WSURL, logger)
	if err := session.Login(ctx, cfg.Primary.Username, cfg.Primary.Password); err != nil {
		return nil, nil, fmt.Errorf("wire: login: %w", err)
	}
	closers = append(closers, func() {
		lctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
		defer cancel()
		if err := session.Logout(lctx); err != nil {
			logger.Warn("logout failed", slog.String("error", err.Error()))
		}
	})
	deps.Session = session
	deps.Client = primary.NewClient(session, logger)

	// --- Instrument cache blob ---
	var (
		reader domain.BlobReader
		writer domain.BlobWriter
	)
	switch cfg.Cache.Backend {
	case "s3":
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		store := s3blob.NewStore(s3Client)
		reader, writer = store, store
		deps.Probes["s3"] = s3Client.Health
	default:
		dir := cfg.Cache.Dir
		if dir == "" {
			dir = fileblob.DefaultDir()
		}
		store, err := fileblob.New(dir)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: cache dir: %w", err)
		}
		reader, writer = store, store
	}
	deps.Instruments = service.NewInstrumentService(deps.Client, reader, writer, cfg.Cache.TTLDays, logger).
		WithKey(cfg.Cache.Key)

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.OrderStore = postgres.NewOrderStore(pgClient.Pool())
		deps.Probes["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.BookCache = redis.NewOrderbookCache(redisClient, cfg.Redis.BookTTL.Duration)
		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Probes["redis"] = redisClient.Ping
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
