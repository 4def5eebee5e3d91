// Package config defines the configuration of the Primary trading client and
// its validation rules.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/paa-listas/primary-go/internal/domain"
)

// Config is the root configuration. Fields come from a TOML file and may be
// overridden by PRIMARY_* environment variables.
type Config struct {
	Primary    PrimaryConfig    `toml:"primary"`
	MarketData MarketDataConfig `toml:"market_data"`
	Stream     StreamConfig     `toml:"stream"`
	Cache      CacheConfig      `toml:"cache"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PrimaryConfig holds the API endpoints and credentials.
type PrimaryConfig struct {
	BaseURL  string   `toml:"base_url"`
	WSURL    string   `toml:"ws_url"` // derived from base_url when empty
	Username string   `toml:"username"`
	Password string   `toml:"password"`
	Accounts []string `toml:"accounts"`
}

// MarketDataConfig is the market data subscription.
type MarketDataConfig struct {
	Instruments []string `toml:"instruments"` // MARKET:SYMBOL
	Entries     []string `toml:"entries"`
	Level       int      `toml:"level"`
	Depth       int      `toml:"depth"`
}

// StreamConfig tunes both streaming channels.
type StreamConfig struct {
	MaxRetries         int      `toml:"max_retries"` // < 0 retries forever
	InitialBackoff     duration `toml:"initial_backoff"`
	MaxBackoff         duration `toml:"max_backoff"`
	BufferSize         int      `toml:"buffer_size"`
	Overflow           string   `toml:"overflow"` // block | drop
	PongWait           duration `toml:"pong_wait"`
	HandshakeTimeout   duration `toml:"handshake_timeout"`
	SnapshotOnlyActive bool     `toml:"snapshot_only_active"`
}

// CacheConfig selects where the instrument catalog is cached.
type CacheConfig struct {
	Backend string `toml:"backend"` // file | s3
	Dir     string `toml:"dir"`
	Key     string `toml:"key"`
	TTLDays int    `toml:"ttl_days"`
}

// PostgresConfig holds the order timeline database.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the mirror / bus connection.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	BookTTL      duration `toml:"book_ttl"`
	TradeLockTTL duration `toml:"trade_lock_ttl"`
}

// S3Config holds the S3-compatible bucket used when cache.backend = "s3".
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"` // requests per client per minute, 0 disables
}

// NotifyConfig holds chat webhook credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration decodes TOML strings such as "5s" or "2m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Run modes.
const (
	ModeStream = "stream"
	ModeTrade  = "trade"
	ModeFull   = "full"
)

var (
	validModes     = []string{ModeStream, ModeTrade, ModeFull}
	validLogLevels = []string{"debug", "info", "warn", "error"}
)

// Defaults returns a Config pointing at the reMarkets sandbox.
func Defaults() Config {
	return Config{
		Primary: PrimaryConfig{
			BaseURL: "https://api.remarkets.primary.com.ar",
		},
		MarketData: MarketDataConfig{
			Entries: []string{"BI", "OF", "LA"},
			Level:   1,
			Depth:   5,
		},
		Stream: StreamConfig{
			MaxRetries:         10,
			InitialBackoff:     duration{2 * time.Second},
			MaxBackoff:         duration{60 * time.Second},
			BufferSize:         256,
			Overflow:           "block",
			PongWait:           duration{60 * time.Second},
			HandshakeTimeout:   duration{15 * time.Second},
			SnapshotOnlyActive: true,
		},
		Cache: CacheConfig{
			Backend: "file",
			Key:     "instruments.json",
			TTLDays: 1,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "primary",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			KeyPrefix:    "primary:",
			BookTTL:      duration{10 * time.Minute},
			TradeLockTTL: duration{30 * time.Second},
		},
		S3: S3Config{
			Region: "us-east-1",
			UseSSL: true,
		},
		Server: ServerConfig{
			Enabled:   true,
			Port:      8080,
			RateLimit: 120,
		},
		Mode:     ModeFull,
		LogLevel: "info",
	}
}

// NeedsMarketData reports whether the mode opens the market data channel.
func (c *Config) NeedsMarketData() bool {
	return c.Mode == ModeStream || c.Mode == ModeFull
}

// NeedsTrading reports whether the mode runs the order side.
func (c *Config) NeedsTrading() bool {
	return c.Mode == ModeTrade || c.Mode == ModeFull
}

// Subscription turns the market_data section into a descriptor.
func (c *Config) Subscription() (domain.MarketDataSubscription, error) {
	sub := domain.MarketDataSubscription{
		Level: c.MarketData.Level,
		Depth: c.MarketData.Depth,
	}
	for _, s := range c.MarketData.Instruments {
		id, err := domain.ParseInstrumentID(s)
		if err != nil {
			return sub, err
		}
		sub.Instruments = append(sub.Instruments, id)
	}
	for _, e := range c.MarketData.Entries {
		sub.Entries = append(sub.Entries, domain.MarketDataEntry(strings.ToUpper(strings.TrimSpace(e))))
	}
	return sub, sub.Validate()
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	c.Mode = strings.ToLower(c.Mode)
	if !slices.Contains(validModes, c.Mode) {
		add("unknown mode %q (valid: %s)", c.Mode, strings.Join(validModes, ", "))
	}
	if !slices.Contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		add("unknown log_level %q (valid: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if u, err := url.Parse(c.Primary.BaseURL); err != nil || u.Host == "" {
		add("primary: base_url %q is not an absolute URL", c.Primary.BaseURL)
	}
	if c.Primary.WSURL != "" {
		if u, err := url.Parse(c.Primary.WSURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			add("primary: ws_url %q must use ws:// or wss://", c.Primary.WSURL)
		}
	}
	if c.Primary.Username == "" || c.Primary.Password == "" {
		add("primary: username and password are required")
	}
	if c.NeedsTrading() && len(c.Primary.Accounts) == 0 {
		add("primary: accounts must not be empty for mode %s", c.Mode)
	}

	if c.NeedsMarketData() {
		if _, err := c.Subscription(); err != nil {
			add("market_data: %w", err)
		}
	}

	if c.Stream.BufferSize < 1 {
		add("stream: buffer_size must be >= 1")
	}
	if c.Stream.Overflow != "block" && c.Stream.Overflow != "drop" {
		add("stream: overflow must be block or drop, got %q", c.Stream.Overflow)
	}
	if c.Stream.InitialBackoff.Duration <= 0 || c.Stream.MaxBackoff.Duration < c.Stream.InitialBackoff.Duration {
		add("stream: need 0 < initial_backoff <= max_backoff")
	}

	switch c.Cache.Backend {
	case "file":
	case "s3":
		if c.S3.Bucket == "" {
			add("s3: bucket is required when cache.backend = s3")
		}
	default:
		add("cache: backend must be file or s3, got %q", c.Cache.Backend)
	}
	if c.Cache.TTLDays < 1 {
		add("cache: ttl_days must be >= 1")
	}
	if c.Cache.Key == "" {
		add("cache: key must not be empty")
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" && c.Postgres.Host == "" {
			add("postgres: host or dsn is required")
		}
		if c.Postgres.PoolMaxConns < 1 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: need 0 <= pool_min_conns <= pool_max_conns, pool_max_conns >= 1")
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		add("redis: addr must not be empty")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
