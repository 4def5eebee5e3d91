package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults, loads a .env file from
// the working directory when present and applies PRIMARY_* overrides. An
// empty path skips the file. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets deployments inject credentials without touching
// the TOML file. Unset or empty variables leave the field alone.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Primary.BaseURL, "PRIMARY_BASE_URL")
	setStr(&cfg.Primary.WSURL, "PRIMARY_WS_URL")
	setStr(&cfg.Primary.Username, "PRIMARY_USERNAME")
	setStr(&cfg.Primary.Password, "PRIMARY_PASSWORD")
	setStringSlice(&cfg.Primary.Accounts, "PRIMARY_ACCOUNTS")

	setStringSlice(&cfg.MarketData.Instruments, "PRIMARY_MARKET_DATA_INSTRUMENTS")
	setStringSlice(&cfg.MarketData.Entries, "PRIMARY_MARKET_DATA_ENTRIES")
	setInt(&cfg.MarketData.Level, "PRIMARY_MARKET_DATA_LEVEL")
	setInt(&cfg.MarketData.Depth, "PRIMARY_MARKET_DATA_DEPTH")

	setInt(&cfg.Stream.MaxRetries, "PRIMARY_STREAM_MAX_RETRIES")
	setDuration(&cfg.Stream.InitialBackoff, "PRIMARY_STREAM_INITIAL_BACKOFF")
	setDuration(&cfg.Stream.MaxBackoff, "PRIMARY_STREAM_MAX_BACKOFF")
	setInt(&cfg.Stream.BufferSize, "PRIMARY_STREAM_BUFFER_SIZE")
	setStr(&cfg.Stream.Overflow, "PRIMARY_STREAM_OVERFLOW")

	setStr(&cfg.Cache.Backend, "PRIMARY_CACHE_BACKEND")
	setStr(&cfg.Cache.Dir, "PRIMARY_CACHE_DIR")
	setInt(&cfg.Cache.TTLDays, "PRIMARY_CACHE_TTL_DAYS")

	setBool(&cfg.Postgres.Enabled, "PRIMARY_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "PRIMARY_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PRIMARY_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PRIMARY_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PRIMARY_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PRIMARY_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PRIMARY_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PRIMARY_POSTGRES_SSL_MODE")

	setBool(&cfg.Redis.Enabled, "PRIMARY_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PRIMARY_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PRIMARY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PRIMARY_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "PRIMARY_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "PRIMARY_REDIS_KEY_PREFIX")

	setStr(&cfg.S3.Endpoint, "PRIMARY_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PRIMARY_S3_REGION")
	setStr(&cfg.S3.Bucket, "PRIMARY_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PRIMARY_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PRIMARY_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "PRIMARY_S3_FORCE_PATH_STYLE")

	setBool(&cfg.Server.Enabled, "PRIMARY_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PRIMARY_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "PRIMARY_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "PRIMARY_SERVER_CORS_ORIGINS")

	setStr(&cfg.Notify.TelegramToken, "PRIMARY_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PRIMARY_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PRIMARY_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PRIMARY_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "PRIMARY_MODE")
	setStr(&cfg.LogLevel, "PRIMARY_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
