package config

import "slices"

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Primary.Password)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Primary.Accounts = slices.Clone(cfg.Primary.Accounts)
	out.MarketData.Instruments = slices.Clone(cfg.MarketData.Instruments)
	out.MarketData.Entries = slices.Clone(cfg.MarketData.Entries)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
