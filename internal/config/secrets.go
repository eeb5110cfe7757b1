package config

import "maps"

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Venues
	if cfg.Venues != nil {
		out.Venues = make([]VenueConfig, len(cfg.Venues))
		for i, v := range cfg.Venues {
			redact(&v.APIKey)
			redact(&v.APISecret)
			redact(&v.Passphrase)
			redact(&v.SecretPassword)
			v.InitialBalances = maps.Clone(v.InitialBalances)
			v.StartPrices = maps.Clone(v.StartPrices)
			out.Venues[i] = v
		}
	}

	// Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	redact(&out.Server.APIKey)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Engine.Symbols = cloneStrings(cfg.Engine.Symbols)
	out.Engine.QuoteCurrencies = cloneStrings(cfg.Engine.QuoteCurrencies)
	out.Notify.Events = cloneStrings(cfg.Notify.Events)
	out.Server.CORSOrigins = cloneStrings(cfg.Server.CORSOrigins)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
