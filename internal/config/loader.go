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

// envPrefix is prepended to every environment override key.
const envPrefix = "ARBENGINE_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBENGINE_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	cfg.Normalize()

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBENGINE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStringSlice(&cfg.Engine.Symbols, envPrefix+"ENGINE_SYMBOLS")
	setStringSlice(&cfg.Engine.QuoteCurrencies, envPrefix+"ENGINE_QUOTE_CURRENCIES")
	setDuration(&cfg.Engine.MaxQuoteAge, envPrefix+"ENGINE_MAX_QUOTE_AGE")
	setFloat64(&cfg.Engine.MaxSpreadAgeSeconds, envPrefix+"ENGINE_MAX_SPREAD_AGE_SECONDS")
	setInt(&cfg.Engine.ShardCount, envPrefix+"ENGINE_SHARD_COUNT")
	setInt(&cfg.Engine.SignalQueueSize, envPrefix+"ENGINE_SIGNAL_QUEUE_SIZE")
	setDuration(&cfg.Engine.QuoteRetention, envPrefix+"ENGINE_QUOTE_RETENTION")
	setStr(&cfg.Engine.LeaderLockKey, envPrefix+"ENGINE_LEADER_LOCK_KEY")

	// ── Arbitrage ──
	setFloat64(&cfg.Arbitrage.MinProfitThreshold, envPrefix+"ARBITRAGE_MIN_PROFIT_THRESHOLD")
	setFloat64(&cfg.Arbitrage.MaxPositionSize, envPrefix+"ARBITRAGE_MAX_POSITION_SIZE")
	setFloat64(&cfg.Arbitrage.SlippageTolerance, envPrefix+"ARBITRAGE_SLIPPAGE_TOLERANCE")
	setFloat64(&cfg.Arbitrage.MaxSpreadThreshold, envPrefix+"ARBITRAGE_MAX_SPREAD_THRESHOLD")
	setFloat64(&cfg.Arbitrage.DefaultTakerFee, envPrefix+"ARBITRAGE_DEFAULT_TAKER_FEE")
	setDuration(&cfg.Arbitrage.SignalCooldown, envPrefix+"ARBITRAGE_SIGNAL_COOLDOWN")
	setStr(&cfg.Arbitrage.TrendFilterMode, envPrefix+"ARBITRAGE_TREND_FILTER_MODE")
	setInt(&cfg.Arbitrage.MovingAveragePeriods, envPrefix+"ARBITRAGE_MOVING_AVERAGE_PERIODS")
	setFloat64(&cfg.Arbitrage.TrendConfirmationThreshold, envPrefix+"ARBITRAGE_TREND_CONFIRMATION_THRESHOLD")

	// ── Premium ──
	setBool(&cfg.Premium.Enabled, envPrefix+"PREMIUM_ENABLED")
	setInt(&cfg.Premium.LookbackPeriods, envPrefix+"PREMIUM_LOOKBACK_PERIODS")
	setInt(&cfg.Premium.MinSamples, envPrefix+"PREMIUM_MIN_SAMPLES")
	setFloat64(&cfg.Premium.OutlierThreshold, envPrefix+"PREMIUM_OUTLIER_THRESHOLD")

	// ── Risk ──
	setInt(&cfg.Risk.MaxConcurrentTrades, envPrefix+"RISK_MAX_CONCURRENT_TRADES")
	setFloat64(&cfg.Risk.MaxSymbolExposure, envPrefix+"RISK_MAX_SYMBOL_EXPOSURE")
	setFloat64(&cfg.Risk.MaxDrawdownPercent, envPrefix+"RISK_MAX_DRAWDOWN_PERCENT")
	setFloat64(&cfg.Risk.StopLossPercent, envPrefix+"RISK_STOP_LOSS_PERCENT")
	setFloat64(&cfg.Risk.BalanceThresholdPercent, envPrefix+"RISK_BALANCE_THRESHOLD_PERCENT")
	setInt(&cfg.Risk.MaxTradesPerHour, envPrefix+"RISK_MAX_TRADES_PER_HOUR")

	// ── Execution ──
	setDuration(&cfg.Execution.LegTimeout, envPrefix+"EXECUTION_LEG_TIMEOUT")
	setInt(&cfg.Execution.MaxRetries, envPrefix+"EXECUTION_MAX_RETRIES")
	setDuration(&cfg.Execution.DrainTimeout, envPrefix+"EXECUTION_DRAIN_TIMEOUT")
	setDuration(&cfg.Execution.MaxSignalAge, envPrefix+"EXECUTION_MAX_SIGNAL_AGE")

	// ── Venues ──
	for i := range cfg.Venues {
		applyVenueOverrides(&cfg.Venues[i])
	}

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, envPrefix+"POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, envPrefix+"POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, envPrefix+"POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, envPrefix+"POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, envPrefix+"POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, envPrefix+"POSTGRES_USER")
	setStr(&cfg.Postgres.Password, envPrefix+"POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, envPrefix+"POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, envPrefix+"POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, envPrefix+"POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, envPrefix+"POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, envPrefix+"REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, envPrefix+"REDIS_ADDR")
	setStr(&cfg.Redis.Password, envPrefix+"REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, envPrefix+"REDIS_DB")
	setInt(&cfg.Redis.PoolSize, envPrefix+"REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, envPrefix+"REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, envPrefix+"REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, envPrefix+"REDIS_KEY_PREFIX")
	setInt(&cfg.Redis.StreamMaxLen, envPrefix+"REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, envPrefix+"S3_ENABLED")
	setStr(&cfg.S3.Endpoint, envPrefix+"S3_ENDPOINT")
	setStr(&cfg.S3.Region, envPrefix+"S3_REGION")
	setStr(&cfg.S3.Bucket, envPrefix+"S3_BUCKET")
	setStr(&cfg.S3.AccessKey, envPrefix+"S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, envPrefix+"S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, envPrefix+"S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, envPrefix+"S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.KeyPrefix, envPrefix+"S3_KEY_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, envPrefix+"SERVER_ENABLED")
	setInt(&cfg.Server.Port, envPrefix+"SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, envPrefix+"SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, envPrefix+"SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, envPrefix+"SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, envPrefix+"NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, envPrefix+"NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, envPrefix+"NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, envPrefix+"NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Cooldown, envPrefix+"NOTIFY_COOLDOWN")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, envPrefix+"METRICS_ENABLED")

	// ── Top-level ──
	setStr(&cfg.Mode, envPrefix+"MODE")
	setStr(&cfg.LogLevel, envPrefix+"LOG_LEVEL")
}

// applyVenueOverrides injects per-venue credentials from
// ARBENGINE_VENUE_<NAME>_* variables.
func applyVenueOverrides(v *VenueConfig) {
	p := envPrefix + "VENUE_" + venueEnvName(v.Name) + "_"
	setBool(&v.Enabled, p+"ENABLED")
	setStr(&v.WSURL, p+"WS_URL")
	setStr(&v.RESTURL, p+"REST_URL")
	setStr(&v.APIKey, p+"API_KEY")
	setStr(&v.APISecret, p+"API_SECRET")
	setStr(&v.Passphrase, p+"PASSPHRASE")
	setStr(&v.EncryptedSecretPath, p+"ENCRYPTED_SECRET_PATH")
	setStr(&v.SecretPassword, p+"SECRET_PASSWORD")
	setFloat64(&v.TakerFee, p+"TAKER_FEE")
}

// venueEnvName upper-cases name and maps anything outside [A-Z0-9] to '_'.
func venueEnvName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(name))
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
