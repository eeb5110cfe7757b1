// Package config defines the engine configuration and provides validation
// helpers.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBENGINE_* environment variables.
type Config struct {
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
	Engine    EngineConfig    `toml:"engine"`
	Arbitrage ArbitrageConfig `toml:"arbitrage"`
	Premium   PremiumConfig   `toml:"premium"`
	Risk      RiskConfig      `toml:"risk"`
	Execution ExecutionConfig `toml:"execution"`
	Venues    []VenueConfig   `toml:"venues"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// EngineConfig holds the symbol universe and pipeline sizing.
type EngineConfig struct {
	Symbols         []string `toml:"symbols"`
	QuoteCurrencies []string `toml:"quote_currencies"`
	// MaxQuoteAge excludes older quotes from detection.
	MaxQuoteAge duration `toml:"max_quote_age"`
	// MaxSpreadAgeSeconds is an alias for MaxQuoteAge in seconds. When set
	// it takes precedence.
	MaxSpreadAgeSeconds float64 `toml:"max_spread_age_seconds"`

	ShardCount         int      `toml:"shard_count"`
	SignalQueueSize    int      `toml:"signal_queue_size"`
	QuoteBatchSize     int      `toml:"quote_batch_size"`
	QuoteBatchInterval duration `toml:"quote_batch_interval"`
	CleanupInterval    duration `toml:"cleanup_interval"`
	TelemetryBuffer    int      `toml:"telemetry_buffer"`
	// QuoteRetention prunes persisted quotes older than this. Zero keeps them.
	QuoteRetention duration `toml:"quote_retention"`
	LeaderLockKey  string   `toml:"leader_lock_key"`
	LeaderLockTTL  duration `toml:"leader_lock_ttl"`
}

// ArbitrageConfig holds detection thresholds. Prices, fees and thresholds
// are fractions (0.001 = 0.1%).
type ArbitrageConfig struct {
	MinProfitThreshold         float64  `toml:"min_profit_threshold"`
	MaxPositionSize            float64  `toml:"max_position_size"`
	SlippageTolerance          float64  `toml:"slippage_tolerance"`
	MaxSpreadThreshold         float64  `toml:"max_spread_threshold"`
	LiquidityFractionCap       float64  `toml:"liquidity_fraction_cap"`
	MinTradeSize               float64  `toml:"min_trade_size"`
	DefaultTakerFee            float64  `toml:"default_taker_fee"`
	SignalCooldown             duration `toml:"signal_cooldown"`
	TrendFilterMode            string   `toml:"trend_filter_mode"`
	MovingAveragePeriods       int      `toml:"moving_average_periods"`
	TrendConfirmationThreshold float64  `toml:"trend_confirmation_threshold"`
	TrendMinSamples            int      `toml:"trend_min_samples"`
}

// PremiumConfig holds the spread-baseline filter settings.
type PremiumConfig struct {
	Enabled          bool    `toml:"enabled"`
	LookbackPeriods  int     `toml:"lookback_periods"`
	MinSamples       int     `toml:"min_samples"`
	OutlierThreshold float64 `toml:"outlier_threshold"`
}

// RiskConfig holds capacity and loss limits. *_percent fields are percents
// (5.0 = 5%).
type RiskConfig struct {
	MaxConcurrentTrades     int      `toml:"max_concurrent_trades"`
	MaxSymbolExposure       float64  `toml:"max_symbol_exposure"`
	MaxDrawdownPercent      float64  `toml:"max_drawdown_percent"`
	DrawdownRecoveryPercent float64  `toml:"drawdown_recovery_percent"`
	StopLossPercent         float64  `toml:"stop_loss_percent"`
	BalanceThresholdPercent float64  `toml:"balance_threshold_percent"`
	MaxTradesPerHour        int      `toml:"max_trades_per_hour"`
	BalanceRefreshInterval  duration `toml:"balance_refresh_interval"`
}

// ExecutionConfig holds leg timing and retry settings.
type ExecutionConfig struct {
	LegTimeout    duration `toml:"leg_timeout"`
	MaxRetries    int      `toml:"max_retries"`
	RetryBackoff  duration `toml:"retry_backoff"`
	FillTolerance float64  `toml:"fill_tolerance"`
	UnwindTimeout duration `toml:"unwind_timeout"`
	DrainTimeout  duration `toml:"drain_timeout"`
	// MaxSignalAge discards queued signals older than this. Unset, it
	// follows engine.max_quote_age.
	MaxSignalAge duration `toml:"max_signal_age"`
}

// VenueConfig describes one exchange connection.
type VenueConfig struct {
	Name    string `toml:"name"`
	Kind    string `toml:"kind"`
	Enabled bool   `toml:"enabled"`

	WSURL         string `toml:"ws_url"`
	RESTURL       string `toml:"rest_url"`
	APIKey        string `toml:"api_key"`
	APISecret     string `toml:"api_secret"`
	Passphrase    string `toml:"passphrase"`
	PriceDecimals int32  `toml:"price_decimals"`
	SizeDecimals  int32  `toml:"size_decimals"`
	// EncryptedSecretPath replaces api_secret with a file decrypted by
	// secret_password.
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`

	TakerFee        float64  `toml:"taker_fee"`
	PremiumBaseline float64  `toml:"premium_baseline"`
	BreakerFailures int      `toml:"breaker_failures"`
	BreakerCooldown duration `toml:"breaker_cooldown"`

	// Paper venue settings.
	InitialBalances map[string]float64 `toml:"initial_balances"`
	FillMode        string             `toml:"fill_mode"`
	StartPrices     map[string]float64 `toml:"start_prices"`
	SpreadBps       float64            `toml:"spread_bps"`
	TickInterval    duration           `toml:"tick_interval"`
	Latency         duration           `toml:"latency"`
}

// Venue kinds.
const (
	VenueKindPaper = "paper"
	VenueKindWS    = "ws"
)

// PostgresConfig holds PostgreSQL connection parameters.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	QuoteTTL     duration `toml:"quote_ttl"`
	StreamMaxLen int      `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled              bool     `toml:"enabled"`
	Endpoint             string   `toml:"endpoint"`
	Region               string   `toml:"region"`
	Bucket               string   `toml:"bucket"`
	AccessKey            string   `toml:"access_key"`
	SecretKey            string   `toml:"secret_key"`
	UseSSL               bool     `toml:"use_ssl"`
	ForcePathStyle       bool     `toml:"force_path_style"`
	KeyPrefix            string   `toml:"key_prefix"`
	ArchiveMaxRows       int      `toml:"archive_max_rows"`
	ArchiveFlushInterval duration `toml:"archive_flush_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects POST endpoints; without it they are disabled.
	APIKey     string   `toml:"api_key"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// Cooldown suppresses repeats of the same event and title.
	Cooldown          duration `toml:"cooldown"`
}

// MetricsConfig toggles the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Mode:     ModePaper,
		LogLevel: "info",
		Engine: EngineConfig{
			Symbols:            []string{"BTCUSDT", "ETHUSDT"},
			QuoteCurrencies:    []string{"USDT", "USDC", "BUSD", "USD", "BTC", "ETH", "BNB"},
			MaxQuoteAge:        duration{5 * time.Second},
			ShardCount:         32,
			SignalQueueSize:    256,
			QuoteBatchSize:     500,
			QuoteBatchInterval: duration{time.Second},
			CleanupInterval:    duration{30 * time.Second},
			TelemetryBuffer:    4096,
			LeaderLockKey:      "engine:leader",
			LeaderLockTTL:      duration{15 * time.Second},
		},
		Arbitrage: ArbitrageConfig{
			MinProfitThreshold:         0.001,
			MaxPositionSize:            1000,
			SlippageTolerance:          0.001,
			MaxSpreadThreshold:         0.02,
			LiquidityFractionCap:       0.5,
			MinTradeSize:               10,
			DefaultTakerFee:            0.001,
			SignalCooldown:             duration{60 * time.Second},
			TrendFilterMode:            string(domain.TrendUptrendBuyLow),
			MovingAveragePeriods:       30,
			TrendConfirmationThreshold: 0.001,
			TrendMinSamples:            5,
		},
		Premium: PremiumConfig{
			Enabled:          true,
			LookbackPeriods:  100,
			MinSamples:       50,
			OutlierThreshold: 2.0,
		},
		Risk: RiskConfig{
			MaxConcurrentTrades:     3,
			MaxSymbolExposure:       2000,
			MaxDrawdownPercent:      5,
			DrawdownRecoveryPercent: 2.5,
			StopLossPercent:         2,
			BalanceThresholdPercent: 10,
			MaxTradesPerHour:        50,
			BalanceRefreshInterval:  duration{30 * time.Second},
		},
		Execution: ExecutionConfig{
			LegTimeout:    duration{5 * time.Second},
			MaxRetries:    2,
			RetryBackoff:  duration{100 * time.Millisecond},
			FillTolerance: 0.001,
			UnwindTimeout: duration{10 * time.Second},
			DrainTimeout:  duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbengine",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "arb:",
			QuoteTTL:     duration{time.Minute},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:             "http://localhost:9000",
			Region:               "us-east-1",
			Bucket:               "arbengine-data",
			ForcePathStyle:       true,
			ArchiveMaxRows:       50_000,
			ArchiveFlushInterval: duration{5 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:   []string{"trade_failed", "unwound", "trading_halted", "halt_cleared"},
			Cooldown: duration{time.Minute},
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Venue defaults applied by Normalize to every [[venues]] entry.
const (
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
	defaultPriceDecimals   = 8
	defaultSizeDecimals    = 8
)

// Normalize fills per-venue defaults and canonicalizes symbols. Load calls
// it after decoding.
func (c *Config) Normalize() {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	for i, s := range c.Engine.Symbols {
		c.Engine.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	for i, q := range c.Engine.QuoteCurrencies {
		c.Engine.QuoteCurrencies[i] = strings.ToUpper(strings.TrimSpace(q))
	}
	if c.Engine.MaxSpreadAgeSeconds > 0 {
		c.Engine.MaxQuoteAge.Duration = time.Duration(c.Engine.MaxSpreadAgeSeconds * float64(time.Second))
	}
	if c.Execution.MaxSignalAge.Duration == 0 {
		c.Execution.MaxSignalAge = c.Engine.MaxQuoteAge
	}
	for i := range c.Venues {
		v := &c.Venues[i]
		v.Name = strings.TrimSpace(v.Name)
		v.Kind = strings.ToLower(strings.TrimSpace(v.Kind))
		if v.Kind == "" {
			v.Kind = VenueKindWS
		}
		if v.TakerFee == 0 {
			v.TakerFee = c.Arbitrage.DefaultTakerFee
		}
		if v.BreakerFailures == 0 {
			v.BreakerFailures = defaultBreakerFailures
		}
		if v.BreakerCooldown.Duration == 0 {
			v.BreakerCooldown.Duration = defaultBreakerCooldown
		}
		if v.PriceDecimals == 0 {
			v.PriceDecimals = defaultPriceDecimals
		}
		if v.SizeDecimals == 0 {
			v.SizeDecimals = defaultSizeDecimals
		}
	}
}

// EnabledVenues returns the venues with enabled = true.
func (c *Config) EnabledVenues() []VenueConfig {
	out := make([]VenueConfig, 0, len(c.Venues))
	for _, v := range c.Venues {
		if v.Enabled {
			out = append(out, v)
		}
	}
	return out
}

// Operating modes.
const (
	// ModeLive trades real balances.
	ModeLive = "live"
	// ModePaper runs the full pipeline against simulated fills.
	ModePaper = "paper"
	// ModeMonitor detects and records signals without executing.
	ModeMonitor = "monitor"
)

var validModes = map[string]bool{
	ModeLive:    true,
	ModePaper:   true,
	ModeMonitor: true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// every problem found joined into one error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: live, paper, monitor)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Engine
	if len(c.Engine.Symbols) == 0 {
		add("engine: symbols must not be empty")
	}
	if len(c.Engine.QuoteCurrencies) == 0 {
		add("engine: quote_currencies must not be empty")
	}
	for _, s := range c.Engine.Symbols {
		if _, _, ok := domain.SplitSymbol(s, c.Engine.QuoteCurrencies); !ok {
			add("engine: symbol %q does not end in a configured quote currency", s)
		}
	}
	if c.Engine.MaxQuoteAge.Duration <= 0 {
		add("engine: max_quote_age must be > 0")
	}
	if c.Engine.MaxSpreadAgeSeconds < 0 {
		add("engine: max_spread_age_seconds must be >= 0")
	}
	if c.Engine.SignalQueueSize < 1 {
		add("engine: signal_queue_size must be >= 1")
	}
	if c.Engine.QuoteBatchSize < 1 {
		add("engine: quote_batch_size must be >= 1")
	}

	// Arbitrage
	if c.Arbitrage.MinProfitThreshold <= 0 {
		add("arbitrage: min_profit_threshold must be > 0")
	}
	if c.Arbitrage.MaxPositionSize <= 0 {
		add("arbitrage: max_position_size must be > 0")
	}
	if c.Arbitrage.SlippageTolerance < 0 {
		add("arbitrage: slippage_tolerance must be >= 0")
	}
	if c.Arbitrage.MaxSpreadThreshold < 0 {
		add("arbitrage: max_spread_threshold must be >= 0")
	}
	if c.Arbitrage.LiquidityFractionCap <= 0 || c.Arbitrage.LiquidityFractionCap > 1 {
		add("arbitrage: liquidity_fraction_cap must be in (0, 1]")
	}
	if c.Arbitrage.DefaultTakerFee < 0 || c.Arbitrage.DefaultTakerFee >= 1 {
		add("arbitrage: default_taker_fee must be in [0, 1)")
	}
	if _, err := domain.ParseTrendMode(c.Arbitrage.TrendFilterMode); err != nil {
		add("arbitrage: %w", err)
	}
	if c.Arbitrage.MovingAveragePeriods < 1 {
		add("arbitrage: moving_average_periods must be >= 1")
	}
	if c.Arbitrage.TrendMinSamples < 2 {
		add("arbitrage: trend_min_samples must be >= 2")
	}

	// Premium
	if c.Premium.Enabled {
		if c.Premium.LookbackPeriods < 2 {
			add("premium: lookback_periods must be >= 2")
		}
		if c.Premium.MinSamples > c.Premium.LookbackPeriods {
			add("premium: min_samples must not exceed lookback_periods")
		}
		if c.Premium.OutlierThreshold <= 0 {
			add("premium: outlier_threshold must be > 0")
		}
	}

	// Risk
	if c.Risk.MaxConcurrentTrades < 1 {
		add("risk: max_concurrent_trades must be >= 1")
	}
	if c.Risk.MaxDrawdownPercent < 0 || c.Risk.MaxDrawdownPercent >= 100 {
		add("risk: max_drawdown_percent must be in [0, 100)")
	}
	if c.Risk.DrawdownRecoveryPercent > c.Risk.MaxDrawdownPercent {
		add("risk: drawdown_recovery_percent must not exceed max_drawdown_percent")
	}
	if c.Risk.StopLossPercent < 0 {
		add("risk: stop_loss_percent must be >= 0")
	}
	if c.Risk.BalanceRefreshInterval.Duration <= 0 {
		add("risk: balance_refresh_interval must be > 0")
	}

	// Execution
	if c.Execution.LegTimeout.Duration <= 0 {
		add("execution: leg_timeout must be > 0")
	}
	if c.Execution.MaxRetries < 0 {
		add("execution: max_retries must be >= 0")
	}
	if c.Execution.FillTolerance < 0 || c.Execution.FillTolerance >= 1 {
		add("execution: fill_tolerance must be in [0, 1)")
	}
	if c.Execution.MaxSignalAge.Duration <= 0 {
		add("execution: max_signal_age must be > 0")
	}

	// Venues
	enabled := c.EnabledVenues()
	if len(enabled) < 2 {
		add("venues: at least two enabled venues are required, got %d", len(enabled))
	}
	seen := make(map[string]bool, len(c.Venues))
	for i, v := range c.Venues {
		label := v.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
			add("venues[%d]: name must not be empty", i)
		}
		if seen[v.Name] {
			add("venues: duplicate name %q", v.Name)
		}
		seen[v.Name] = true
		if !v.Enabled {
			continue
		}
		errs = append(errs, validateVenue(c.Mode, label, v)...)
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
		if c.Redis.StreamMaxLen < 0 {
			add("redis: stream_max_len must be >= 0")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must be >= 0")
		}
	}
	if c.Notify.Cooldown.Duration < 0 {
		add("notify: cooldown must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}

func validateVenue(mode, label string, v VenueConfig) []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("venues[%s]: "+format, append([]any{label}, args...)...))
	}

	switch v.Kind {
	case VenueKindPaper:
		if mode == ModeLive {
			add("kind paper is not allowed in live mode")
		}
	case VenueKindWS:
		if v.WSURL == "" {
			add("ws_url must not be empty")
		}
		if mode == ModeLive {
			if v.RESTURL == "" {
				add("rest_url must not be empty in live mode")
			}
			if v.APIKey == "" {
				add("api_key is required in live mode")
			}
			if v.APISecret == "" && v.EncryptedSecretPath == "" {
				add("api_secret or encrypted_secret_path is required in live mode")
			}
		}
	default:
		add("unknown kind %q (valid: paper, ws)", v.Kind)
	}
	if v.EncryptedSecretPath != "" && v.SecretPassword == "" {
		add("secret_password is required when encrypted_secret_path is set")
	}
	if v.TakerFee < 0 || v.TakerFee >= 1 {
		add("taker_fee must be in [0, 1)")
	}
	if v.FillMode != "" && v.FillMode != "cross" && v.FillMode != "limit" {
		add("unknown fill_mode %q (valid: cross, limit)", v.FillMode)
	}
	return errs
}
