package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/arbengine/internal/blob/s3"
	"github.com/alanyoungcy/arbengine/internal/cache/redis"
	"github.com/alanyoungcy/arbengine/internal/config"
	"github.com/alanyoungcy/arbengine/internal/crypto"
	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/metrics"
	"github.com/alanyoungcy/arbengine/internal/notify"
	"github.com/alanyoungcy/arbengine/internal/store/postgres"
	"github.com/alanyoungcy/arbengine/internal/venue"
	"github.com/alanyoungcy/arbengine/internal/venue/paper"
	"github.com/alanyoungcy/arbengine/internal/venue/wsvenue"
)

// Dependencies bundles every infrastructure dependency the engine modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function. Optional backends are nil when disabled in config.
type Dependencies struct {
	// Stores
	Postgres    *postgres.Client
	SignalStore domain.SignalStore
	TradeStore  domain.TradeStore
	QuoteStore  *postgres.QuoteStore
	AuditStore  domain.AuditStore

	// Caches
	Redis       *redis.Client
	QuoteMirror domain.QuoteMirror
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	S3         *s3blob.Client
	BlobWriter domain.BlobWriter

	// Notifications
	Notifier *notify.Notifier

	// Metrics is nil when metrics are disabled; every method is nil-safe.
	Metrics *metrics.Metrics

	// Venues are breaker-wrapped adapters in config order.
	Venues []*venue.Breaker
}

// VenueMap indexes the venues by name.
func (d *Dependencies) VenueMap() map[string]domain.VenueAdapter {
	out := make(map[string]domain.VenueAdapter, len(d.Venues))
	for _, v := range d.Venues {
		out[v.Name()] = v
	}
	return out
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources. Venues are registered last so
// cleanup closes them before the stores.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Metrics ---
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		deps.Metrics = metrics.New(reg)
	}

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

		pool := pgClient.Pool()
		deps.Postgres = pgClient
		deps.SignalStore = postgres.NewSignalStore(pool)
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.QuoteStore = postgres.NewQuoteStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
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

		deps.Redis = redisClient
		deps.QuoteMirror = redis.NewQuoteMirror(redisClient, cfg.Redis.QuoteTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, int64(cfg.Redis.StreamMaxLen))
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			KeyPrefix:      cfg.S3.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.S3 = s3Client
		deps.BlobWriter = s3blob.NewWriter(s3Client)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger,
		notify.WithCooldown(cfg.Notify.Cooldown.Duration))

	// --- Venues ---
	for _, vc := range cfg.EnabledVenues() {
		adapter, closeFn, err := buildVenue(cfg, vc, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: venue %s: %w", vc.Name, err)
		}
		closers = append(closers, closeFn)
		deps.Venues = append(deps.Venues, venue.NewBreaker(adapter, venue.BreakerConfig{
			FailureThreshold: vc.BreakerFailures,
			SuccessThreshold: venue.DefaultBreakerConfig().SuccessThreshold,
			Cooldown:         vc.BreakerCooldown.Duration,
		}, deps.Metrics, logger))
	}

	return deps, cleanup, nil
}

// buildVenue creates the adapter for vc. In paper mode a ws venue keeps its
// market data feed but its orders are filled by a paper venue.
func buildVenue(cfg *config.Config, vc config.VenueConfig, logger *slog.Logger) (domain.VenueAdapter, func(), error) {
	switch vc.Kind {
	case config.VenueKindPaper:
		v := paper.New(paperConfig(cfg, vc, nil), logger)
		return v, func() { _ = v.Close() }, nil

	case config.VenueKindWS:
		ws, err := buildWSVenue(vc, logger)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Mode != config.ModePaper {
			return ws, func() { _ = ws.Close() }, nil
		}
		v := paper.New(paperConfig(cfg, vc, ws), logger)
		return v, func() {
			_ = v.Close()
			_ = ws.Close()
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown venue kind %q", vc.Kind)
	}
}

func buildWSVenue(vc config.VenueConfig, logger *slog.Logger) (*wsvenue.Venue, error) {
	var auth *crypto.HMACAuth
	if vc.APIKey != "" {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			Raw:           vc.APISecret,
			EncryptedPath: vc.EncryptedSecretPath,
			Password:      vc.SecretPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("load api secret: %w", err)
		}
		auth = &crypto.HMACAuth{
			Key:        vc.APIKey,
			Secret:     secret,
			Passphrase: vc.Passphrase,
		}
	}
	return wsvenue.New(wsvenue.Config{
		Name:          vc.Name,
		WSURL:         vc.WSURL,
		RESTURL:       vc.RESTURL,
		Auth:          auth,
		PriceDecimals: vc.PriceDecimals,
		SizeDecimals:  vc.SizeDecimals,
		HTTPTimeout:   10 * time.Second,
	}, logger), nil
}

func paperConfig(cfg *config.Config, vc config.VenueConfig, feed domain.VenueAdapter) paper.Config {
	return paper.Config{
		Name:            vc.Name,
		FillMode:        paper.FillMode(vc.FillMode),
		TakerFee:        vc.TakerFee,
		InitialBalances: vc.InitialBalances,
		QuoteCurrencies: cfg.Engine.QuoteCurrencies,
		Feed:            feed,
		StartPrices:     vc.StartPrices,
		TickInterval:    vc.TickInterval.Duration,
		SpreadBps:       vc.SpreadBps,
		Latency:         vc.Latency.Duration,
	}
}
