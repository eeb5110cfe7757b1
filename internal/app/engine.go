package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbengine/internal/arbitrage"
	s3blob "github.com/alanyoungcy/arbengine/internal/blob/s3"
	"github.com/alanyoungcy/arbengine/internal/config"
	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/executor"
	"github.com/alanyoungcy/arbengine/internal/notify"
	"github.com/alanyoungcy/arbengine/internal/pipeline"
	"github.com/alanyoungcy/arbengine/internal/premium"
	"github.com/alanyoungcy/arbengine/internal/quotecache"
	"github.com/alanyoungcy/arbengine/internal/risk"
	"github.com/alanyoungcy/arbengine/internal/server/ws"
	"github.com/alanyoungcy/arbengine/internal/telemetry"
	"github.com/alanyoungcy/arbengine/internal/trend"
)

// engine holds the assembled core components for one run.
type engine struct {
	cache    *quotecache.Cache
	trend    *trend.Tracker
	premium  *premium.Filter
	detector *arbitrage.Detector
	gate     *risk.Gate

	// queue, coordinator and balances are nil in monitor mode.
	queue       *arbitrage.Queue
	coordinator *executor.Coordinator
	balances    *risk.BalanceMonitor

	dispatcher *telemetry.Dispatcher
	batcher    *telemetry.QuoteBatcher
	recent     *telemetry.Recent
	archiver   *s3blob.QuoteArchiver
	hub        *ws.Hub
	pipeline   *pipeline.Orchestrator
}

// buildEngine assembles the core from cfg and deps. execute selects whether
// signals are queued for the Coordinator or only recorded.
func buildEngine(cfg *config.Config, deps *Dependencies, execute bool, startedAt time.Time, logger *slog.Logger) *engine {
	e := &engine{
		cache:   quotecache.New(cacheConfig(cfg)),
		trend:   trend.New(trendConfig(cfg)),
		premium: premium.New(premiumConfig(cfg)),
		recent:  telemetry.NewRecent(0),
	}

	// --- Telemetry ---
	recorders := []telemetry.Recorder{e.recent}
	if cfg.Server.Enabled {
		e.hub = ws.NewHub(ws.Config{Mode: cfg.Mode, StartedAt: startedAt}, logger)
		recorders = append(recorders, e.hub)
	}
	if deps.Postgres != nil {
		recorders = append(recorders, &telemetry.StoreRecorder{
			Signals: deps.SignalStore,
			Trades:  deps.TradeStore,
			Quotes:  deps.QuoteStore,
			Audit:   deps.AuditStore,
		})
	}
	if deps.Redis != nil {
		recorders = append(recorders, &telemetry.BusRecorder{
			Bus:    deps.SignalBus,
			Mirror: deps.QuoteMirror,
		})
	}
	if deps.BlobWriter != nil {
		e.archiver = s3blob.NewArchiver(deps.BlobWriter, deps.AuditStore, s3blob.ArchiverConfig{
			MaxRows:       cfg.S3.ArchiveMaxRows,
			FlushInterval: cfg.S3.ArchiveFlushInterval.Duration,
		}, logger)
		recorders = append(recorders, e.archiver)
	}
	e.dispatcher = telemetry.NewDispatcher(telemetry.Config{
		Buffer: cfg.Engine.TelemetryBuffer,
	}, recorders, deps.Metrics, logger)
	e.batcher = telemetry.NewQuoteBatcher(e.dispatcher, cfg.Engine.QuoteBatchSize, cfg.Engine.QuoteBatchInterval.Duration)

	// --- Risk ---
	e.gate = risk.NewGate(riskConfig(cfg), logger,
		risk.WithMetrics(deps.Metrics),
		risk.WithHaltHook(haltHook(deps, e.hub, logger)),
	)

	// --- Detection ---
	var publisher arbitrage.Publisher
	if execute {
		e.queue = arbitrage.NewQueue(cfg.Engine.SignalQueueSize)
		publisher = e.queue
	}
	e.detector = arbitrage.NewDetector(detectorConfig(cfg), arbitrage.Deps{
		Cache:     e.cache,
		Trend:     e.trend,
		Premium:   e.premium,
		Publisher: publisher,
		Telemetry: e.dispatcher,
		Metrics:   deps.Metrics,
		Logger:    logger,
	})

	// --- Execution ---
	if execute {
		e.coordinator = executor.NewCoordinator(executorConfig(cfg), executor.Deps{
			Venues:    deps.VenueMap(),
			Gate:      e.gate,
			Quotes:    e.cache,
			Telemetry: e.dispatcher,
			Alerter:   deps.Notifier,
			Metrics:   deps.Metrics,
			Logger:    logger,
		})
		adapters := make([]domain.VenueAdapter, 0, len(deps.Venues))
		for _, v := range deps.Venues {
			adapters = append(adapters, v)
		}
		e.balances = risk.NewBalanceMonitor(e.gate, adapters, e.cache,
			cfg.Engine.Symbols, cfg.Engine.QuoteCurrencies,
			cfg.Risk.BalanceRefreshInterval.Duration, logger)
	}

	// --- Ingestion ---
	stages := pipeline.Stages{
		Cache:    e.cache,
		Trend:    e.trend,
		Detector: e.detector,
		Sink:     e.batcher,
		Metrics:  deps.Metrics,
	}
	ingestors := make([]*pipeline.Ingestor, 0, len(deps.Venues))
	for _, v := range deps.Venues {
		ingestors = append(ingestors, pipeline.NewIngestor(v, cfg.Engine.Symbols, stages, logger))
	}
	cleanup := &pipeline.Cleanup{
		Cache:     e.cache,
		Trend:     e.trend,
		Cooldowns: e.detector,
		Interval:  cfg.Engine.CleanupInterval.Duration,
		Logger:    logger,
	}
	if deps.QuoteStore != nil && cfg.Engine.QuoteRetention.Duration > 0 {
		cleanup.Retention = deps.QuoteStore
		cleanup.RetainQuotes = cfg.Engine.QuoteRetention.Duration
	}
	e.pipeline = pipeline.NewOrchestrator(ingestors, e.batcher, cleanup, logger)

	return e
}

// haltHook fans risk halts out to notifications, the bus, the audit log and
// dashboards. Slow sinks run off the Risk Gate's goroutine.
func haltHook(deps *Dependencies, hub *ws.Hub, logger *slog.Logger) func(risk.HaltEvent) {
	return func(ev risk.HaltEvent) {
		event, title := notify.EventTradingHalted, "Trading halted"
		if !ev.Halted {
			event, title = notify.EventHaltCleared, "Trading resumed"
		}
		payload := map[string]any{
			"halted": ev.Halted,
			"reason": string(ev.Reason),
			"manual": ev.Manual,
			"at":     ev.At,
		}
		logger.Warn("risk state changed",
			slog.String("component", "risk_hook"),
			slog.Bool("halted", ev.Halted),
			slog.String("reason", string(ev.Reason)),
			slog.Bool("manual", ev.Manual),
		)
		if hub != nil {
			hub.Broadcast(ws.TopicRisk, payload)
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			msg := "reason: " + string(ev.Reason)
			if ev.Manual {
				msg = "cleared by operator"
			}
			if deps.Notifier != nil {
				if err := deps.Notifier.Notify(ctx, event, title, msg); err != nil {
					logger.Warn("halt notification failed", slog.String("error", err.Error()))
				}
			}
			if deps.SignalBus != nil {
				if err := publishJSON(ctx, deps.SignalBus, domain.ChannelRisk, payload); err != nil {
					logger.Warn("halt publish failed", slog.String("error", err.Error()))
				}
			}
			if deps.AuditStore != nil {
				if err := deps.AuditStore.Log(ctx, "risk."+event, payload); err != nil {
					logger.Warn("halt audit failed", slog.String("error", err.Error()))
				}
			}
		}()
	}
}

func cacheConfig(cfg *config.Config) quotecache.Config {
	return quotecache.Config{
		MaxQuoteAge: cfg.Engine.MaxQuoteAge.Duration,
		Shards:      cfg.Engine.ShardCount,
	}
}

func trendConfig(cfg *config.Config) trend.Config {
	return trend.Config{
		Window:     time.Duration(cfg.Arbitrage.MovingAveragePeriods) * time.Second,
		Threshold:  cfg.Arbitrage.TrendConfirmationThreshold,
		MinSamples: cfg.Arbitrage.TrendMinSamples,
		Shards:     cfg.Engine.ShardCount,
	}
}

func premiumConfig(cfg *config.Config) premium.Config {
	return premium.Config{
		Enabled:          cfg.Premium.Enabled,
		Lookback:         cfg.Premium.LookbackPeriods,
		MinSamples:       cfg.Premium.MinSamples,
		OutlierThreshold: cfg.Premium.OutlierThreshold,
		Shards:           cfg.Engine.ShardCount,
	}
}

func detectorConfig(cfg *config.Config) arbitrage.Config {
	fees := make(map[string]float64)
	baselines := make(map[string]float64)
	for _, v := range cfg.EnabledVenues() {
		fees[v.Name] = v.TakerFee
		if v.PremiumBaseline != 0 {
			baselines[v.Name] = v.PremiumBaseline
		}
	}
	// Validate already rejected unknown modes.
	mode, _ := domain.ParseTrendMode(cfg.Arbitrage.TrendFilterMode)
	return arbitrage.Config{
		MinProfitThreshold:   cfg.Arbitrage.MinProfitThreshold,
		MaxPositionSize:      cfg.Arbitrage.MaxPositionSize,
		SlippageTolerance:    cfg.Arbitrage.SlippageTolerance,
		MaxSpreadThreshold:   cfg.Arbitrage.MaxSpreadThreshold,
		LiquidityFractionCap: cfg.Arbitrage.LiquidityFractionCap,
		MinTradeSize:         cfg.Arbitrage.MinTradeSize,
		DefaultTakerFee:      cfg.Arbitrage.DefaultTakerFee,
		TakerFees:            fees,
		PremiumBaselines:     baselines,
		Cooldown:             cfg.Arbitrage.SignalCooldown.Duration,
		TrendMode:            mode,
		TrendThreshold:       cfg.Arbitrage.TrendConfirmationThreshold,
		MaxQuoteAge:          cfg.Engine.MaxQuoteAge.Duration,
	}
}

func riskConfig(cfg *config.Config) risk.Config {
	return risk.Config{
		MaxConcurrentTrades:     cfg.Risk.MaxConcurrentTrades,
		MaxPositionSize:         cfg.Arbitrage.MaxPositionSize,
		MaxSymbolExposure:       cfg.Risk.MaxSymbolExposure,
		MaxDrawdownPercent:      cfg.Risk.MaxDrawdownPercent,
		DrawdownRecoveryPercent: cfg.Risk.DrawdownRecoveryPercent,
		StopLossPercent:         cfg.Risk.StopLossPercent,
		BalanceThresholdPercent: cfg.Risk.BalanceThresholdPercent,
		MaxTradesPerHour:        cfg.Risk.MaxTradesPerHour,
		QuoteCurrencies:         cfg.Engine.QuoteCurrencies,
	}
}

func executorConfig(cfg *config.Config) executor.Config {
	return executor.Config{
		LegTimeout:    cfg.Execution.LegTimeout.Duration,
		MaxRetries:    cfg.Execution.MaxRetries,
		RetryBackoff:  cfg.Execution.RetryBackoff.Duration,
		FillTolerance: cfg.Execution.FillTolerance,
		UnwindTimeout: cfg.Execution.UnwindTimeout.Duration,
		DrainTimeout:  cfg.Execution.DrainTimeout.Duration,
		MaxSignalAge:  cfg.Execution.MaxSignalAge.Duration,
	}
}
