package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbengine/internal/quotecache"
	"github.com/alanyoungcy/arbengine/internal/trend"
)

// CooldownPruner drops expired signal cooldown keys.
type CooldownPruner interface {
	PruneCooldowns(now time.Time) int
}

// QuoteRetention deletes persisted quotes older than a cutoff.
type QuoteRetention interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Cleanup periodically evicts stale in-memory state. Retention is optional
// and prunes the persisted quote history.
type Cleanup struct {
	Cache     *quotecache.Cache
	Trend     *trend.Tracker
	Cooldowns CooldownPruner
	Retention QuoteRetention
	// RetainQuotes is how long persisted quotes are kept. Zero keeps them.
	RetainQuotes time.Duration
	Interval     time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Run sweeps every Interval until ctx is cancelled.
func (c *Cleanup) Run(ctx context.Context) error {
	interval := c.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep runs one cleanup pass.
func (c *Cleanup) Sweep(ctx context.Context) {
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var quotes, windows, cooldowns int
	if c.Cache != nil {
		quotes = c.Cache.Evict()
	}
	if c.Trend != nil {
		windows = c.Trend.Prune(now)
	}
	if c.Cooldowns != nil {
		cooldowns = c.Cooldowns.PruneCooldowns(now)
	}
	if quotes+windows+cooldowns > 0 {
		logger.Debug("cleanup swept",
			slog.Int("stale_quotes", quotes),
			slog.Int("trend_windows", windows),
			slog.Int("cooldowns", cooldowns),
		)
	}

	if c.Retention == nil || c.RetainQuotes <= 0 {
		return
	}
	n, err := c.Retention.DeleteBefore(ctx, now.Add(-c.RetainQuotes))
	if err != nil {
		logger.Warn("quote retention failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		logger.Info("quote retention pruned", slog.Int64("rows", n))
	}
}
