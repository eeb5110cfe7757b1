// Package arbitrage scans cross-venue quote snapshots for profitable spreads
// and queues the resulting signals for execution.
package arbitrage

import (
	"errors"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/metrics"
	"github.com/alanyoungcy/arbengine/internal/premium"
	"github.com/alanyoungcy/arbengine/internal/quotecache"
	"github.com/alanyoungcy/arbengine/internal/shard"
	"github.com/alanyoungcy/arbengine/internal/trend"
)

// Rejection reasons reported in stats and metrics.
const (
	RejectUnprofitable  = "unprofitable"
	RejectBelowMinimum  = "below_min_profit"
	RejectSpreadAnomaly = "spread_anomaly"
	RejectPremium       = "premium_outlier"
	RejectTrend         = "trend"
	RejectSize          = "size"
	RejectCooldown      = "cooldown"
	RejectQueueFull     = "queue_full"
	RejectQueueClosed   = "queue_closed"
)

var rejectReasons = []string{
	RejectUnprofitable, RejectBelowMinimum, RejectSpreadAnomaly, RejectPremium,
	RejectTrend, RejectSize, RejectCooldown, RejectQueueFull, RejectQueueClosed,
}

// Config holds the detection thresholds. Prices and fees are fractions
// (0.001 = 0.1%); position limits are quote-currency notionals.
type Config struct {
	MinProfitThreshold   float64
	MaxPositionSize      float64
	SlippageTolerance    float64
	MaxSpreadThreshold   float64
	LiquidityFractionCap float64
	MinTradeSize         float64
	DefaultTakerFee      float64
	// TakerFees overrides DefaultTakerFee per venue.
	TakerFees map[string]float64
	// PremiumBaselines is a structural per-venue price offset. The sell
	// venue's baseline minus the buy venue's is removed from the spread
	// before the premium filter sees it.
	PremiumBaselines map[string]float64
	Cooldown         time.Duration
	TrendMode        domain.TrendMode
	TrendThreshold   float64
	MaxQuoteAge      time.Duration
}

// Publisher accepts signals without blocking.
type Publisher interface {
	TryPublish(sig domain.Signal) error
}

// Deps are the collaborators of a Detector. Publisher, Telemetry and Metrics
// may be nil.
type Deps struct {
	Cache     *quotecache.Cache
	Trend     *trend.Tracker
	Premium   *premium.Filter
	Publisher Publisher
	Telemetry domain.TelemetrySink
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// Stats is a point-in-time view of detector counters.
type Stats struct {
	Evaluations      int64            `json:"evaluations"`
	SignalsGenerated int64            `json:"signals_generated"`
	Rejections       map[string]int64 `json:"rejections"`
	CooldownKeys     int              `json:"cooldown_keys"`
}

type cooldown struct {
	mu    sync.Mutex
	until time.Time
}

// Detector is the decision function run on every accepted quote. It only
// reads in-memory state and never blocks on I/O.
type Detector struct {
	cfg       Config
	cache     *quotecache.Cache
	trend     *trend.Tracker
	premium   *premium.Filter
	publisher Publisher
	telemetry domain.TelemetrySink
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	cooldowns   *shard.Map[*cooldown]
	evaluations atomic.Int64
	generated   atomic.Int64
	rejections  map[string]*atomic.Int64
}

// NewDetector creates a Detector.
func NewDetector(cfg Config, deps Deps) *Detector {
	if cfg.LiquidityFractionCap <= 0 || cfg.LiquidityFractionCap > 1 {
		cfg.LiquidityFractionCap = 1
	}
	if cfg.TrendMode == "" {
		cfg.TrendMode = domain.TrendDisabled
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Detector{
		cfg:        cfg,
		cache:      deps.Cache,
		trend:      deps.Trend,
		premium:    deps.Premium,
		publisher:  deps.Publisher,
		telemetry:  deps.Telemetry,
		metrics:    deps.Metrics,
		logger:     logger.With(slog.String("component", "arb_detector")),
		now:        now,
		cooldowns:  shard.New[*cooldown](0),
		rejections: make(map[string]*atomic.Int64, len(rejectReasons)),
	}
	for _, r := range rejectReasons {
		d.rejections[r] = new(atomic.Int64)
	}
	return d
}

// candidate carries the intermediate values of one ordered venue pair.
type candidate struct {
	buy, sell domain.Quote
	gross     float64
	netPct    float64
	spreadPct float64
	size      float64
	premium   premium.Evaluation
	strength  float64
}

// Detect evaluates every ordered pair of fresh venue quotes for symbol,
// publishes the surviving signals and returns them.
func (d *Detector) Detect(symbol string) []domain.Signal {
	now := d.now()
	snap := d.cache.Snapshot(symbol)
	if len(snap) < 2 {
		return nil
	}
	venues := make([]string, 0, len(snap))
	for v := range snap {
		venues = append(venues, v)
	}
	sort.Strings(venues)

	var out []domain.Signal
	for _, a := range venues {
		for _, b := range venues {
			if a == b {
				continue
			}
			d.evaluations.Add(1)
			c, reason := d.evaluate(symbol, snap[a], snap[b], now)
			if reason != "" {
				d.reject(reason)
				continue
			}
			sig := d.signal(symbol, c, now)
			if d.emit(sig, now) {
				out = append(out, sig)
			}
		}
	}
	return out
}

// evaluate runs the filter chain for buying on buy and selling on sell. It
// returns a non-empty rejection reason when the pair does not qualify.
func (d *Detector) evaluate(symbol string, buy, sell domain.Quote, now time.Time) (candidate, string) {
	c := candidate{buy: buy, sell: sell}
	buyPrice, sellPrice := buy.Ask, sell.Bid

	c.gross = sellPrice - buyPrice
	if c.gross <= 0 {
		return c, RejectUnprofitable
	}

	fees := buyPrice*d.takerFee(buy.Venue) + sellPrice*d.takerFee(sell.Venue)
	slippage := buyPrice * d.cfg.SlippageTolerance
	c.netPct = (c.gross - fees - slippage) / buyPrice
	if c.netPct < d.cfg.MinProfitThreshold {
		return c, RejectBelowMinimum
	}

	rawPct := c.gross / buyPrice
	if d.cfg.MaxSpreadThreshold > 0 && math.Abs(rawPct) > d.cfg.MaxSpreadThreshold {
		return c, RejectSpreadAnomaly
	}

	pair := domain.VenuePair{Buy: buy.Venue, Sell: sell.Venue}
	c.spreadPct = rawPct - (d.cfg.PremiumBaselines[sell.Venue] - d.cfg.PremiumBaselines[buy.Venue])
	if d.premium != nil {
		c.premium = d.premium.Evaluate(symbol, pair, c.spreadPct)
		d.premium.Record(symbol, pair, c.spreadPct)
		if c.premium.Verdict == domain.VerdictOutlier {
			return c, RejectPremium
		}
	} else {
		c.premium = premium.Evaluation{Verdict: domain.VerdictNormal, Margin: 0.5}
	}

	ok, strength := d.trendAllows(symbol, buy.Venue, sell.Venue)
	if !ok {
		return c, RejectTrend
	}
	c.strength = strength

	c.size = math.Min(buy.AskSize, sell.BidSize) * d.cfg.LiquidityFractionCap
	if d.cfg.MaxPositionSize > 0 && c.size*buyPrice > d.cfg.MaxPositionSize {
		c.size = d.cfg.MaxPositionSize / buyPrice
	}
	if c.size <= 0 || c.size*buyPrice < d.cfg.MinTradeSize {
		return c, RejectSize
	}
	return c, ""
}

func (d *Detector) takerFee(venue string) float64 {
	if f, ok := d.cfg.TakerFees[venue]; ok {
		return f
	}
	return d.cfg.DefaultTakerFee
}

// trendAllows applies the configured trend mode and returns the stronger of
// the two sides' trend strengths.
func (d *Detector) trendAllows(symbol, buyVenue, sellVenue string) (bool, float64) {
	if d.cfg.TrendMode == domain.TrendDisabled || d.trend == nil {
		return true, 0.5
	}
	rb := d.trend.Reading(symbol, buyVenue)
	rs := d.trend.Reading(symbol, sellVenue)
	strength := math.Max(rb.Strength(d.cfg.TrendThreshold), rs.Strength(d.cfg.TrendThreshold))

	either := func(dir domain.Direction) bool {
		return rb.Direction == dir || rs.Direction == dir
	}
	switch d.cfg.TrendMode {
	case domain.TrendUptrendBuyLow:
		return either(domain.DirectionUp), strength
	case domain.TrendDowntrendSellHigh:
		return either(domain.DirectionDown), strength
	case domain.TrendBoth:
		return either(domain.DirectionUp) || either(domain.DirectionDown), strength
	}
	return true, strength
}

func (d *Detector) signal(symbol string, c candidate, now time.Time) domain.Signal {
	return domain.Signal{
		ID:           uuid.Must(uuid.NewRandom()).String(),
		Symbol:       symbol,
		BuyVenue:     c.buy.Venue,
		SellVenue:    c.sell.Venue,
		BuyPrice:     c.buy.Ask,
		SellPrice:    c.sell.Bid,
		Size:         c.size,
		GrossProfit:  c.gross,
		NetProfitPct: c.netPct,
		SpreadPct:    c.spreadPct,
		Confidence:   d.confidence(c, now),
		CreatedAt:    now,
	}
}

// confidence blends depth, freshness, premium margin and trend strength
// with equal weight. Each input lies in [0,1].
func (d *Detector) confidence(c candidate, now time.Time) float64 {
	depth := 1.0
	if d.cfg.MaxPositionSize > 0 {
		depth = clamp01(c.size * c.buy.Ask / d.cfg.MaxPositionSize)
	}
	fresh := 1.0
	if d.cfg.MaxQuoteAge > 0 {
		age := math.Max(c.buy.Age(now).Seconds(), c.sell.Age(now).Seconds())
		fresh = clamp01(1 - age/d.cfg.MaxQuoteAge.Seconds())
	}
	return clamp01((depth + fresh + clamp01(c.premium.Margin) + clamp01(c.strength)) / 4)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// emit publishes sig unless its pair is cooling down. The cooldown starts
// only once the signal has been queued; the pair lock is held across the
// publish so concurrent passes cannot both emit.
func (d *Detector) emit(sig domain.Signal, now time.Time) bool {
	if d.cfg.Cooldown <= 0 {
		return d.publish(sig)
	}
	cd := d.cooldowns.GetOrCreate(sig.PairKey(), func() *cooldown { return &cooldown{} })
	cd.mu.Lock()
	defer cd.mu.Unlock()
	if now.Before(cd.until) {
		d.reject(RejectCooldown)
		return false
	}
	if !d.publish(sig) {
		return false
	}
	cd.until = now.Add(d.cfg.Cooldown)
	return true
}

func (d *Detector) publish(sig domain.Signal) bool {
	if d.publisher != nil {
		if err := d.publisher.TryPublish(sig); err != nil {
			reason := RejectQueueFull
			if errors.Is(err, domain.ErrQueueClosed) {
				reason = RejectQueueClosed
			}
			d.reject(reason)
			d.metrics.SignalDropped(reason)
			d.logger.Warn("signal not queued",
				slog.String("signal_id", sig.ID),
				slog.String("pair", sig.PairKey()),
				slog.String("error", err.Error()),
			)
			return false
		}
	}
	d.generated.Add(1)
	d.metrics.SignalEmitted(sig.Symbol)
	if d.telemetry != nil {
		d.telemetry.RecordSignal(sig)
	}
	d.logger.Info("signal emitted",
		slog.String("signal_id", sig.ID),
		slog.String("pair", sig.PairKey()),
		slog.Float64("net_profit_pct", sig.NetProfitPct),
		slog.Float64("size", sig.Size),
		slog.Float64("confidence", sig.Confidence),
	)
	return true
}

func (d *Detector) reject(reason string) {
	if c, ok := d.rejections[reason]; ok {
		c.Add(1)
	}
	d.metrics.CandidateRejected(reason)
}

// PruneCooldowns removes expired cooldown keys and returns how many were
// removed.
func (d *Detector) PruneCooldowns(now time.Time) int {
	return d.cooldowns.DeleteIf(func(_ string, cd *cooldown) bool {
		cd.mu.Lock()
		defer cd.mu.Unlock()
		return !now.Before(cd.until)
	})
}

// Stats returns the detector counters.
func (d *Detector) Stats() Stats {
	s := Stats{
		Evaluations:      d.evaluations.Load(),
		SignalsGenerated: d.generated.Load(),
		Rejections:       make(map[string]int64, len(d.rejections)),
		CooldownKeys:     d.cooldowns.Len(),
	}
	for r, c := range d.rejections {
		s.Rejections[r] = c.Load()
	}
	return s
}
