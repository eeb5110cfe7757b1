package arbitrage

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/premium"
	"github.com/alanyoungcy/arbengine/internal/quotecache"
	"github.com/alanyoungcy/arbengine/internal/trend"
)

var now0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type captureSink struct {
	mu      sync.Mutex
	signals []domain.Signal
}

func (c *captureSink) RecordQuoteBatch([]domain.Quote) {}
func (c *captureSink) RecordTrade(domain.Trade)        {}
func (c *captureSink) RecordSignal(s domain.Signal) {
	c.mu.Lock()
	c.signals = append(c.signals, s)
	c.mu.Unlock()
}

type fixture struct {
	cache   *quotecache.Cache
	trend   *trend.Tracker
	premium *premium.Filter
	queue   *Queue
	sink    *captureSink
	det     *Detector
}

func baseConfig() Config {
	return Config{
		MinProfitThreshold:   0.001,
		MaxPositionSize:      1_000_000,
		MaxSpreadThreshold:   0.02,
		LiquidityFractionCap: 1,
		MaxQuoteAge:          time.Second,
		TrendMode:            domain.TrendDisabled,
	}
}

func newFixture(cfg Config) *fixture {
	now := func() time.Time { return now0 }
	f := &fixture{
		cache:   quotecache.New(quotecache.Config{MaxQuoteAge: cfg.MaxQuoteAge, Now: now}),
		trend:   trend.New(trend.Config{Window: 30 * time.Second, Threshold: 0.001, MinSamples: 4}),
		premium: premium.New(premium.Config{Enabled: true, Lookback: 100, MinSamples: 10, OutlierThreshold: 2}),
		queue:   NewQueue(64),
		sink:    &captureSink{},
	}
	f.det = NewDetector(cfg, Deps{
		Cache:     f.cache,
		Trend:     f.trend,
		Premium:   f.premium,
		Publisher: f.queue,
		Telemetry: f.sink,
		Now:       now,
	})
	return f
}

func (f *fixture) quote(venue string, bid, ask, size float64) {
	f.cache.Update(domain.Quote{
		Symbol: "BTCUSDT", Venue: venue,
		Bid: bid, Ask: ask, BidSize: size, AskSize: size,
		ObservedAt: now0,
	})
}

func TestDetectEmitsSingleSignalForCrossedVenues(t *testing.T) {
	f := newFixture(baseConfig())
	f.quote("venueA", 100.00, 100.10, 5)
	f.quote("venueB", 100.40, 100.50, 5)

	sigs := f.det.Detect("BTCUSDT")
	require.Len(t, sigs, 1)
	sig := sigs[0]
	assert.Equal(t, "venueA", sig.BuyVenue)
	assert.Equal(t, "venueB", sig.SellVenue)
	assert.Equal(t, 100.10, sig.BuyPrice)
	assert.Equal(t, 100.40, sig.SellPrice)
	assert.InDelta(t, 0.0030, sig.NetProfitPct, 0.0001)
	assert.InDelta(t, 0.30, sig.GrossProfit, 1e-9)
	assert.Equal(t, 5.0, sig.Size)
	assert.NotEmpty(t, sig.ID)

	assert.Equal(t, 1, f.queue.Len())
	assert.Len(t, f.sink.signals, 1)
	assert.Equal(t, int64(1), f.det.Stats().SignalsGenerated)
}

func TestDetectSuppressesAnomalousSpread(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxSpreadThreshold = 0.002
	f := newFixture(cfg)
	f.quote("venueA", 100.00, 100.10, 5)
	f.quote("venueB", 100.40, 100.50, 5)

	assert.Empty(t, f.det.Detect("BTCUSDT"))
	assert.Equal(t, int64(1), f.det.Stats().Rejections[RejectSpreadAnomaly])
	assert.Zero(t, f.queue.Len())
}

func TestDetectAppliesFeesAndSlippage(t *testing.T) {
	cfg := baseConfig()
	cfg.DefaultTakerFee = 0.001
	cfg.SlippageTolerance = 0.0005
	f := newFixture(cfg)
	f.quote("venueA", 100.00, 100.10, 5)
	f.quote("venueB", 100.40, 100.50, 5)

	// 0.30 - (0.1001 + 0.1004) - 0.05005 leaves under 0.1% of 100.10.
	assert.Empty(t, f.det.Detect("BTCUSDT"))
	assert.Equal(t, int64(1), f.det.Stats().Rejections[RejectBelowMinimum])

	cfg.TakerFees = map[string]float64{"venueA": 0, "venueB": 0}
	f = newFixture(cfg)
	f.quote("venueA", 100.00, 100.10, 5)
	f.quote("venueB", 100.40, 100.50, 5)
	sigs := f.det.Detect("BTCUSDT")
	require.Len(t, sigs, 1)
	assert.InDelta(t, (0.30-0.05005)/100.10, sigs[0].NetProfitPct, 1e-9)
}

func TestDetectIgnoresStaleQuotes(t *testing.T) {
	f := newFixture(baseConfig())
	f.quote("venueA", 100.00, 100.10, 5)
	f.cache.Update(domain.Quote{
		Symbol: "BTCUSDT", Venue: "venueB",
		Bid: 100.40, Ask: 100.50, BidSize: 5, AskSize: 5,
		ObservedAt: now0.Add(-2 * time.Second),
	})

	assert.Empty(t, f.det.Detect("BTCUSDT"))
	assert.Zero(t, f.det.Stats().Evaluations)
}

func TestDetectSizesByLiquidityAndPositionCap(t *testing.T) {
	cfg := baseConfig()
	cfg.LiquidityFractionCap = 0.5
	f := newFixture(cfg)
	f.cache.Update(domain.Quote{Symbol: "BTCUSDT", Venue: "a", Bid: 99, Ask: 100, BidSize: 1, AskSize: 8, ObservedAt: now0})
	f.cache.Update(domain.Quote{Symbol: "BTCUSDT", Venue: "b", Bid: 101, Ask: 102, BidSize: 4, AskSize: 1, ObservedAt: now0})

	sigs := f.det.Detect("BTCUSDT")
	require.Len(t, sigs, 1)
	assert.InDelta(t, 2.0, sigs[0].Size, 1e-9)

	cfg.MaxPositionSize = 150
	f = newFixture(cfg)
	f.cache.Update(domain.Quote{Symbol: "BTCUSDT", Venue: "a", Bid: 99, Ask: 100, BidSize: 1, AskSize: 8, ObservedAt: now0})
	f.cache.Update(domain.Quote{Symbol: "BTCUSDT", Venue: "b", Bid: 101, Ask: 102, BidSize: 4, AskSize: 1, ObservedAt: now0})
	sigs = f.det.Detect("BTCUSDT")
	require.Len(t, sigs, 1)
	assert.InDelta(t, 1.5, sigs[0].Size, 1e-9)

	cfg.MinTradeSize = 500
	f = newFixture(cfg)
	f.cache.Update(domain.Quote{Symbol: "BTCUSDT", Venue: "a", Bid: 99, Ask: 100, BidSize: 1, AskSize: 8, ObservedAt: now0})
	f.cache.Update(domain.Quote{Symbol: "BTCUSDT", Venue: "b", Bid: 101, Ask: 102, BidSize: 4, AskSize: 1, ObservedAt: now0})
	assert.Empty(t, f.det.Detect("BTCUSDT"))
	assert.Equal(t, int64(1), f.det.Stats().Rejections[RejectSize])
}

func TestDetectRejectsPremiumOutlier(t *testing.T) {
	f := newFixture(baseConfig())
	pair := domain.VenuePair{Buy: "venueA", Sell: "venueB"}
	for i := 0; i < 20; i++ {
		f.premium.Record("BTCUSDT", pair, 0.0010+float64(i%3)*0.0001)
	}
	f.quote("venueA", 100.00, 100.10, 5)
	f.quote("venueB", 100.40, 100.50, 5)

	assert.Empty(t, f.det.Detect("BTCUSDT"))
	assert.Equal(t, int64(1), f.det.Stats().Rejections[RejectPremium])

	b := f.premium.Baselines("BTCUSDT")
	require.Len(t, b, 1)
	assert.Equal(t, 21, b[0].Samples, "rejected spreads are still recorded")
}

func TestDetectPremiumBaselineOffset(t *testing.T) {
	cfg := baseConfig()
	cfg.PremiumBaselines = map[string]float64{"venueB": 0.003}
	f := newFixture(cfg)
	f.quote("venueA", 100.00, 100.10, 5)
	f.quote("venueB", 100.40, 100.50, 5)

	sigs := f.det.Detect("BTCUSDT")
	require.Len(t, sigs, 1)
	assert.InDelta(t, 0.30/100.10-0.003, sigs[0].SpreadPct, 1e-12)
}

func TestDetectTrendModes(t *testing.T) {
	observe := func(tr *trend.Tracker, venue string, mids ...float64) {
		for i, m := range mids {
			tr.Observe("BTCUSDT", venue, m, now0.Add(time.Duration(i-len(mids))*time.Second))
		}
	}

	cases := []struct {
		mode   domain.TrendMode
		setup  func(tr *trend.Tracker)
		signal bool
	}{
		{domain.TrendUptrendBuyLow, func(tr *trend.Tracker) {}, false},
		{domain.TrendUptrendBuyLow, func(tr *trend.Tracker) { observe(tr, "venueA", 99, 99, 100, 100) }, true},
		{domain.TrendUptrendBuyLow, func(tr *trend.Tracker) { observe(tr, "venueB", 101, 101, 100, 100) }, false},
		{domain.TrendDowntrendSellHigh, func(tr *trend.Tracker) { observe(tr, "venueB", 101, 101, 100, 100) }, true},
		{domain.TrendBoth, func(tr *trend.Tracker) { observe(tr, "venueA", 100, 100, 100, 100) }, false},
		{domain.TrendBoth, func(tr *trend.Tracker) { observe(tr, "venueA", 101, 101, 100, 100) }, true},
	}
	for _, tc := range cases {
		cfg := baseConfig()
		cfg.TrendMode = tc.mode
		cfg.TrendThreshold = 0.001
		f := newFixture(cfg)
		tc.setup(f.trend)
		f.quote("venueA", 100.00, 100.10, 5)
		f.quote("venueB", 100.40, 100.50, 5)

		sigs := f.det.Detect("BTCUSDT")
		if tc.signal {
			assert.Len(t, sigs, 1, "mode %s", tc.mode)
		} else {
			assert.Empty(t, sigs, "mode %s", tc.mode)
		}
	}
}

func TestDetectCooldown(t *testing.T) {
	cfg := baseConfig()
	cfg.Cooldown = time.Minute
	f := newFixture(cfg)
	f.quote("venueA", 100.00, 100.10, 5)
	f.quote("venueB", 100.40, 100.50, 5)

	require.Len(t, f.det.Detect("BTCUSDT"), 1)
	assert.Empty(t, f.det.Detect("BTCUSDT"))
	assert.Equal(t, int64(1), f.det.Stats().Rejections[RejectCooldown])

	assert.Equal(t, 0, f.det.PruneCooldowns(now0.Add(30*time.Second)))
	assert.Equal(t, 1, f.det.PruneCooldowns(now0.Add(time.Minute)))
}

func TestDetectQueueFullIsCounted(t *testing.T) {
	f := newFixture(baseConfig())
	f.queue = NewQueue(1)
	f.det.publisher = f.queue
	require.NoError(t, f.queue.TryPublish(domain.Signal{ID: "occupied"}))
	f.quote("venueA", 100.00, 100.10, 5)
	f.quote("venueB", 100.40, 100.50, 5)

	assert.Empty(t, f.det.Detect("BTCUSDT"))
	assert.Equal(t, int64(1), f.det.Stats().Rejections[RejectQueueFull])
	assert.Empty(t, f.sink.signals)
}

func TestDetectQueueFullDoesNotStartCooldown(t *testing.T) {
	cfg := baseConfig()
	cfg.Cooldown = time.Minute
	f := newFixture(cfg)
	f.queue = NewQueue(1)
	f.det.publisher = f.queue
	require.NoError(t, f.queue.TryPublish(domain.Signal{ID: "occupied"}))
	f.quote("venueA", 100.00, 100.10, 5)
	f.quote("venueB", 100.40, 100.50, 5)

	assert.Empty(t, f.det.Detect("BTCUSDT"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f.queue.Pop(ctx)
	require.NoError(t, err)

	sigs := f.det.Detect("BTCUSDT")
	require.Len(t, sigs, 1)
	assert.Equal(t, "venueA", sigs[0].BuyVenue)
	stats := f.det.Stats()
	assert.Equal(t, int64(1), stats.SignalsGenerated)
	assert.Equal(t, int64(0), stats.Rejections[RejectCooldown])
	assert.Equal(t, int64(1), stats.Rejections[RejectQueueFull])

	assert.Empty(t, f.det.Detect("BTCUSDT"))
	assert.Equal(t, int64(1), f.det.Stats().Rejections[RejectCooldown])
}

func TestDetectNeverEmitsBelowMinProfit(t *testing.T) {
	cfg := baseConfig()
	cfg.DefaultTakerFee = 0.0005
	cfg.SlippageTolerance = 0.0002
	cfg.MaxSpreadThreshold = 0
	f := newFixture(cfg)
	venues := []string{"a", "b", "c", "d"}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		for _, v := range venues {
			mid := 100 + rng.Float64()*2
			half := rng.Float64() * 0.2
			f.cache.Update(domain.Quote{
				Symbol: "BTCUSDT", Venue: v,
				Bid: mid - half, Ask: mid + half, BidSize: 1, AskSize: 1,
				ObservedAt: now0,
			})
		}
		for _, sig := range f.det.Detect("BTCUSDT") {
			require.GreaterOrEqual(t, sig.NetProfitPct, cfg.MinProfitThreshold)
			require.Greater(t, sig.SellPrice, sig.BuyPrice)
			require.GreaterOrEqual(t, sig.Confidence, 0.0)
			require.LessOrEqual(t, sig.Confidence, 1.0)
		}
	}
	assert.Positive(t, f.det.Stats().SignalsGenerated)
}
