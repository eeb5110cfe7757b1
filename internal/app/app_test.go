package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/config"
	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/notify"
	"github.com/alanyoungcy/arbengine/internal/risk"
	"github.com/alanyoungcy/arbengine/internal/venue"
	"github.com/alanyoungcy/arbengine/internal/venue/paper"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Server.Enabled = false
	cfg.Venues = []config.VenueConfig{
		{Name: "alpha", Kind: config.VenueKindPaper, Enabled: true, TakerFee: 0.002, PremiumBaseline: 0.1},
		{Name: "beta", Kind: config.VenueKindPaper, Enabled: true},
		{Name: "gamma", Kind: config.VenueKindPaper, Enabled: false, TakerFee: 0.5},
	}
	cfg.Normalize()
	return &cfg
}

func paperDeps(t *testing.T, cfg *config.Config) *Dependencies {
	t.Helper()
	deps := &Dependencies{Notifier: notify.NewNotifier(nil, nil, discardLogger())}
	for _, vc := range cfg.EnabledVenues() {
		v := paper.New(paperConfig(cfg, vc, nil), discardLogger())
		deps.Venues = append(deps.Venues, venue.NewBreaker(v, venue.DefaultBreakerConfig(), nil, discardLogger()))
	}
	return deps
}

func TestDetectorConfigMapsVenueFees(t *testing.T) {
	cfg := testConfig()
	dc := detectorConfig(cfg)

	assert.Equal(t, 0.002, dc.TakerFees["alpha"])
	assert.Equal(t, cfg.Arbitrage.DefaultTakerFee, dc.TakerFees["beta"])
	assert.NotContains(t, dc.TakerFees, "gamma")
	assert.Equal(t, map[string]float64{"alpha": 0.1}, dc.PremiumBaselines)
	assert.Equal(t, domain.TrendUptrendBuyLow, dc.TrendMode)
	assert.Equal(t, cfg.Engine.MaxQuoteAge.Duration, dc.MaxQuoteAge)
}

func TestTrendWindowUsesMovingAveragePeriods(t *testing.T) {
	cfg := testConfig()
	cfg.Arbitrage.MovingAveragePeriods = 45
	assert.Equal(t, 45*time.Second, trendConfig(cfg).Window)
}

func TestRiskConfigSharesPositionCap(t *testing.T) {
	cfg := testConfig()
	rc := riskConfig(cfg)
	assert.Equal(t, cfg.Arbitrage.MaxPositionSize, rc.MaxPositionSize)
	assert.Equal(t, cfg.Risk.MaxDrawdownPercent, rc.MaxDrawdownPercent)
	assert.Equal(t, cfg.Engine.QuoteCurrencies, rc.QuoteCurrencies)
}

func TestBuildEngineMonitorHasNoExecution(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "monitor"
	e := buildEngine(cfg, paperDeps(t, cfg), false, time.Now(), discardLogger())

	assert.Nil(t, e.queue)
	assert.Nil(t, e.coordinator)
	assert.Nil(t, e.balances)
	assert.Nil(t, e.hub)
	assert.Nil(t, e.archiver)
	assert.NotNil(t, e.detector)
	assert.NotNil(t, e.pipeline)
}

func TestBuildEngineExecuteWiresCoordinator(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Enabled = true
	e := buildEngine(cfg, paperDeps(t, cfg), true, time.Now(), discardLogger())

	require.NotNil(t, e.queue)
	assert.NotNil(t, e.coordinator)
	assert.NotNil(t, e.balances)
	assert.NotNil(t, e.hub)
}

func TestDependenciesVenueMap(t *testing.T) {
	cfg := testConfig()
	m := paperDeps(t, cfg).VenueMap()
	assert.Len(t, m, 2)
	assert.Contains(t, m, "alpha")
	assert.Contains(t, m, "beta")
}

type fakeBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.messages == nil {
		b.messages = make(map[string][][]byte)
	}
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages[channel])
}

type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAudit) List(context.Context, string, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (a *fakeAudit) snapshot() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

func TestHaltHookPublishesAndAudits(t *testing.T) {
	bus := &fakeBus{}
	audit := &fakeAudit{}
	deps := &Dependencies{
		SignalBus:  bus,
		AuditStore: audit,
		Notifier:   notify.NewNotifier(nil, nil, discardLogger()),
	}
	hook := haltHook(deps, nil, discardLogger())

	hook(risk.HaltEvent{Halted: true, Reason: domain.RejectDrawdown, At: time.Now()})
	hook(risk.HaltEvent{Halted: false, Manual: true, At: time.Now()})

	require.Eventually(t, func() bool {
		return bus.count(domain.ChannelRisk) == 2 && len(audit.snapshot()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"risk.trading_halted", "risk.halt_cleared"}, audit.snapshot())

	var payload map[string]any
	bus.mu.Lock()
	for _, raw := range bus.messages[domain.ChannelRisk] {
		require.NoError(t, json.Unmarshal(raw, &payload))
		assert.Contains(t, payload, "halted")
	}
	bus.mu.Unlock()
}

type fakeLease struct {
	mu       sync.Mutex
	refresh  int
	lostAt   int
	released bool
}

func (l *fakeLease) Refresh(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refresh++
	if l.lostAt > 0 && l.refresh >= l.lostAt {
		return domain.ErrLockLost
	}
	return nil
}

func (l *fakeLease) Release() {
	l.mu.Lock()
	l.released = true
	l.mu.Unlock()
}

func TestHoldLeaseStopsWhenLost(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.LeaderLockTTL.Duration = 30 * time.Millisecond
	a := New(cfg, discardLogger())

	lease := &fakeLease{lostAt: 2}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := a.holdLease(ctx, lease)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLockLost)
}

func TestHoldLeaseReturnsOnCancel(t *testing.T) {
	cfg := testConfig()
	a := New(cfg, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.holdLease(ctx, &fakeLease{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestModeRunner(t *testing.T) {
	a := New(testConfig(), discardLogger())
	assert.NotNil(t, a.modeRunner("live"))
	assert.NotNil(t, a.modeRunner("PAPER"))
	assert.NotNil(t, a.modeRunner(config.ModeMonitor))
	assert.Nil(t, a.modeRunner("backtest"))
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "backtest"
	a := New(cfg, discardLogger())
	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported mode")
	a.Close()
}
