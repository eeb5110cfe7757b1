// Package risk authorizes signals against portfolio limits and tracks the
// capacity held by in-flight trades.
package risk

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/metrics"
)

// Config holds the risk limits. Position and exposure limits are
// quote-currency notionals; percentages are in percent (5 = 5%).
type Config struct {
	MaxConcurrentTrades     int
	MaxPositionSize         float64
	MaxSymbolExposure       float64
	MaxDrawdownPercent      float64
	DrawdownRecoveryPercent float64
	StopLossPercent         float64
	BalanceThresholdPercent float64
	MaxTradesPerHour        int
	QuoteCurrencies         []string
}

// Decision is the result of Authorize. Rejections are values, not errors.
type Decision struct {
	Approved    bool
	Reason      domain.RejectReason
	Reservation *Reservation
}

// Reservation is the capacity held by one approved signal until Release.
type Reservation struct {
	SignalID   string
	Symbol     string
	Notional   float64
	BuyVenue   string
	SellVenue  string
	QuoteAsset string
	BaseAsset  string
	QuoteHeld  float64
	BaseHeld   float64
	// Executed is set by the holder before Release when any leg filled or
	// the fill state is unknown. Only executed trades count toward
	// MaxTradesPerHour.
	Executed bool
	released bool
}

// State is a point-in-time view of the gate.
type State struct {
	Halted          bool                          `json:"halted"`
	HaltReason      domain.RejectReason           `json:"halt_reason,omitempty"`
	HaltedAt        *time.Time                    `json:"halted_at,omitempty"`
	OpenTrades      int                           `json:"open_trades"`
	Exposure        map[string]float64            `json:"exposure"`
	Equity          float64                       `json:"equity"`
	PeakEquity      float64                       `json:"peak_equity"`
	DrawdownPercent float64                       `json:"drawdown_percent"`
	TradesLastHour  int                           `json:"trades_last_hour"`
	Balances        map[string]map[string]float64 `json:"balances"`
}

// HaltEvent is delivered to the OnHalt hook when trading halts or resumes.
type HaltEvent struct {
	Halted bool
	Reason domain.RejectReason
	// Manual is set when an operator cleared the halt.
	Manual bool
	At     time.Time
}

// Gate is the single serialization point for capacity accounting. Every
// method holds one mutex for its whole duration and performs no I/O.
type Gate struct {
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	onHalt  func(HaltEvent)

	mu         sync.Mutex
	open       int
	exposure   map[string]float64
	balances   map[string]map[string]float64
	reserved   map[string]map[string]float64
	tradeTimes []time.Time
	equity     float64
	peak       float64
	drawdown   float64
	halted     bool
	haltReason domain.RejectReason
	haltedAt   time.Time
}

// Option customizes a Gate.
type Option func(*Gate)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithMetrics reports decisions and state to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithHaltHook registers fn to be called, outside the gate lock, whenever
// trading halts or resumes.
func WithHaltHook(fn func(HaltEvent)) Option {
	return func(g *Gate) { g.onHalt = fn }
}

// NewGate creates a Gate.
func NewGate(cfg Config, logger *slog.Logger, opts ...Option) *Gate {
	if cfg.DrawdownRecoveryPercent <= 0 || cfg.DrawdownRecoveryPercent > cfg.MaxDrawdownPercent {
		cfg.DrawdownRecoveryPercent = cfg.MaxDrawdownPercent / 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "risk_gate")),
		now:      time.Now,
		exposure: make(map[string]float64),
		balances: make(map[string]map[string]float64),
		reserved: make(map[string]map[string]float64),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Authorize checks sig against every limit and, when it passes, reserves
// the capacity it needs in the same critical section.
func (g *Gate) Authorize(sig domain.Signal) Decision {
	g.mu.Lock()
	d := g.authorizeLocked(sig)
	open := g.open
	g.mu.Unlock()

	g.metrics.RiskDecision(d.Approved, string(d.Reason))
	g.metrics.SetOpenTrades(open)
	if !d.Approved {
		g.logger.Debug("signal rejected",
			slog.String("signal_id", sig.ID),
			slog.String("pair", sig.PairKey()),
			slog.String("reason", string(d.Reason)),
		)
	}
	return d
}

func (g *Gate) authorizeLocked(sig domain.Signal) Decision {
	base, quote, ok := domain.SplitSymbol(sig.Symbol, g.cfg.QuoteCurrencies)
	if !ok || sig.Size <= 0 || sig.BuyPrice <= 0 || sig.BuyVenue == sig.SellVenue {
		return reject(domain.RejectInvalidSignal)
	}
	notional := sig.Notional()

	if g.cfg.MaxConcurrentTrades > 0 && g.open >= g.cfg.MaxConcurrentTrades {
		return reject(domain.RejectConcurrentTrades)
	}

	if g.cfg.MaxPositionSize > 0 && notional > g.cfg.MaxPositionSize {
		return reject(domain.RejectPositionSize)
	}
	if g.cfg.MaxSymbolExposure > 0 && g.exposure[sig.Symbol]+notional > g.cfg.MaxSymbolExposure {
		return reject(domain.RejectSymbolExposure)
	}

	buffer := 1 + g.cfg.BalanceThresholdPercent/100
	quoteNeed := notional * buffer
	baseNeed := sig.Size * buffer
	if g.available(sig.BuyVenue, quote) < quoteNeed || g.available(sig.SellVenue, base) < baseNeed {
		return reject(domain.RejectInsufficientBalance)
	}

	if g.halted {
		return reject(g.haltReason)
	}
	if g.cfg.MaxDrawdownPercent > 0 && g.drawdown >= g.cfg.MaxDrawdownPercent {
		return reject(domain.RejectDrawdown)
	}

	now := g.now()
	g.pruneTradeTimes(now)
	// In-flight trades may still execute, so they count against the hourly
	// limit until released.
	if g.cfg.MaxTradesPerHour > 0 && len(g.tradeTimes)+g.open >= g.cfg.MaxTradesPerHour {
		return reject(domain.RejectTradeRate)
	}

	res := &Reservation{
		SignalID:   sig.ID,
		Symbol:     sig.Symbol,
		Notional:   notional,
		BuyVenue:   sig.BuyVenue,
		SellVenue:  sig.SellVenue,
		QuoteAsset: quote,
		BaseAsset:  base,
		QuoteHeld:  quoteNeed,
		BaseHeld:   baseNeed,
	}
	g.open++
	g.exposure[sig.Symbol] += notional
	g.hold(sig.BuyVenue, quote, quoteNeed)
	g.hold(sig.SellVenue, base, baseNeed)
	return Decision{Approved: true, Reservation: res}
}

func reject(reason domain.RejectReason) Decision {
	return Decision{Reason: reason}
}

func (g *Gate) available(venue, asset string) float64 {
	return g.balances[venue][asset] - g.reserved[venue][asset]
}

func (g *Gate) hold(venue, asset string, amount float64) {
	m, ok := g.reserved[venue]
	if !ok {
		m = make(map[string]float64)
		g.reserved[venue] = m
	}
	m[asset] += amount
	if m[asset] < 1e-12 {
		delete(m, asset)
	}
}

func (g *Gate) pruneTradeTimes(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(g.tradeTimes) && !g.tradeTimes[i].After(cutoff) {
		i++
	}
	g.tradeTimes = g.tradeTimes[i:]
}

// Release returns the capacity held by res once its trade is terminal.
// pnl is the realized result in quote currency and unwindLoss the slippage
// paid flattening an exposed leg. Releasing twice is a no-op.
func (g *Gate) Release(res *Reservation, pnl, unwindLoss float64) {
	if res == nil {
		return
	}
	var events []HaltEvent

	g.mu.Lock()
	if res.released {
		g.mu.Unlock()
		return
	}
	res.released = true
	g.open--
	g.exposure[res.Symbol] -= res.Notional
	if g.exposure[res.Symbol] < 1e-9 {
		delete(g.exposure, res.Symbol)
	}
	g.hold(res.BuyVenue, res.QuoteAsset, -res.QuoteHeld)
	g.hold(res.SellVenue, res.BaseAsset, -res.BaseHeld)
	if res.Executed {
		now := g.now()
		g.pruneTradeTimes(now)
		g.tradeTimes = append(g.tradeTimes, now)
	}

	if g.peak > 0 {
		g.equity += pnl
		events = append(events, g.applyEquityLocked()...)
	}
	if g.cfg.StopLossPercent > 0 && res.Notional > 0 && unwindLoss/res.Notional*100 > g.cfg.StopLossPercent {
		events = append(events, g.haltLocked(domain.RejectStopLoss)...)
	}
	open := g.open
	g.mu.Unlock()

	g.metrics.SetOpenTrades(open)
	g.emit(events)
}

// UpdateBalances replaces the balance snapshot for venue.
func (g *Gate) UpdateBalances(venue string, balances map[string]float64) {
	cp := make(map[string]float64, len(balances))
	for k, v := range balances {
		cp[k] = v
	}
	g.mu.Lock()
	g.balances[venue] = cp
	g.mu.Unlock()
}

// UpdateEquity records a fresh equity valuation, moving the peak and
// halting or resuming on drawdown.
func (g *Gate) UpdateEquity(equity float64) {
	if equity <= 0 || math.IsNaN(equity) || math.IsInf(equity, 0) {
		return
	}
	g.mu.Lock()
	g.equity = equity
	events := g.applyEquityLocked()
	g.mu.Unlock()
	g.emit(events)
}

func (g *Gate) applyEquityLocked() []HaltEvent {
	if g.equity > g.peak {
		g.peak = g.equity
	}
	g.drawdown = 0
	if g.peak > 0 {
		g.drawdown = (g.peak - g.equity) / g.peak * 100
	}
	g.metrics.SetEquity(g.equity, g.drawdown)

	if g.cfg.MaxDrawdownPercent <= 0 {
		return nil
	}
	if g.drawdown >= g.cfg.MaxDrawdownPercent {
		return g.haltLocked(domain.RejectDrawdown)
	}
	if g.halted && g.haltReason == domain.RejectDrawdown && g.drawdown < g.cfg.DrawdownRecoveryPercent {
		return g.resumeLocked(false)
	}
	return nil
}

func (g *Gate) haltLocked(reason domain.RejectReason) []HaltEvent {
	if g.halted {
		return nil
	}
	g.halted = true
	g.haltReason = reason
	g.haltedAt = g.now()
	g.metrics.SetHalted(true)
	g.logger.Warn("trading halted",
		slog.String("reason", string(reason)),
		slog.Float64("drawdown_percent", g.drawdown),
		slog.Float64("equity", g.equity),
		slog.Float64("peak_equity", g.peak),
	)
	return []HaltEvent{{Halted: true, Reason: reason, At: g.haltedAt}}
}

func (g *Gate) resumeLocked(manual bool) []HaltEvent {
	if !g.halted {
		return nil
	}
	reason := g.haltReason
	g.halted = false
	g.haltReason = domain.RejectNone
	g.haltedAt = time.Time{}
	g.metrics.SetHalted(false)
	g.logger.Info("trading resumed",
		slog.String("reason", string(reason)),
		slog.Bool("manual", manual),
		slog.Float64("drawdown_percent", g.drawdown),
	)
	return []HaltEvent{{Halted: false, Reason: reason, Manual: manual, At: g.now()}}
}

// ClearHalt resumes trading after an operator decision. The equity peak is
// reset to the current equity so the same drawdown does not halt again.
func (g *Gate) ClearHalt() bool {
	g.mu.Lock()
	if !g.halted {
		g.mu.Unlock()
		return false
	}
	g.peak = g.equity
	g.drawdown = 0
	events := g.resumeLocked(true)
	g.mu.Unlock()
	g.emit(events)
	return true
}

// Halted reports whether new authorizations are blocked and why.
func (g *Gate) Halted() (bool, domain.RejectReason) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.halted, g.haltReason
}

// OpenTrades returns the number of reservations not yet released.
func (g *Gate) OpenTrades() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// State returns a copy of the gate's accounting.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneTradeTimes(g.now())
	s := State{
		Halted:          g.halted,
		HaltReason:      g.haltReason,
		OpenTrades:      g.open,
		Exposure:        make(map[string]float64, len(g.exposure)),
		Equity:          g.equity,
		PeakEquity:      g.peak,
		DrawdownPercent: g.drawdown,
		TradesLastHour:  len(g.tradeTimes),
		Balances:        make(map[string]map[string]float64, len(g.balances)),
	}
	if g.halted {
		at := g.haltedAt
		s.HaltedAt = &at
	}
	for k, v := range g.exposure {
		s.Exposure[k] = v
	}
	for venue, m := range g.balances {
		cp := make(map[string]float64, len(m))
		for k, v := range m {
			cp[k] = v
		}
		s.Balances[venue] = cp
	}
	return s
}

func (g *Gate) emit(events []HaltEvent) {
	if g.onHalt == nil {
		return
	}
	for _, ev := range events {
		g.onHalt(ev)
	}
}
