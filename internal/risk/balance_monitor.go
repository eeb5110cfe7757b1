package risk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// PriceSource returns the latest quotes for a symbol keyed by venue.
type PriceSource interface {
	Snapshot(symbol string) map[string]domain.Quote
}

// BalanceMonitor periodically refreshes the gate's balance snapshot from
// every venue and revalues equity from cached mid prices.
type BalanceMonitor struct {
	gate            *Gate
	venues          []domain.VenueAdapter
	prices          PriceSource
	symbols         []string
	quoteCurrencies []string
	interval        time.Duration
	timeout         time.Duration
	logger          *slog.Logger

	mu     sync.Mutex
	last   time.Time
	equity float64
}

// NewBalanceMonitor creates a BalanceMonitor. symbols determines which base
// assets can be priced.
func NewBalanceMonitor(gate *Gate, venues []domain.VenueAdapter, prices PriceSource, symbols, quoteCurrencies []string, interval time.Duration, logger *slog.Logger) *BalanceMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &BalanceMonitor{
		gate:            gate,
		venues:          venues,
		prices:          prices,
		symbols:         symbols,
		quoteCurrencies: quoteCurrencies,
		interval:        interval,
		timeout:         10 * time.Second,
		logger:          logger.With(slog.String("component", "balance_monitor")),
	}
}

// Run refreshes immediately and then every interval until ctx is cancelled.
func (m *BalanceMonitor) Run(ctx context.Context) error {
	m.logger.Info("balance monitor started", slog.Duration("interval", m.interval))
	defer m.logger.Info("balance monitor stopped")

	if err := m.Refresh(ctx); err != nil {
		m.logger.Warn("initial balance refresh failed", slog.String("error", err.Error()))
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil {
				m.logger.Warn("balance refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Refresh polls every venue once. Equity is only updated when every venue
// answered, so a single unreachable venue never reads as a drawdown.
func (m *BalanceMonitor) Refresh(ctx context.Context) error {
	all := make(map[string]map[string]float64, len(m.venues))
	var failed []string
	for _, v := range m.venues {
		cctx, cancel := context.WithTimeout(ctx, m.timeout)
		bal, err := v.GetBalance(cctx)
		cancel()
		if err != nil {
			failed = append(failed, v.Name())
			m.logger.Warn("get balance failed",
				slog.String("venue", v.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		norm := make(map[string]float64, len(bal))
		for asset, amt := range bal {
			norm[strings.ToUpper(asset)] += amt
		}
		m.gate.UpdateBalances(v.Name(), norm)
		all[v.Name()] = norm
	}
	if len(failed) > 0 {
		return fmt.Errorf("balance monitor: venues unavailable: %s", strings.Join(failed, ","))
	}

	equity, complete := m.value(all)
	if !complete {
		return fmt.Errorf("balance monitor: no fresh price for every held asset")
	}
	m.gate.UpdateEquity(equity)

	m.mu.Lock()
	m.last = time.Now()
	m.equity = equity
	m.mu.Unlock()
	return nil
}

// value sums quote-currency balances at face value and base balances at
// the mid price of a configured symbol. Assets outside the configured
// symbols are ignored; complete is false when a traded asset has no fresh
// quote.
func (m *BalanceMonitor) value(all map[string]map[string]float64) (equity float64, complete bool) {
	complete = true
	for venue, bal := range all {
		for asset, amt := range bal {
			if amt == 0 {
				continue
			}
			if m.isQuoteCurrency(asset) {
				equity += amt
				continue
			}
			px, traded, ok := m.price(venue, asset)
			switch {
			case ok:
				equity += amt * px
			case traded:
				complete = false
			}
		}
	}
	return equity, complete
}

func (m *BalanceMonitor) isQuoteCurrency(asset string) bool {
	for _, qc := range m.quoteCurrencies {
		if strings.EqualFold(qc, asset) {
			return true
		}
	}
	return false
}

// price prefers the venue's own quote and falls back to any venue. traded
// reports whether asset is the base of a configured symbol.
func (m *BalanceMonitor) price(venue, asset string) (px float64, traded, ok bool) {
	for _, sym := range m.symbols {
		base, _, split := domain.SplitSymbol(sym, m.quoteCurrencies)
		if !split || base != asset {
			continue
		}
		traded = true
		snap := m.prices.Snapshot(sym)
		if q, found := snap[venue]; found {
			return q.Mid(), true, true
		}
		for _, q := range snap {
			return q.Mid(), true, true
		}
	}
	return 0, traded, false
}

// LastEquity returns the last full valuation and when it was taken.
func (m *BalanceMonitor) LastEquity() (float64, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.equity, m.last
}
