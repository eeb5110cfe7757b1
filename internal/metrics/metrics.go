// Package metrics exposes the engine's prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arbengine"

// Metrics holds every collector the engine reports.
type Metrics struct {
	gatherer prometheus.Gatherer

	QuotesTotal      *prometheus.CounterVec
	QuoteAge         *prometheus.HistogramVec
	SignalsTotal     *prometheus.CounterVec
	RejectionsTotal  *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	QueueDropsTotal  *prometheus.CounterVec
	RiskDecisions    *prometheus.CounterVec
	Halted           prometheus.Gauge
	OpenTrades       prometheus.Gauge
	Equity           prometheus.Gauge
	DrawdownPercent  prometheus.Gauge
	TradesTotal      *prometheus.CounterVec
	TradeDuration    prometheus.Histogram
	RealizedPnL      prometheus.Counter
	UnwindLoss       prometheus.Counter
	LegSubmissions   *prometheus.CounterVec
	TelemetryDropped *prometheus.CounterVec
	TelemetryErrors  *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec
	IngestPanics     *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg uses a
// fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer: reg,
		QuotesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_total",
			Help:      "Quotes received from venues by cache outcome.",
		}, []string{"venue", "outcome"}),
		QuoteAge: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quote_age_seconds",
			Help:      "Age of accepted quotes at ingestion.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"venue"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Signals emitted by the detector.",
		}, []string{"symbol"}),
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_rejections_total",
			Help:      "Candidate spreads rejected by the detector.",
		}, []string{"reason"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signal_queue_depth",
			Help:      "Signals waiting for the execution coordinator.",
		}),
		QueueDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_queue_drops_total",
			Help:      "Signals dropped before execution.",
		}, []string{"reason"}),
		RiskDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_decisions_total",
			Help:      "Risk gate decisions by outcome and rejection reason.",
		}, []string{"outcome", "reason"}),
		Halted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trading_halted",
			Help:      "1 while the risk gate has halted new trades.",
		}),
		OpenTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_trades",
			Help:      "Trades holding risk capacity.",
		}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "equity",
			Help:      "Last computed account equity in quote currency.",
		}),
		DrawdownPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drawdown_percent",
			Help:      "Current peak-to-trough drawdown.",
		}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Trades reaching a terminal state.",
		}, []string{"status"}),
		TradeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trade_duration_seconds",
			Help:      "Time from trade creation to terminal state.",
			Buckets:   prometheus.DefBuckets,
		}),
		RealizedPnL: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realized_profit_total",
			Help:      "Sum of positive realized trade PnL.",
		}),
		UnwindLoss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unwind_loss_total",
			Help:      "Quote currency lost flattening exposed legs.",
		}),
		LegSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leg_submissions_total",
			Help:      "Order submissions by venue and result.",
		}, []string{"venue", "result"}),
		TelemetryDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_dropped_total",
			Help:      "Telemetry records dropped because the dispatcher was full.",
		}, []string{"kind"}),
		TelemetryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_errors_total",
			Help:      "Telemetry recorder failures.",
		}, []string{"recorder"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "venue_breaker_state",
			Help:      "Venue circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"venue"}),
		IngestPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_panics_total",
			Help:      "Recovered panics while processing a quote.",
		}, []string{"venue"}),
	}
	reg.MustRegister(
		m.QuotesTotal, m.QuoteAge, m.SignalsTotal, m.RejectionsTotal,
		m.QueueDepth, m.QueueDropsTotal, m.RiskDecisions, m.Halted,
		m.OpenTrades, m.Equity, m.DrawdownPercent, m.TradesTotal,
		m.TradeDuration, m.RealizedPnL, m.UnwindLoss, m.LegSubmissions,
		m.TelemetryDropped, m.TelemetryErrors, m.BreakerState, m.IngestPanics,
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) QuoteProcessed(venue, outcome string, age time.Duration) {
	if m == nil {
		return
	}
	m.QuotesTotal.WithLabelValues(venue, outcome).Inc()
	if outcome == "accepted" && age >= 0 {
		m.QuoteAge.WithLabelValues(venue).Observe(age.Seconds())
	}
}

func (m *Metrics) SignalEmitted(symbol string) {
	if m == nil {
		return
	}
	m.SignalsTotal.WithLabelValues(symbol).Inc()
}

func (m *Metrics) CandidateRejected(reason string) {
	if m == nil {
		return
	}
	m.RejectionsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) SignalDropped(reason string) {
	if m == nil {
		return
	}
	m.QueueDropsTotal.WithLabelValues(reason).Inc()
}

// RiskDecision counts one authorization. reason is empty for approvals.
func (m *Metrics) RiskDecision(approved bool, reason string) {
	if m == nil {
		return
	}
	outcome := "rejected"
	if approved {
		outcome = "approved"
	}
	m.RiskDecisions.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) SetHalted(halted bool) {
	if m == nil {
		return
	}
	if halted {
		m.Halted.Set(1)
	} else {
		m.Halted.Set(0)
	}
}

func (m *Metrics) SetOpenTrades(n int) {
	if m == nil {
		return
	}
	m.OpenTrades.Set(float64(n))
}

func (m *Metrics) SetEquity(equity, drawdownPct float64) {
	if m == nil {
		return
	}
	m.Equity.Set(equity)
	m.DrawdownPercent.Set(drawdownPct)
}

func (m *Metrics) TradeClosed(status string, d time.Duration, pnl, unwindLoss float64) {
	if m == nil {
		return
	}
	m.TradesTotal.WithLabelValues(status).Inc()
	m.TradeDuration.Observe(d.Seconds())
	if pnl > 0 {
		m.RealizedPnL.Add(pnl)
	}
	if unwindLoss > 0 {
		m.UnwindLoss.Add(unwindLoss)
	}
}

func (m *Metrics) LegSubmitted(venue, result string) {
	if m == nil {
		return
	}
	m.LegSubmissions.WithLabelValues(venue, result).Inc()
}

func (m *Metrics) TelemetryDrop(kind string) {
	if m == nil {
		return
	}
	m.TelemetryDropped.WithLabelValues(kind).Inc()
}

func (m *Metrics) TelemetryError(recorder string) {
	if m == nil {
		return
	}
	m.TelemetryErrors.WithLabelValues(recorder).Inc()
}

func (m *Metrics) SetBreakerState(venue string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(venue).Set(float64(state))
}

func (m *Metrics) IngestPanic(venue string) {
	if m == nil {
		return
	}
	m.IngestPanics.WithLabelValues(venue).Inc()
}
