package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.QuoteProcessed("binance", "accepted", 20*time.Millisecond)
	m.QuoteProcessed("binance", "out_of_order", 0)
	m.CandidateRejected("spread_anomaly")
	m.RiskDecision(false, "drawdown")
	m.SetHalted(true)
	m.TradeClosed("unwound", time.Second, -1, 0.25)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuotesTotal.WithLabelValues("binance", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuotesTotal.WithLabelValues("binance", "out_of_order")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RejectionsTotal.WithLabelValues("spread_anomaly")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RiskDecisions.WithLabelValues("rejected", "drawdown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Halted))
	assert.Equal(t, 0.25, testutil.ToFloat64(m.UnwindLoss))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RealizedPnL))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.QuoteProcessed("a", "accepted", 0)
		m.SignalEmitted("BTCUSDT")
		m.SetEquity(1, 2)
		m.TradeClosed("completed", 0, 1, 0)
	})
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New(nil)
	m.SignalEmitted("BTCUSDT")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `arbengine_signals_total{symbol="BTCUSDT"} 1`))
}
