package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/risk"
	"github.com/alanyoungcy/arbengine/internal/server/handler"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGate struct {
	halted  bool
	cleared int
}

func (g *fakeGate) State() risk.State {
	return risk.State{Halted: g.halted, HaltReason: domain.RejectDrawdown}
}

func (g *fakeGate) ClearHalt() bool {
	if !g.halted {
		return false
	}
	g.halted = false
	g.cleared++
	return true
}

type fakeTrades struct{ trades map[string]domain.Trade }

func (f *fakeTrades) Insert(context.Context, domain.Trade) error { return nil }

func (f *fakeTrades) GetByID(_ context.Context, id string) (domain.Trade, error) {
	t, ok := f.trades[id]
	if !ok {
		return domain.Trade{}, domain.ErrNotFound
	}
	return t, nil
}

func (f *fakeTrades) ListRecent(context.Context, domain.ListOpts) ([]domain.Trade, error) {
	return nil, nil
}

type liveTrades struct{ recent []domain.Trade }

func (l *liveTrades) RecentTrades(limit int) []domain.Trade {
	if limit > len(l.recent) {
		limit = len(l.recent)
	}
	return l.recent[:limit]
}

func (l *liveTrades) Trade(id string) (domain.Trade, bool) {
	for _, t := range l.recent {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Trade{}, false
}

type fakeAudit struct{ prefix string }

func (f *fakeAudit) Log(context.Context, string, map[string]any) error { return nil }

func (f *fakeAudit) List(_ context.Context, prefix string, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	f.prefix = prefix
	return []domain.AuditEntry{{ID: 1, Event: "risk.trading_halted"}}, nil
}

type snapshot map[string]map[string]domain.Quote

func (s snapshot) Snapshot(symbol string) map[string]domain.Quote { return s[symbol] }

type denyAll struct{ err error }

func (d denyAll) Allow(context.Context, string, int, time.Duration) (domain.RateDecision, error) {
	return domain.RateDecision{}, d.err
}

func newTestHandler(cfg Config, gate *fakeGate, limiter domain.RateLimiter) http.Handler {
	logger := discard()
	h := Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Check{
			"postgres": func(context.Context) error { return nil },
		}, logger),
		Risk: handler.NewRiskHandler(gate, logger),
		Trades: handler.NewTradeHandler(
			&liveTrades{recent: []domain.Trade{{ID: "live-1", Status: domain.TradeCompleted}}},
			&fakeTrades{trades: map[string]domain.Trade{"stored-1": {ID: "stored-1"}}},
			logger,
		),
		Quotes: handler.NewQuoteHandler(snapshot{
			"BTCUSDT": {"alpha": {Symbol: "BTCUSDT", Venue: "alpha", Bid: 100, Ask: 101}},
		}, nil, logger),
		Stats: handler.NewStatsHandler(map[string]func() any{
			"detector": func() any { return map[string]int{"signals_generated": 3} },
		}),
		Audit: handler.NewAuditHandler(&fakeAudit{}, logger),
	}
	return NewHandler(cfg, h, nil, limiter, logger)
}

func do(t *testing.T, h http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	h := newTestHandler(Config{}, &fakeGate{}, nil)
	rec := do(t, h, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestClearHaltRequiresKey(t *testing.T) {
	gate := &fakeGate{halted: true}
	h := newTestHandler(Config{APIKey: "secret"}, gate, nil)

	rec := do(t, h, http.MethodPost, "/api/risk/clear-halt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, gate.cleared)

	rec = do(t, h, http.MethodPost, "/api/risk/clear-halt", map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, gate.cleared)

	rec = do(t, h, http.MethodPost, "/api/risk/clear-halt", map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestClearHaltDisabledWithoutKey(t *testing.T) {
	gate := &fakeGate{halted: true}
	h := newTestHandler(Config{}, gate, nil)

	rec := do(t, h, http.MethodPost, "/api/risk/clear-halt", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.True(t, gate.halted)

	rec = do(t, h, http.MethodGet, "/api/risk", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["halted"])
}

func TestTrades(t *testing.T) {
	h := newTestHandler(Config{}, &fakeGate{}, nil)

	rec := do(t, h, http.MethodGet, "/api/trades/live-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "live-1", decode(t, rec)["id"])

	rec = do(t, h, http.MethodGet, "/api/trades/stored-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/trades/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/trades/recent?source=live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var trades []domain.Trade
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trades))
	require.Len(t, trades, 1)

	rec = do(t, h, http.MethodGet, "/api/trades/recent", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestQuotes(t *testing.T) {
	h := newTestHandler(Config{}, &fakeGate{}, nil)

	rec := do(t, h, http.MethodGet, "/api/quotes/btcusdt", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "cache", body["source"])
	assert.Contains(t, body["quotes"], "alpha")

	rec = do(t, h, http.MethodGet, "/api/quotes/ETHUSDT", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStats(t *testing.T) {
	h := newTestHandler(Config{}, &fakeGate{}, nil)
	rec := do(t, h, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec), "detector")
}

func TestRateLimit(t *testing.T) {
	h := newTestHandler(Config{RateLimit: 10, RateWindow: time.Second}, &fakeGate{}, denyAll{})
	rec := do(t, h, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	h = newTestHandler(Config{RateLimit: 10, RateWindow: time.Second}, &fakeGate{}, denyAll{err: errors.New("redis down")})
	rec = do(t, h, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "limiter errors fail open")
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(Config{CORSOrigins: []string{"https://dash.example"}}, &fakeGate{}, nil)
	rec := do(t, h, http.MethodOptions, "/api/risk", map[string]string{"Origin": "https://dash.example"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAudit(t *testing.T) {
	audit := &fakeAudit{}
	h := NewHandler(Config{}, Handlers{Audit: handler.NewAuditHandler(audit, discard())}, nil, nil, discard())

	rec := do(t, h, http.MethodGet, "/api/audit?event=risk.", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "risk.", audit.prefix)

	var entries []domain.AuditEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "risk.trading_halted", entries[0].Event)
}
