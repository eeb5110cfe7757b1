package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

type balanceVenue struct {
	name string
	bal  map[string]float64
	err  error
}

func (v *balanceVenue) Name() string { return v.name }
func (v *balanceVenue) StreamQuotes(context.Context, []string) (<-chan domain.Quote, error) {
	return nil, nil
}
func (v *balanceVenue) SubmitOrder(context.Context, domain.OrderRequest) (domain.LegResult, error) {
	return domain.LegResult{}, nil
}
func (v *balanceVenue) CancelOrder(context.Context, string, string) error { return nil }
func (v *balanceVenue) GetBalance(context.Context) (map[string]float64, error) {
	return v.bal, v.err
}
func (v *balanceVenue) Close() error { return nil }

type staticPrices map[string]map[string]domain.Quote

func (p staticPrices) Snapshot(symbol string) map[string]domain.Quote { return p[symbol] }

func TestBalanceMonitorValuesEquity(t *testing.T) {
	g, _ := newGate(testConfig())
	venues := []domain.VenueAdapter{
		&balanceVenue{name: "a", bal: map[string]float64{"usdt": 5_000, "BTC": 1, "DUST": 7}},
		&balanceVenue{name: "b", bal: map[string]float64{"USDT": 3_000, "BTC": 0.5}},
	}
	prices := staticPrices{"BTCUSDT": {
		"a": {Bid: 999, Ask: 1001},
		"b": {Bid: 1009, Ask: 1011},
	}}
	m := NewBalanceMonitor(g, venues, prices, []string{"BTCUSDT"}, []string{"USDT"}, 0, discard())

	require.NoError(t, m.Refresh(context.Background()))

	eq, _ := m.LastEquity()
	assert.InDelta(t, 5_000+1_000+3_000+505, eq, 1e-9)
	st := g.State()
	assert.InDelta(t, eq, st.Equity, 1e-9)
	assert.Equal(t, 5_000.0, st.Balances["a"]["USDT"])
}

func TestBalanceMonitorSkipsEquityOnPartialData(t *testing.T) {
	g, _ := newGate(testConfig())
	venues := []domain.VenueAdapter{
		&balanceVenue{name: "a", bal: map[string]float64{"USDT": 5_000}},
		&balanceVenue{name: "b", err: errors.New("timeout")},
	}
	m := NewBalanceMonitor(g, venues, staticPrices{}, []string{"BTCUSDT"}, []string{"USDT"}, 0, discard())

	assert.Error(t, m.Refresh(context.Background()))
	assert.Zero(t, g.State().Equity)
	assert.Equal(t, 5_000.0, g.State().Balances["a"]["USDT"])

	venues[1] = &balanceVenue{name: "b", bal: map[string]float64{"BTC": 1}}
	m = NewBalanceMonitor(g, venues, staticPrices{}, []string{"BTCUSDT"}, []string{"USDT"}, 0, discard())
	assert.Error(t, m.Refresh(context.Background()), "BTC has no price")
	assert.Zero(t, g.State().Equity)
}
