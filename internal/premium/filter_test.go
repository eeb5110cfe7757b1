package premium

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

var pair = domain.VenuePair{Buy: "a", Sell: "b"}

func newFilter(lookback, minSamples int) *Filter {
	return New(Config{Enabled: true, Lookback: lookback, MinSamples: minSamples, OutlierThreshold: 2, Shards: 2})
}

func TestFailOpenBelowMinSamples(t *testing.T) {
	f := newFilter(100, 10)
	for i := 0; i < 9; i++ {
		f.Record("BTCUSDT", pair, 0.001+float64(i)*0.0001)
		ev := f.Evaluate("BTCUSDT", pair, 0.5)
		assert.Equal(t, domain.VerdictNormal, ev.Verdict)
	}
}

func TestOutlierAfterWarmup(t *testing.T) {
	f := newFilter(100, 10)
	for i := 0; i < 20; i++ {
		f.Record("BTCUSDT", pair, 0.002+float64(i%5)*0.0001)
	}

	ev := f.Evaluate("BTCUSDT", pair, 0.0022)
	assert.Equal(t, domain.VerdictNormal, ev.Verdict)
	assert.InDelta(t, 0.0022, ev.Baseline, 1e-12)
	assert.Greater(t, ev.Margin, 0.9)

	ev = f.Evaluate("BTCUSDT", pair, 0.05)
	assert.Equal(t, domain.VerdictOutlier, ev.Verdict)
	assert.Equal(t, 0.0, ev.Margin)
}

func TestZeroDispersionNeverOutlier(t *testing.T) {
	f := newFilter(100, 5)
	for i := 0; i < 10; i++ {
		f.Record("BTCUSDT", pair, 0.003)
	}

	ev := f.Evaluate("BTCUSDT", pair, 0.9)
	assert.Equal(t, domain.VerdictNormal, ev.Verdict)
	assert.Equal(t, 0.0, ev.Dispersion)
}

func TestLookbackBoundsHistory(t *testing.T) {
	f := newFilter(5, 3)
	for i := 0; i < 5; i++ {
		f.Record("BTCUSDT", pair, 1)
	}
	for i := 0; i < 5; i++ {
		f.Record("BTCUSDT", pair, 2)
	}

	b := f.Baselines("BTCUSDT")
	require.Len(t, b, 1)
	assert.Equal(t, 5, b[0].Samples)
	assert.Equal(t, 2.0, b[0].Median)
	assert.Equal(t, 0.0, b[0].Dispersion)
	assert.Equal(t, "a->b", b[0].Pair)
}

func TestPairsAreDirected(t *testing.T) {
	f := newFilter(100, 3)
	for i := 0; i < 5; i++ {
		f.Record("BTCUSDT", pair, 0.001*float64(i+1))
	}

	reverse := domain.VenuePair{Buy: "b", Sell: "a"}
	ev := f.Evaluate("BTCUSDT", reverse, 10)
	assert.Equal(t, 0, ev.Samples)
	assert.Equal(t, domain.VerdictNormal, ev.Verdict)
}

func TestDisabledFilter(t *testing.T) {
	f := New(Config{Enabled: false, MinSamples: 1})
	f.Record("BTCUSDT", pair, 1)
	f.Record("BTCUSDT", pair, 2)

	assert.Equal(t, domain.VerdictNormal, f.Evaluate("BTCUSDT", pair, 100).Verdict)
	assert.Empty(t, f.Baselines(""))
}
