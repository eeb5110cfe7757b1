package domain

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQuoteValidate(t *testing.T) {
	base := Quote{Symbol: "ETHUSDT", Venue: "a", Bid: 10, Ask: 10.1, BidSize: 1, AskSize: 2, ObservedAt: time.Unix(100, 0)}
	assert.NoError(t, base.Validate())

	locked := base
	locked.Ask = locked.Bid
	assert.NoError(t, locked.Validate(), "bid == ask is allowed")

	cases := map[string]func(q *Quote){
		"crossed":       func(q *Quote) { q.Bid = 11 },
		"empty symbol":  func(q *Quote) { q.Symbol = " " },
		"empty venue":   func(q *Quote) { q.Venue = "" },
		"zero time":     func(q *Quote) { q.ObservedAt = time.Time{} },
		"nan":           func(q *Quote) { q.Ask = math.NaN() },
		"zero bid":      func(q *Quote) { q.Bid = 0 },
		"negative size": func(q *Quote) { q.BidSize = -0.5 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			q := base
			mutate(&q)
			err := q.Validate()
			assert.True(t, errors.Is(err, ErrInvalidQuote), "got %v", err)
		})
	}
}

func TestQuoteIsStale(t *testing.T) {
	now := time.Unix(1000, 0)
	q := Quote{ObservedAt: now.Add(-2 * time.Second)}

	assert.True(t, q.IsStale(now, time.Second))
	assert.False(t, q.IsStale(now, 3*time.Second))
	assert.False(t, q.IsStale(now, 0))
}

func TestSplitSymbol(t *testing.T) {
	qcs := []string{"USD", "USDT", "BTC"}

	base, quote, ok := SplitSymbol("btcusdt", qcs)
	assert.True(t, ok)
	assert.Equal(t, "BTC", base)
	assert.Equal(t, "USDT", quote)

	base, quote, ok = SplitSymbol("ETHBTC", qcs)
	assert.True(t, ok)
	assert.Equal(t, "ETH", base)
	assert.Equal(t, "BTC", quote)

	_, _, ok = SplitSymbol("USDT", qcs)
	assert.False(t, ok)
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, SideSell, SideBuy.Opposite())
	assert.Equal(t, SideBuy, SideSell.Opposite())
}
