package paper

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

func newVenue(mode FillMode) *Venue {
	v := New(Config{
		Name:            "sim",
		FillMode:        mode,
		TakerFee:        0.001,
		InitialBalances: map[string]float64{"usdt": 10_000, "BTC": 1},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	v.SetQuote(domain.Quote{
		Symbol: "BTCUSDT", Venue: "sim",
		Bid: 99, Ask: 101, BidSize: 0.5, AskSize: 2,
		ObservedAt: time.Now(),
	})
	return v
}

func TestCrossingBuyFillsAtAskAndDebitsBalance(t *testing.T) {
	v := newVenue(FillCross)
	res, err := v.SubmitOrder(context.Background(), domain.OrderRequest{
		ClientID: "c1", Symbol: "BTCUSDT", Side: domain.SideBuy, Size: 1, LimitPrice: 102,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.LegFilled, res.Status)
	assert.Equal(t, 101.0, res.FilledPrice)
	assert.InDelta(t, 0.101, res.Fee, 1e-12)

	bal, err := v.GetBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 10_000-101-0.101, bal["USDT"], 1e-9)
	assert.InDelta(t, 2.0, bal["BTC"], 1e-12)
}

func TestCrossingSellIsClippedToDisplayedSize(t *testing.T) {
	v := newVenue(FillCross)
	res, err := v.SubmitOrder(context.Background(), domain.OrderRequest{
		ClientID: "c1", Symbol: "BTCUSDT", Side: domain.SideSell, Size: 1, LimitPrice: 98,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.LegPartiallyFilled, res.Status)
	assert.Equal(t, 0.5, res.FilledSize)
	assert.Equal(t, 99.0, res.FilledPrice)
}

func TestNonCrossingOrderRestsUntilCancelled(t *testing.T) {
	v := newVenue(FillCross)
	ctx := context.Background()
	res, err := v.SubmitOrder(ctx, domain.OrderRequest{
		ClientID: "c1", Symbol: "BTCUSDT", Side: domain.SideBuy, Size: 1, LimitPrice: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.LegSubmitted, res.Status)

	require.NoError(t, v.CancelOrder(ctx, "BTCUSDT", res.OrderID))
	again, err := v.SubmitOrder(ctx, domain.OrderRequest{ClientID: "c1", Symbol: "BTCUSDT", Side: domain.SideBuy, Size: 1, LimitPrice: 100})
	require.NoError(t, err)
	assert.Equal(t, domain.LegCancelled, again.Status)

	assert.ErrorIs(t, v.CancelOrder(ctx, "BTCUSDT", "missing"), domain.ErrNotFound)
}

func TestClientIDIsIdempotent(t *testing.T) {
	v := newVenue(FillLimit)
	req := domain.OrderRequest{ClientID: "c1", Symbol: "BTCUSDT", Side: domain.SideBuy, Size: 1, LimitPrice: 100}
	first, err := v.SubmitOrder(context.Background(), req)
	require.NoError(t, err)
	second, err := v.SubmitOrder(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, v.Fills())
	assert.ErrorIs(t, v.CancelOrder(context.Background(), "BTCUSDT", first.OrderID), domain.ErrRejected)
}

func TestInsufficientBalanceIsRejected(t *testing.T) {
	v := newVenue(FillLimit)
	_, err := v.SubmitOrder(context.Background(), domain.OrderRequest{
		ClientID: "c1", Symbol: "BTCUSDT", Side: domain.SideSell, Size: 5, LimitPrice: 100,
	})
	assert.ErrorIs(t, err, domain.ErrRejected)
	assert.Zero(t, v.Fills())
}

func TestLatencyHonoursContext(t *testing.T) {
	v := New(Config{Name: "slow", FillMode: FillLimit, Latency: time.Second}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := v.SubmitOrder(ctx, domain.OrderRequest{ClientID: "c", Symbol: "BTCUSDT", Side: domain.SideBuy, Size: 1, LimitPrice: 1})
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func TestRelayRelabelsAndBooksFeedQuotes(t *testing.T) {
	feed := New(Config{
		Name:         "synthetic",
		StartPrices:  map[string]float64{"BTCUSDT": 100},
		TickInterval: 5 * time.Millisecond,
	}, nil)
	defer feed.Close()
	v := New(Config{Name: "sim", Feed: feed}, nil)
	defer v.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := v.StreamQuotes(ctx, []string{"BTCUSDT"})
	require.NoError(t, err)

	select {
	case q := <-ch:
		assert.Equal(t, "sim", q.Venue)
		require.NoError(t, q.Validate())
		v.mu.Lock()
		_, ok := v.books["BTCUSDT"]
		v.mu.Unlock()
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("no quote relayed")
	}
}
