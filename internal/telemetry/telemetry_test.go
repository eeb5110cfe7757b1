package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/metrics"
)

type captureRecorder struct {
	name string
	err  error

	mu      sync.Mutex
	quotes  int
	signals []string
	trades  []string
}

func (c *captureRecorder) Name() string { return c.name }

func (c *captureRecorder) RecordQuotes(_ context.Context, q []domain.Quote) error {
	c.mu.Lock()
	c.quotes += len(q)
	c.mu.Unlock()
	return c.err
}

func (c *captureRecorder) RecordSignal(_ context.Context, s domain.Signal) error {
	c.mu.Lock()
	c.signals = append(c.signals, s.ID)
	c.mu.Unlock()
	return c.err
}

func (c *captureRecorder) RecordTrade(_ context.Context, t domain.Trade) error {
	c.mu.Lock()
	c.trades = append(c.trades, t.ID)
	c.mu.Unlock()
	return c.err
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestDispatcherDeliversToEveryRecorderAndFlushesOnClose(t *testing.T) {
	a := &captureRecorder{name: "a"}
	b := &captureRecorder{name: "b", err: errors.New("down")}
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(Config{Buffer: 16}, []Recorder{a, b}, m, quiet())

	d.RecordSignal(domain.Signal{ID: "s1"})
	d.RecordTrade(domain.Trade{ID: "t1"})
	d.RecordQuoteBatch([]domain.Quote{{Symbol: "BTCUSDT"}, {Symbol: "ETHUSDT"}})
	d.RecordQuoteBatch(nil)

	go func() { _ = d.Run(context.Background()) }()
	require.NoError(t, d.Close())

	assert.Equal(t, []string{"s1"}, a.signals)
	assert.Equal(t, []string{"t1"}, a.trades)
	assert.Equal(t, 2, a.quotes)
	assert.Equal(t, []string{"s1"}, b.signals)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TelemetryErrors.WithLabelValues("b")))
	assert.Zero(t, d.Dropped())
}

func TestDispatcherDropsWhenFullOrClosed(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(Config{Buffer: 1, FlushTimeout: 50 * time.Millisecond}, nil, m, quiet())

	d.RecordSignal(domain.Signal{ID: "kept"})
	d.RecordSignal(domain.Signal{ID: "dropped"})
	assert.Equal(t, int64(1), d.Dropped())
	assert.Equal(t, 1, d.Pending())

	go func() { _ = d.Run(context.Background()) }()
	require.NoError(t, d.Close())
	d.RecordTrade(domain.Trade{ID: "late"})

	assert.Equal(t, int64(2), d.Dropped())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TelemetryDropped.WithLabelValues("signal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TelemetryDropped.WithLabelValues("trade")))
}

func TestDispatcherCloseTimesOutWithoutRun(t *testing.T) {
	d := NewDispatcher(Config{Buffer: 4, FlushTimeout: 10 * time.Millisecond}, nil, nil, quiet())
	d.RecordSignal(domain.Signal{ID: "s"})
	assert.Error(t, d.Close())
	assert.NoError(t, d.Close())
}

type batchSink struct {
	mu      sync.Mutex
	batches [][]domain.Quote
}

func (s *batchSink) RecordQuoteBatch(q []domain.Quote) {
	s.mu.Lock()
	s.batches = append(s.batches, q)
	s.mu.Unlock()
}
func (s *batchSink) RecordSignal(domain.Signal) {}
func (s *batchSink) RecordTrade(domain.Trade)   {}

func (s *batchSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func TestQuoteBatcherFlushesBySize(t *testing.T) {
	sink := &batchSink{}
	b := NewQuoteBatcher(sink, 3, time.Hour)
	for i := 0; i < 7; i++ {
		b.Add(domain.Quote{Symbol: "BTCUSDT"})
	}
	require.Equal(t, 2, sink.count())
	assert.Len(t, sink.batches[0], 3)

	b.Flush()
	require.Equal(t, 3, sink.count())
	assert.Len(t, sink.batches[2], 1)

	b.Flush()
	assert.Equal(t, 3, sink.count(), "empty flush is a no-op")
}

func TestQuoteBatcherRunFlushesOnTimerAndExit(t *testing.T) {
	sink := &batchSink{}
	b := NewQuoteBatcher(sink, 100, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Run(ctx)
		close(done)
	}()

	b.Add(domain.Quote{Symbol: "BTCUSDT"})
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)

	b.Add(domain.Quote{Symbol: "ETHUSDT"})
	cancel()
	<-done
	assert.GreaterOrEqual(t, sink.count(), 2)
}

type fakeBus struct {
	published map[string]int
	streamed  map[string]int
}

func (f *fakeBus) Publish(_ context.Context, ch string, _ []byte) error {
	f.published[ch]++
	return nil
}
func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (f *fakeBus) StreamAppend(_ context.Context, s string, _ []byte) error {
	f.streamed[s]++
	return nil
}
func (f *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeMirror struct{ set []domain.Quote }

func (f *fakeMirror) Set(_ context.Context, q domain.Quote) error {
	f.set = append(f.set, q)
	return nil
}
func (f *fakeMirror) GetSymbol(context.Context, string) (map[string]domain.Quote, error) {
	return nil, nil
}

func TestBusRecorderMirrorsNewestQuotePerVenue(t *testing.T) {
	bus := &fakeBus{published: map[string]int{}, streamed: map[string]int{}}
	mirror := &fakeMirror{}
	r := &BusRecorder{Bus: bus, Mirror: mirror}
	t0 := time.Unix(100, 0)

	require.NoError(t, r.RecordQuotes(context.Background(), []domain.Quote{
		{Symbol: "BTCUSDT", Venue: "a", Bid: 1, ObservedAt: t0},
		{Symbol: "BTCUSDT", Venue: "a", Bid: 2, ObservedAt: t0.Add(time.Second)},
		{Symbol: "BTCUSDT", Venue: "b", Bid: 3, ObservedAt: t0},
	}))
	require.Len(t, mirror.set, 2)
	for _, q := range mirror.set {
		if q.Venue == "a" {
			assert.Equal(t, 2.0, q.Bid)
		}
	}

	require.NoError(t, r.RecordSignal(context.Background(), domain.Signal{ID: "s"}))
	require.NoError(t, r.RecordTrade(context.Background(), domain.Trade{ID: "t"}))
	assert.Equal(t, 1, bus.published[domain.ChannelSignals])
	assert.Equal(t, 1, bus.streamed[domain.StreamTrades])
}

type fakeAudit struct{ events []string }

func (f *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	f.events = append(f.events, event)
	return nil
}
func (f *fakeAudit) List(context.Context, string, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestStoreRecorderAuditsUnsuccessfulTrades(t *testing.T) {
	audit := &fakeAudit{}
	r := &StoreRecorder{Audit: audit}
	require.NoError(t, r.RecordTrade(context.Background(), domain.Trade{ID: "ok", Status: domain.TradeCompleted}))
	require.NoError(t, r.RecordTrade(context.Background(), domain.Trade{ID: "bad", Status: domain.TradeUnwound}))
	require.NoError(t, r.RecordSignal(context.Background(), domain.Signal{}))
	assert.Equal(t, []string{"trade.unwound"}, audit.events)
}

func TestRecentKeepsNewestSignals(t *testing.T) {
	r := NewRecent(3)
	ctx := context.Background()
	assert.Empty(t, r.Signals(0))

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, r.RecordSignal(ctx, domain.Signal{ID: id}))
	}

	got := r.Signals(0)
	require.Len(t, got, 3)
	assert.Equal(t, "d", got[0].ID)
	assert.Equal(t, "b", got[2].ID)

	assert.Len(t, r.Signals(2), 2)
}
