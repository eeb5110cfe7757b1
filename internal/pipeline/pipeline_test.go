package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/metrics"
	"github.com/alanyoungcy/arbengine/internal/quotecache"
	"github.com/alanyoungcy/arbengine/internal/trend"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// streamVenue hands out a fresh channel per StreamQuotes call.
type streamVenue struct {
	name  string
	opens atomic.Int32
	feeds chan chan domain.Quote
}

func newStreamVenue(name string) *streamVenue {
	return &streamVenue{name: name, feeds: make(chan chan domain.Quote, 4)}
}

func (v *streamVenue) Name() string { return v.name }

func (v *streamVenue) StreamQuotes(ctx context.Context, _ []string) (<-chan domain.Quote, error) {
	v.opens.Add(1)
	select {
	case ch := <-v.feeds:
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (v *streamVenue) SubmitOrder(context.Context, domain.OrderRequest) (domain.LegResult, error) {
	return domain.LegResult{}, nil
}
func (v *streamVenue) CancelOrder(context.Context, string, string) error { return nil }
func (v *streamVenue) GetBalance(context.Context) (map[string]float64, error) {
	return nil, nil
}
func (v *streamVenue) Close() error { return nil }

type recordingDetector struct {
	mu      sync.Mutex
	symbols []string
	panicOn string
}

func (d *recordingDetector) Detect(symbol string) []domain.Signal {
	if symbol == d.panicOn {
		panic("boom")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.symbols = append(d.symbols, symbol)
	return nil
}

func (d *recordingDetector) seen() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.symbols...)
}

type sliceSink struct {
	mu     sync.Mutex
	quotes []domain.Quote
}

func (s *sliceSink) Add(q domain.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes = append(s.quotes, q)
}

func (s *sliceSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.quotes)
}

func quoteAt(symbol string, at time.Time, bid float64) domain.Quote {
	return domain.Quote{
		Symbol:     symbol,
		Venue:      "alpha",
		Bid:        bid,
		Ask:        bid + 0.1,
		BidSize:    1,
		AskSize:    1,
		ObservedAt: at,
	}
}

type harness struct {
	venue    *streamVenue
	cache    *quotecache.Cache
	trend    *trend.Tracker
	detector *recordingDetector
	sink     *sliceSink
	metrics  *metrics.Metrics
	ingestor *Ingestor
}

func newHarness() *harness {
	now := func() time.Time { return t0 }
	h := &harness{
		venue:    newStreamVenue("alpha"),
		cache:    quotecache.New(quotecache.Config{MaxQuoteAge: time.Minute, Now: now}),
		trend:    trend.New(trend.Config{Window: time.Minute}),
		detector: &recordingDetector{panicOn: "PANICUSDT"},
		sink:     &sliceSink{},
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
	h.ingestor = NewIngestor(h.venue, []string{"BTCUSDT"}, Stages{
		Cache:    h.cache,
		Trend:    h.trend,
		Detector: h.detector,
		Sink:     h.sink,
		Metrics:  h.metrics,
		Now:      now,
	}, discard())
	return h
}

func TestProcessAcceptedQuoteRunsEveryStage(t *testing.T) {
	h := newHarness()

	out := h.ingestor.Process(quoteAt("BTCUSDT", t0, 100))
	assert.Equal(t, quotecache.Accepted, out)

	_, ok := h.cache.Get("BTCUSDT", "alpha")
	assert.True(t, ok)
	assert.Equal(t, 1, h.trend.Len())
	assert.Equal(t, []string{"BTCUSDT"}, h.detector.seen())
	assert.Equal(t, 1, h.sink.len())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.QuotesTotal.WithLabelValues("alpha", "accepted")))
}

func TestProcessDropsInvalidAndOutOfOrder(t *testing.T) {
	h := newHarness()

	require.Equal(t, quotecache.Accepted, h.ingestor.Process(quoteAt("BTCUSDT", t0, 100)))

	older := quoteAt("BTCUSDT", t0.Add(-time.Second), 101)
	assert.Equal(t, quotecache.OutOfOrder, h.ingestor.Process(older))

	crossed := quoteAt("BTCUSDT", t0.Add(time.Second), 100)
	crossed.Ask = 99
	assert.Equal(t, quotecache.Invalid, h.ingestor.Process(crossed))

	assert.Len(t, h.detector.seen(), 1)
	assert.Equal(t, 1, h.sink.len())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.QuotesTotal.WithLabelValues("alpha", "out_of_order")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.QuotesTotal.WithLabelValues("alpha", "invalid")))
}

func TestProcessRecoversFromPanic(t *testing.T) {
	h := newHarness()

	assert.NotPanics(t, func() {
		h.ingestor.Process(quoteAt("PANICUSDT", t0, 100))
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.IngestPanics.WithLabelValues("alpha")))

	h.ingestor.Process(quoteAt("BTCUSDT", t0, 100))
	assert.Equal(t, []string{"BTCUSDT"}, h.detector.seen())
}

func TestRunReopensClosedStream(t *testing.T) {
	h := newHarness()

	first := make(chan domain.Quote, 1)
	first <- quoteAt("BTCUSDT", t0, 100)
	close(first)
	second := make(chan domain.Quote, 1)
	second <- quoteAt("ETHUSDT", t0, 50)
	h.venue.feeds <- first
	h.venue.feeds <- second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ingestor.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(h.detector.seen()) == 2
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), h.venue.opens.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ingestor did not stop")
	}
}

type fakePruner struct{ calls int }

func (p *fakePruner) PruneCooldowns(time.Time) int {
	p.calls++
	return 1
}

type fakeRetention struct{ cutoff time.Time }

func (r *fakeRetention) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.cutoff = cutoff
	return 3, nil
}

func TestCleanupSweep(t *testing.T) {
	now := t0.Add(2 * time.Minute)
	cache := quotecache.New(quotecache.Config{MaxQuoteAge: time.Minute, Now: func() time.Time { return now }})
	require.Equal(t, quotecache.Accepted, cache.Update(quoteAt("BTCUSDT", t0, 100)))

	tracker := trend.New(trend.Config{Window: time.Minute})
	tracker.Observe("BTCUSDT", "alpha", 100, t0)

	pruner := &fakePruner{}
	retention := &fakeRetention{}
	c := &Cleanup{
		Cache:        cache,
		Trend:        tracker,
		Cooldowns:    pruner,
		Retention:    retention,
		RetainQuotes: time.Hour,
		Logger:       discard(),
		Now:          func() time.Time { return now },
	}
	c.Sweep(context.Background())

	_, ok := cache.Get("BTCUSDT", "alpha")
	assert.False(t, ok)
	assert.Zero(t, tracker.Len())
	assert.Equal(t, 1, pruner.calls)
	assert.Equal(t, now.Add(-time.Hour), retention.cutoff)
}

type countingRunner struct {
	stopped atomic.Bool
}

func (r *countingRunner) Run(ctx context.Context) error {
	<-ctx.Done()
	r.stopped.Store(true)
	return nil
}

func TestOrchestratorStopsBatcherAfterIngestors(t *testing.T) {
	h := newHarness()
	batcher := &countingRunner{}
	cleanup := &countingRunner{}
	o := NewOrchestrator([]*Ingestor{h.ingestor}, batcher, cleanup, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
	assert.True(t, batcher.stopped.Load())
	assert.True(t, cleanup.stopped.Load())
}
