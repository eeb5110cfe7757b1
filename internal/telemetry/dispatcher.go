// Package telemetry fans engine output (quote batches, signals, closed
// trades) out to persistence and broadcast recorders without ever blocking
// the hot path.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/metrics"
)

// Kind labels a telemetry event.
type Kind string

const (
	KindQuotes Kind = "quotes"
	KindSignal Kind = "signal"
	KindTrade  Kind = "trade"
)

// Recorder is a telemetry destination. Calls run on the dispatcher's
// goroutine and may block on I/O.
type Recorder interface {
	Name() string
	RecordQuotes(ctx context.Context, quotes []domain.Quote) error
	RecordSignal(ctx context.Context, sig domain.Signal) error
	RecordTrade(ctx context.Context, t domain.Trade) error
}

// Config tunes a Dispatcher.
type Config struct {
	// Buffer is the number of pending events held before new ones drop.
	Buffer       int
	WriteTimeout time.Duration
	FlushTimeout time.Duration
}

type event struct {
	kind   Kind
	quotes []domain.Quote
	signal domain.Signal
	trade  domain.Trade
}

// Dispatcher implements domain.TelemetrySink. Events are queued on a
// bounded buffer and delivered to every recorder by Run; when the buffer is
// full the event is dropped and counted.
type Dispatcher struct {
	cfg       Config
	recorders []Recorder
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu      sync.RWMutex
	closed  bool
	events  chan event
	done    chan struct{}
	dropped atomic.Int64
}

var _ domain.TelemetrySink = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher delivering to recorders.
func NewDispatcher(cfg Config, recorders []Recorder, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 4096
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:       cfg,
		recorders: recorders,
		metrics:   m,
		logger:    logger.With(slog.String("component", "telemetry")),
		events:    make(chan event, cfg.Buffer),
		done:      make(chan struct{}),
	}
}

// RecordQuoteBatch queues a batch of accepted quotes.
func (d *Dispatcher) RecordQuoteBatch(quotes []domain.Quote) {
	if len(quotes) == 0 {
		return
	}
	d.enqueue(event{kind: KindQuotes, quotes: quotes})
}

// RecordSignal queues an emitted signal.
func (d *Dispatcher) RecordSignal(sig domain.Signal) {
	d.enqueue(event{kind: KindSignal, signal: sig})
}

// RecordTrade queues a closed trade.
func (d *Dispatcher) RecordTrade(t domain.Trade) {
	d.enqueue(event{kind: KindTrade, trade: t.Clone()})
}

func (d *Dispatcher) enqueue(ev event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(ev.kind)
		return
	}
	select {
	case d.events <- ev:
	default:
		d.drop(ev.kind)
	}
}

func (d *Dispatcher) drop(kind Kind) {
	d.dropped.Add(1)
	d.metrics.TelemetryDrop(string(kind))
}

// Dropped returns how many events were discarded.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int { return len(d.events) }

// Run delivers events until Close is called and the buffer is drained.
// Recorder calls are detached from ctx cancellation so queued events still
// flush during shutdown; each call is bounded by WriteTimeout.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)
	base := context.WithoutCancel(ctx)
	for ev := range d.events {
		d.deliver(base, ev)
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, ev event) {
	for _, r := range d.recorders {
		wctx, cancel := context.WithTimeout(ctx, d.cfg.WriteTimeout)
		var err error
		switch ev.kind {
		case KindQuotes:
			err = r.RecordQuotes(wctx, ev.quotes)
		case KindSignal:
			err = r.RecordSignal(wctx, ev.signal)
		case KindTrade:
			err = r.RecordTrade(wctx, ev.trade)
		}
		cancel()
		if err != nil {
			d.metrics.TelemetryError(r.Name())
			d.logger.Warn("recorder failed",
				slog.String("recorder", r.Name()),
				slog.String("kind", string(ev.kind)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Close stops accepting events and waits up to FlushTimeout for queued
// events to be delivered. Run must be running for the flush to complete.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.events)
	d.mu.Unlock()

	t := time.NewTimer(d.cfg.FlushTimeout)
	defer t.Stop()
	select {
	case <-d.done:
		return nil
	case <-t.C:
		return fmt.Errorf("telemetry: flush timed out with %d events pending", len(d.events))
	}
}
