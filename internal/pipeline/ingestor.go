// Package pipeline drives quotes from venue adapters through the in-memory
// decision path: quote cache, trend tracker, arbitrage detector and the
// telemetry quote batcher.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/metrics"
	"github.com/alanyoungcy/arbengine/internal/quotecache"
	"github.com/alanyoungcy/arbengine/internal/trend"
)

const (
	restartBackoff    = 500 * time.Millisecond
	maxRestartBackoff = 30 * time.Second
)

// Detector evaluates a symbol after one of its quotes changed.
type Detector interface {
	Detect(symbol string) []domain.Signal
}

// QuoteSink collects accepted quotes for batched telemetry.
type QuoteSink interface {
	Add(q domain.Quote)
}

// Stages are the steps run for every quote. Trend, Detector and Sink may be
// nil; monitor tooling that only needs the cache leaves them out.
type Stages struct {
	Cache    *quotecache.Cache
	Trend    *trend.Tracker
	Detector Detector
	Sink     QuoteSink
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Ingestor consumes one venue's quote stream. Each venue gets its own
// Ingestor and goroutine, so quotes from a venue are processed in arrival
// order.
type Ingestor struct {
	venue   domain.VenueAdapter
	symbols []string
	stages  Stages
	logger  *slog.Logger
	now     func() time.Time
}

// NewIngestor creates an Ingestor for venue.
func NewIngestor(venue domain.VenueAdapter, symbols []string, stages Stages, logger *slog.Logger) *Ingestor {
	now := stages.Now
	if now == nil {
		now = time.Now
	}
	return &Ingestor{
		venue:   venue,
		symbols: symbols,
		stages:  stages,
		logger: logger.With(
			slog.String("component", "ingestor"),
			slog.String("venue", venue.Name()),
		),
		now: now,
	}
}

// Run streams quotes until ctx is cancelled. A stream that ends early is
// reopened with exponential backoff.
func (in *Ingestor) Run(ctx context.Context) error {
	backoff := restartBackoff
	for {
		quotes, err := in.venue.StreamQuotes(ctx, in.symbols)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			in.logger.Warn("open quote stream failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff),
			)
		} else {
			in.logger.Info("quote stream open", slog.Int("symbols", len(in.symbols)))
			if in.consume(ctx, quotes) {
				backoff = restartBackoff
			}
			if ctx.Err() != nil {
				return nil
			}
			in.logger.Warn("quote stream ended", slog.Duration("retry_in", backoff))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxRestartBackoff)
	}
}

// consume drains quotes until the channel closes or ctx is done. It reports
// whether at least one quote arrived.
func (in *Ingestor) consume(ctx context.Context, quotes <-chan domain.Quote) bool {
	received := false
	for {
		select {
		case <-ctx.Done():
			return received
		case q, ok := <-quotes:
			if !ok {
				return received
			}
			received = true
			in.Process(q)
		}
	}
}

// Process runs q through the stages. A panic in any stage is recovered and
// counted so one bad quote cannot stop the venue's stream.
func (in *Ingestor) Process(q domain.Quote) (outcome quotecache.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			in.stages.Metrics.IngestPanic(in.venue.Name())
			in.logger.Error("quote processing panicked",
				slog.String("symbol", q.Symbol),
				slog.String("panic", fmt.Sprint(r)),
			)
			outcome = quotecache.Invalid
		}
	}()

	outcome = in.stages.Cache.Update(q)
	in.stages.Metrics.QuoteProcessed(q.Venue, string(outcome), q.Age(in.now()))
	if outcome != quotecache.Accepted {
		in.logger.Debug("quote dropped",
			slog.String("symbol", q.Symbol),
			slog.String("outcome", string(outcome)),
		)
		return outcome
	}

	if in.stages.Trend != nil {
		in.stages.Trend.Observe(q.Symbol, q.Venue, q.Mid(), q.ObservedAt)
	}
	if in.stages.Detector != nil {
		in.stages.Detector.Detect(q.Symbol)
	}
	if in.stages.Sink != nil {
		in.stages.Sink.Add(q)
	}
	return outcome
}
