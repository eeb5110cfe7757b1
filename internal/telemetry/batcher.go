package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// QuoteBatcher accumulates accepted quotes and hands them to a sink in
// batches, by size or on a timer.
type QuoteBatcher struct {
	sink     domain.TelemetrySink
	size     int
	interval time.Duration

	mu  sync.Mutex
	buf []domain.Quote
}

// NewQuoteBatcher creates a batcher flushing every size quotes or interval.
func NewQuoteBatcher(sink domain.TelemetrySink, size int, interval time.Duration) *QuoteBatcher {
	if size <= 0 {
		size = 500
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &QuoteBatcher{
		sink:     sink,
		size:     size,
		interval: interval,
		buf:      make([]domain.Quote, 0, size),
	}
}

// Add appends q, flushing when the batch is full.
func (b *QuoteBatcher) Add(q domain.Quote) {
	b.mu.Lock()
	b.buf = append(b.buf, q)
	if len(b.buf) < b.size {
		b.mu.Unlock()
		return
	}
	batch := b.take()
	b.mu.Unlock()
	b.sink.RecordQuoteBatch(batch)
}

// Flush hands any buffered quotes to the sink.
func (b *QuoteBatcher) Flush() {
	b.mu.Lock()
	batch := b.take()
	b.mu.Unlock()
	if len(batch) > 0 {
		b.sink.RecordQuoteBatch(batch)
	}
}

// take must be called with b.mu held.
func (b *QuoteBatcher) take() []domain.Quote {
	batch := b.buf
	b.buf = make([]domain.Quote, 0, b.size)
	return batch
}

// Run flushes on the interval until ctx is done, then flushes once more.
func (b *QuoteBatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.Flush()
			return nil
		case <-ticker.C:
			b.Flush()
		}
	}
}
