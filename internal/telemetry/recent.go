package telemetry

import (
	"context"
	"sync"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// Recent keeps the last signals in memory for the operator API when no
// signal store is configured.
type Recent struct {
	mu      sync.Mutex
	size    int
	signals []domain.Signal
	next    int
	full    bool
}

// NewRecent creates a Recent holding up to size signals.
func NewRecent(size int) *Recent {
	if size <= 0 {
		size = 200
	}
	return &Recent{size: size, signals: make([]domain.Signal, size)}
}

func (r *Recent) Name() string { return "recent" }

func (r *Recent) RecordQuotes(context.Context, []domain.Quote) error { return nil }

func (r *Recent) RecordSignal(_ context.Context, sig domain.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals[r.next] = sig
	r.next = (r.next + 1) % r.size
	if r.next == 0 {
		r.full = true
	}
	return nil
}

func (r *Recent) RecordTrade(context.Context, domain.Trade) error { return nil }

// Signals returns up to limit signals, newest first. A non-positive limit
// returns everything held.
func (r *Recent) Signals(limit int) []domain.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.next
	if r.full {
		n = r.size
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Signal, 0, limit)
	for i := 1; i <= limit; i++ {
		out = append(out, r.signals[(r.next-i+r.size)%r.size])
	}
	return out
}
