package domain

import (
	"context"
	"time"
)

// QuoteMirror publishes the latest quote per (symbol, venue) to a shared
// cache so other processes and dashboards can read it.
type QuoteMirror interface {
	Set(ctx context.Context, q Quote) error
	GetSymbol(ctx context.Context, symbol string) (map[string]Quote, error)
}

// RateDecision is the outcome of a rate limit check.
type RateDecision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long until the oldest counted request leaves the
	// window. Zero when the request was allowed or the limiter cannot tell.
	RetryAfter time.Duration
}

// RateLimiter provides distributed sliding-window rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateDecision, error)
}

// Lease is a held distributed lock.
type Lease interface {
	// Refresh extends the lease by its TTL. It returns ErrLockLost when the
	// lock is no longer held by this lease.
	Refresh(ctx context.Context) error
	Release()
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel and stream names.
const (
	ChannelQuotes  = "ch:quote"
	ChannelSignals = "ch:signal"
	ChannelTrades  = "ch:trade"
	ChannelRisk    = "ch:risk"
	StreamSignals  = "stream:signals"
	StreamTrades   = "stream:trades"
)
