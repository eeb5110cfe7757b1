package domain

import (
	"context"
	"time"
)

// ListOpts carries pagination and time filters for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SignalStore persists emitted signals.
type SignalStore interface {
	Insert(ctx context.Context, sig Signal) error
	ListRecent(ctx context.Context, opts ListOpts) ([]Signal, error)
}

// TradeStore persists closed trades together with their legs.
type TradeStore interface {
	Insert(ctx context.Context, trade Trade) error
	GetByID(ctx context.Context, id string) (Trade, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]Trade, error)
}

// QuoteStore persists batches of accepted quotes.
type QuoteStore interface {
	InsertBatch(ctx context.Context, quotes []Quote) (int64, error)
}

// AuditEntry is a single row of the audit log.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore records operator-relevant events (halts, escalations).
// Event names are dotted, e.g. "risk.trading_halted", so a prefix selects a
// family of events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, eventPrefix string, opts ListOpts) ([]AuditEntry, error)
}
