package domain

import "context"

// VenueAdapter is the narrow contract every exchange integration satisfies.
// Simulated and replay venues implement the same interface.
type VenueAdapter interface {
	// Name returns the venue identifier used in quotes and legs.
	Name() string
	// StreamQuotes starts streaming normalized quotes for symbols. The
	// channel is closed when ctx is done or the adapter is closed.
	StreamQuotes(ctx context.Context, symbols []string) (<-chan Quote, error)
	// SubmitOrder places an order and waits up to req.Timeout for a
	// result. Errors wrapping ErrTransient mean the venue never confirmed
	// the order and the call may be retried with the same ClientID.
	SubmitOrder(ctx context.Context, req OrderRequest) (LegResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetBalance(ctx context.Context) (map[string]float64, error)
	Close() error
}
