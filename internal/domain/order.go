package domain

import "time"

// Side indicates whether a leg buys or sells the base asset.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the side that flattens a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderRequest is a venue-neutral order submission.
type OrderRequest struct {
	// ClientID is an idempotency key; venues that support client order ids
	// must reuse it across retries of the same leg.
	ClientID   string
	Symbol     string
	Side       Side
	Size       float64
	LimitPrice float64
	Timeout    time.Duration
}

// LegResult is what a venue reports back for a submitted order.
type LegResult struct {
	OrderID     string    `json:"order_id"`
	Status      LegStatus `json:"status"`
	FilledPrice float64   `json:"filled_price"`
	FilledSize  float64   `json:"filled_size"`
	Fee         float64   `json:"fee"`
	Message     string    `json:"message,omitempty"`
}
