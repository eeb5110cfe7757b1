package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LegStatus tracks one order of a two-leg trade.
type LegStatus string

const (
	LegPending         LegStatus = "pending"
	LegSubmitted       LegStatus = "submitted"
	LegFilled          LegStatus = "filled"
	LegPartiallyFilled LegStatus = "partially_filled"
	LegFailed          LegStatus = "failed"
	LegCancelled       LegStatus = "cancelled"
)

// Confirmed reports whether the venue has confirmed any execution for the
// leg. A confirmed leg must never be submitted again.
func (s LegStatus) Confirmed() bool {
	return s == LegFilled || s == LegPartiallyFilled
}

// Terminal reports whether no further venue response can change the leg.
func (s LegStatus) Terminal() bool {
	switch s {
	case LegFilled, LegPartiallyFilled, LegFailed, LegCancelled:
		return true
	}
	return false
}

// TradeStatus is the state of the two-leg execution saga.
type TradeStatus string

const (
	TradeInitiated      TradeStatus = "initiated"
	TradeLegsSubmitting TradeStatus = "legs_submitting"
	TradeLegsSubmitted  TradeStatus = "legs_submitted"
	TradeCompleted      TradeStatus = "completed"
	TradePartialFailure TradeStatus = "partial_failure"
	TradeUnwinding      TradeStatus = "unwinding"
	TradeUnwound        TradeStatus = "unwound"
	TradeFailed         TradeStatus = "failed"
)

// Terminal reports whether the trade has reached Completed, Unwound or Failed.
func (s TradeStatus) Terminal() bool {
	return s == TradeCompleted || s == TradeUnwound || s == TradeFailed
}

// Leg is one side of an arbitrage trade.
type Leg struct {
	Venue          string    `json:"venue"`
	Side           Side      `json:"side"`
	Symbol         string    `json:"symbol"`
	RequestedPrice float64   `json:"requested_price"`
	RequestedSize  float64   `json:"requested_size"`
	FilledPrice    float64   `json:"filled_price"`
	FilledSize     float64   `json:"filled_size"`
	Fee            float64   `json:"fee"`
	Status         LegStatus `json:"status"`
	OrderID        string    `json:"order_id,omitempty"`
	ClientID       string    `json:"client_id,omitempty"`
	Attempts       int       `json:"attempts"`
	Error          string    `json:"error,omitempty"`
}

// Notional returns the executed quote-currency value of the leg.
func (l Leg) Notional() decimal.Decimal {
	return decimal.NewFromFloat(l.FilledPrice).Mul(decimal.NewFromFloat(l.FilledSize))
}

// StatusChange records one saga transition.
type StatusChange struct {
	From TradeStatus `json:"from"`
	To   TradeStatus `json:"to"`
	At   time.Time   `json:"at"`
}

// Trade is the full record of one executed (or attempted) signal.
type Trade struct {
	ID       string      `json:"id"`
	SignalID string      `json:"signal_id"`
	Signal   Signal      `json:"signal"`
	BuyLeg   Leg         `json:"buy_leg"`
	SellLeg  Leg         `json:"sell_leg"`
	Unwind   *Leg        `json:"unwind,omitempty"`
	Status   TradeStatus `json:"status"`
	// RealizedPnL is the quote-currency result of everything that filled,
	// including an unwind and fees.
	RealizedPnL float64 `json:"realized_pnl"`
	// UnwindLoss is the slippage paid to flatten an exposed leg (>= 0).
	UnwindLoss float64        `json:"unwind_loss"`
	Reason     string         `json:"reason,omitempty"`
	History    []StatusChange `json:"history"`
	OpenedAt   time.Time      `json:"opened_at"`
	ClosedAt   *time.Time     `json:"closed_at,omitempty"`
}

// Notional returns the requested buy-side notional of the trade.
func (t Trade) Notional() float64 {
	return t.BuyLeg.RequestedPrice * t.BuyLeg.RequestedSize
}

// Clone returns a deep copy safe to hand to other goroutines.
func (t Trade) Clone() Trade {
	out := t
	if t.Unwind != nil {
		u := *t.Unwind
		out.Unwind = &u
	}
	if t.ClosedAt != nil {
		c := *t.ClosedAt
		out.ClosedAt = &c
	}
	out.History = append([]StatusChange(nil), t.History...)
	return out
}
