package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Quote is a normalized top-of-book observation for one symbol on one venue.
type Quote struct {
	Symbol     string    `json:"symbol"`
	Venue      string    `json:"venue"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	BidSize    float64   `json:"bid_size"`
	AskSize    float64   `json:"ask_size"`
	ObservedAt time.Time `json:"observed_at"`
}

// Mid returns the midpoint of bid and ask.
func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// Age returns how long ago the quote was observed relative to now.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.ObservedAt)
}

// IsStale reports whether the quote is older than maxAge at now. A zero
// maxAge disables staleness.
func (q Quote) IsStale(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return q.Age(now) > maxAge
}

// Validate checks the structural invariants of a quote. It returns an error
// wrapping ErrInvalidQuote describing the first violation.
func (q Quote) Validate() error {
	switch {
	case strings.TrimSpace(q.Symbol) == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidQuote)
	case strings.TrimSpace(q.Venue) == "":
		return fmt.Errorf("%w: empty venue", ErrInvalidQuote)
	case q.ObservedAt.IsZero():
		return fmt.Errorf("%w: missing observed_at", ErrInvalidQuote)
	case !finite(q.Bid, q.Ask, q.BidSize, q.AskSize):
		return fmt.Errorf("%w: non-finite field", ErrInvalidQuote)
	case q.Bid <= 0 || q.Ask <= 0:
		return fmt.Errorf("%w: non-positive price bid=%v ask=%v", ErrInvalidQuote, q.Bid, q.Ask)
	case q.Bid > q.Ask:
		return fmt.Errorf("%w: crossed book bid=%v > ask=%v", ErrInvalidQuote, q.Bid, q.Ask)
	case q.BidSize < 0 || q.AskSize < 0:
		return fmt.Errorf("%w: negative size", ErrInvalidQuote)
	}
	return nil
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// SplitSymbol splits a concatenated symbol such as "BTCUSDT" into its base
// and quote assets using the given list of known quote currencies. The
// longest matching suffix wins. ok is false when no quote currency matches.
func SplitSymbol(symbol string, quoteCurrencies []string) (base, quote string, ok bool) {
	sym := strings.ToUpper(symbol)
	for _, qc := range quoteCurrencies {
		qc = strings.ToUpper(qc)
		if len(qc) >= len(sym) || !strings.HasSuffix(sym, qc) {
			continue
		}
		if len(qc) > len(quote) {
			base, quote = sym[:len(sym)-len(qc)], qc
		}
	}
	return base, quote, quote != ""
}
