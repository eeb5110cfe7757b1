package domain

import "time"

// Signal is an immutable, executable arbitrage opportunity: buy Size units
// of Symbol on BuyVenue at BuyPrice and sell them on SellVenue at SellPrice.
type Signal struct {
	ID        string  `json:"id"`
	Symbol    string  `json:"symbol"`
	BuyVenue  string  `json:"buy_venue"`
	SellVenue string  `json:"sell_venue"`
	BuyPrice  float64 `json:"buy_price"`
	SellPrice float64 `json:"sell_price"`
	Size      float64 `json:"size"`
	// GrossProfit is the per-unit price difference sell - buy.
	GrossProfit  float64 `json:"gross_profit"`
	NetProfitPct float64 `json:"net_profit_pct"`
	// SpreadPct is the raw spread percentage fed to the premium filter.
	SpreadPct float64 `json:"spread_pct"`
	// Confidence is a priority hint in [0,1]; it never gates execution.
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// Notional returns the quote-currency value of the buy leg.
func (s Signal) Notional() float64 {
	return s.BuyPrice * s.Size
}

// ExpectedProfit returns the net profit in quote currency if both legs fill
// at the signalled prices.
func (s Signal) ExpectedProfit() float64 {
	return s.NetProfitPct * s.Notional()
}

// Expired reports whether the signal is older than maxAge at now.
func (s Signal) Expired(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(s.CreatedAt) > maxAge
}

// PairKey identifies the directed (symbol, buy venue, sell venue) route.
func (s Signal) PairKey() string {
	return s.Symbol + "|" + s.BuyVenue + "->" + s.SellVenue
}
