package domain

import (
	"fmt"
	"strings"
)

// Direction is the short-term trend classification for one (symbol, venue).
type Direction string

const (
	DirectionUnknown Direction = "unknown"
	DirectionUp      Direction = "up"
	DirectionDown    Direction = "down"
	DirectionFlat    Direction = "flat"
)

// TrendMode selects how the detector uses trend direction.
type TrendMode string

const (
	TrendDisabled          TrendMode = "disabled"
	TrendUptrendBuyLow     TrendMode = "uptrend_buy_low"
	TrendDowntrendSellHigh TrendMode = "downtrend_sell_high"
	TrendBoth              TrendMode = "both"
)

// ParseTrendMode validates a configured trend_filter_mode value.
func ParseTrendMode(s string) (TrendMode, error) {
	switch m := TrendMode(strings.ToLower(strings.TrimSpace(s))); m {
	case TrendDisabled, TrendUptrendBuyLow, TrendDowntrendSellHigh, TrendBoth:
		return m, nil
	case "":
		return TrendDisabled, nil
	default:
		return "", fmt.Errorf("unknown trend filter mode %q", s)
	}
}

// Verdict is the premium filter's classification of a spread.
type Verdict string

const (
	VerdictNormal  Verdict = "normal"
	VerdictOutlier Verdict = "outlier"
)

// VenuePair is a directed (buy venue, sell venue) route.
type VenuePair struct {
	Buy  string `json:"buy"`
	Sell string `json:"sell"`
}

// String returns "buy->sell".
func (p VenuePair) String() string {
	return p.Buy + "->" + p.Sell
}

// RejectReason is the typed cause of a risk gate rejection.
type RejectReason string

const (
	RejectNone                RejectReason = ""
	RejectConcurrentTrades    RejectReason = "concurrent_trades"
	RejectPositionSize        RejectReason = "position_size"
	RejectSymbolExposure      RejectReason = "symbol_exposure"
	RejectInsufficientBalance RejectReason = "insufficient_balance"
	RejectDrawdown            RejectReason = "drawdown"
	RejectStopLoss            RejectReason = "stop_loss"
	RejectTradeRate           RejectReason = "trade_rate"
	RejectInvalidSignal       RejectReason = "invalid_signal"
)
