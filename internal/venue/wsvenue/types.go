package wsvenue

import (
	"github.com/shopspring/decimal"
)

// subscribeCommand is sent after every (re)connect.
type subscribeCommand struct {
	Op      string   `json:"op"`
	Channel string   `json:"channel"`
	Symbols []string `json:"symbols"`
}

// tickerMessage is a top-of-book update. Numeric fields may arrive as JSON
// numbers or strings.
type tickerMessage struct {
	Type    string          `json:"type"`
	Symbol  string          `json:"symbol"`
	Bid     decimal.Decimal `json:"bid"`
	Ask     decimal.Decimal `json:"ask"`
	BidSize decimal.Decimal `json:"bid_size"`
	AskSize decimal.Decimal `json:"ask_size"`
	// TS is the exchange timestamp in Unix milliseconds.
	TS int64 `json:"ts"`
}

type orderRequest struct {
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	Price         string `json:"price"`
	Quantity      string `json:"quantity"`
}

type orderResponse struct {
	OrderID   string          `json:"order_id"`
	Status    string          `json:"status"`
	FilledQty decimal.Decimal `json:"filled_qty"`
	AvgPrice  decimal.Decimal `json:"avg_price"`
	Fee       decimal.Decimal `json:"fee"`
	Message   string          `json:"message"`
}

type cancelRequest struct {
	Symbol string `json:"symbol"`
	ID     string `json:"id"`
}

type balanceEntry struct {
	Asset string          `json:"asset"`
	Free  decimal.Decimal `json:"free"`
}
