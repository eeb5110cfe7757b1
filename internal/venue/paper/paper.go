// Package paper implements a simulated venue that fills orders against its
// own latest top of book and keeps virtual balances. Quotes come from a
// wrapped live feed or from a synthetic random walk.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// FillMode selects how submitted orders execute.
type FillMode string

const (
	// FillCross fills only when the limit price crosses the venue's own
	// book, at the book price and up to the displayed size. Anything else
	// rests until cancelled.
	FillCross FillMode = "cross"
	// FillLimit fills every order in full at its limit price.
	FillLimit FillMode = "limit"
)

// Config configures a paper venue.
type Config struct {
	Name            string
	FillMode        FillMode
	TakerFee        float64
	InitialBalances map[string]float64
	QuoteCurrencies []string
	// Feed, when set, supplies real quotes; the paper venue re-labels them
	// with its own name.
	Feed domain.VenueAdapter
	// StartPrices seeds the synthetic random walk used when Feed is nil.
	StartPrices  map[string]float64
	TickInterval time.Duration
	// SpreadBps is the synthetic bid/ask spread in basis points.
	SpreadBps float64
	// Latency delays every order response.
	Latency time.Duration
}

type order struct {
	req    domain.OrderRequest
	id     string
	result domain.LegResult
}

// Venue is a simulated exchange. It is safe for concurrent use.
type Venue struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	books    map[string]domain.Quote
	balances map[string]decimal.Decimal
	orders   map[string]*order
	byID     map[string]string
	fills    int

	closeOnce sync.Once
	done      chan struct{}
}

var _ domain.VenueAdapter = (*Venue)(nil)

// New creates a paper venue.
func New(cfg Config, logger *slog.Logger) *Venue {
	if cfg.FillMode == "" {
		cfg.FillMode = FillCross
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 250 * time.Millisecond
	}
	if cfg.SpreadBps <= 0 {
		cfg.SpreadBps = 2
	}
	if len(cfg.QuoteCurrencies) == 0 {
		cfg.QuoteCurrencies = []string{"USDT", "USDC", "USD", "BTC", "ETH"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	v := &Venue{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "paper_venue"), slog.String("venue", cfg.Name)),
		books:    make(map[string]domain.Quote),
		balances: make(map[string]decimal.Decimal),
		orders:   make(map[string]*order),
		byID:     make(map[string]string),
		done:     make(chan struct{}),
	}
	for asset, amt := range cfg.InitialBalances {
		v.balances[strings.ToUpper(asset)] = decimal.NewFromFloat(amt)
	}
	return v
}

// Name returns the venue name.
func (v *Venue) Name() string { return v.cfg.Name }

// SetQuote replaces the venue's book for q.Symbol.
func (v *Venue) SetQuote(q domain.Quote) {
	v.mu.Lock()
	v.books[q.Symbol] = q
	v.mu.Unlock()
}

// StreamQuotes streams quotes for symbols, updating the venue's own book
// with each one before it is delivered.
func (v *Venue) StreamQuotes(ctx context.Context, symbols []string) (<-chan domain.Quote, error) {
	if v.cfg.Feed != nil {
		src, err := v.cfg.Feed.StreamQuotes(ctx, symbols)
		if err != nil {
			return nil, fmt.Errorf("paper: stream %s: %w", v.cfg.Name, err)
		}
		out := make(chan domain.Quote, 256)
		go v.relay(ctx, src, out)
		return out, nil
	}

	out := make(chan domain.Quote, 256)
	go v.walk(ctx, symbols, out)
	return out, nil
}

func (v *Venue) relay(ctx context.Context, src <-chan domain.Quote, out chan<- domain.Quote) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.done:
			return
		case q, ok := <-src:
			if !ok {
				return
			}
			q.Venue = v.cfg.Name
			v.SetQuote(q)
			select {
			case out <- q:
			case <-ctx.Done():
				return
			}
		}
	}
}

// walk emits a synthetic random walk around StartPrices.
func (v *Venue) walk(ctx context.Context, symbols []string, out chan<- domain.Quote) {
	defer close(out)

	mids := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if p, ok := v.cfg.StartPrices[s]; ok && p > 0 {
			mids[s] = p
		}
	}
	if len(mids) == 0 {
		v.logger.Warn("no start prices configured, synthetic stream idle")
	}

	ticker := time.NewTicker(v.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.done:
			return
		case now := <-ticker.C:
			for sym, mid := range mids {
				mid *= 1 + (rand.Float64()-0.5)*0.0004
				mids[sym] = mid
				half := mid * v.cfg.SpreadBps / 20_000
				q := domain.Quote{
					Symbol:     sym,
					Venue:      v.cfg.Name,
					Bid:        mid - half,
					Ask:        mid + half,
					BidSize:    0.5 + rand.Float64()*4.5,
					AskSize:    0.5 + rand.Float64()*4.5,
					ObservedAt: now,
				}
				v.SetQuote(q)
				select {
				case out <- q:
				default:
				}
			}
		}
	}
}

// SubmitOrder executes req against the venue's book. Resubmitting a
// ClientID returns the original result.
func (v *Venue) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.LegResult, error) {
	if v.cfg.Latency > 0 {
		t := time.NewTimer(v.cfg.Latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return domain.LegResult{}, fmt.Errorf("paper: %w: %w", domain.ErrTransient, ctx.Err())
		case <-t.C:
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if o, ok := v.orders[req.ClientID]; ok && req.ClientID != "" {
		return o.result, nil
	}
	if req.Size <= 0 || req.LimitPrice <= 0 {
		return domain.LegResult{}, fmt.Errorf("paper: size %v price %v: %w", req.Size, req.LimitPrice, domain.ErrRejected)
	}
	base, quote, ok := domain.SplitSymbol(req.Symbol, v.cfg.QuoteCurrencies)
	if !ok {
		return domain.LegResult{}, fmt.Errorf("paper: unknown symbol %s: %w", req.Symbol, domain.ErrRejected)
	}

	price, size := req.LimitPrice, req.Size
	if v.cfg.FillMode == FillCross {
		book, ok := v.books[req.Symbol]
		if !ok {
			return domain.LegResult{}, fmt.Errorf("paper: no book for %s: %w", req.Symbol, domain.ErrRejected)
		}
		price, size = crossing(book, req)
	}

	id := uuid.Must(uuid.NewRandom()).String()
	o := &order{req: req, id: id}
	if size <= 0 {
		o.result = domain.LegResult{OrderID: id, Status: domain.LegSubmitted}
		v.store(o)
		return o.result, nil
	}

	px := decimal.NewFromFloat(price)
	qty := decimal.NewFromFloat(size)
	notional := px.Mul(qty)
	fee := notional.Mul(decimal.NewFromFloat(v.cfg.TakerFee))

	if req.Side == domain.SideBuy {
		need := notional.Add(fee)
		if v.balances[quote].LessThan(need) {
			return domain.LegResult{}, fmt.Errorf("paper: insufficient %s: need %s have %s: %w",
				quote, need.StringFixed(8), v.balances[quote].StringFixed(8), domain.ErrRejected)
		}
		v.balances[quote] = v.balances[quote].Sub(need)
		v.balances[base] = v.balances[base].Add(qty)
	} else {
		if v.balances[base].LessThan(qty) {
			return domain.LegResult{}, fmt.Errorf("paper: insufficient %s: need %s have %s: %w",
				base, qty.String(), v.balances[base].String(), domain.ErrRejected)
		}
		v.balances[base] = v.balances[base].Sub(qty)
		v.balances[quote] = v.balances[quote].Add(notional.Sub(fee))
	}

	status := domain.LegFilled
	if size < req.Size {
		status = domain.LegPartiallyFilled
	}
	feeF, _ := fee.Float64()
	o.result = domain.LegResult{
		OrderID:     id,
		Status:      status,
		FilledPrice: price,
		FilledSize:  size,
		Fee:         feeF,
	}
	v.store(o)
	v.fills++

	v.logger.Debug("paper fill",
		slog.String("order_id", id),
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.Float64("price", price),
		slog.Float64("size", size),
	)
	return o.result, nil
}

// crossing returns the fill price and size of req against book. A zero
// size means the order does not cross.
func crossing(book domain.Quote, req domain.OrderRequest) (price, size float64) {
	if req.Side == domain.SideBuy {
		if req.LimitPrice < book.Ask {
			return 0, 0
		}
		return book.Ask, clip(req.Size, book.AskSize)
	}
	if req.LimitPrice > book.Bid {
		return 0, 0
	}
	return book.Bid, clip(req.Size, book.BidSize)
}

func clip(want, avail float64) float64 {
	if avail > 0 && avail < want {
		return avail
	}
	return want
}

// store must be called with v.mu held.
func (v *Venue) store(o *order) {
	key := o.req.ClientID
	if key == "" {
		key = o.id
	}
	v.orders[key] = o
	v.byID[o.id] = key
}

// CancelOrder cancels a resting order by venue order id or client id.
func (v *Venue) CancelOrder(_ context.Context, symbol, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := orderID
	if k, ok := v.byID[orderID]; ok {
		key = k
	}
	o, ok := v.orders[key]
	if !ok {
		return fmt.Errorf("paper: order %s: %w", orderID, domain.ErrNotFound)
	}
	switch o.result.Status {
	case domain.LegSubmitted:
		o.result.Status = domain.LegCancelled
		return nil
	case domain.LegCancelled:
		return nil
	default:
		return fmt.Errorf("paper: order %s on %s already %s: %w", orderID, symbol, o.result.Status, domain.ErrRejected)
	}
}

// GetBalance returns a copy of the virtual balances.
func (v *Venue) GetBalance(context.Context) (map[string]float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]float64, len(v.balances))
	for asset, amt := range v.balances {
		out[asset], _ = amt.Float64()
	}
	return out, nil
}

// Fills returns how many orders have executed.
func (v *Venue) Fills() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fills
}

// Close stops any running stream.
func (v *Venue) Close() error {
	v.closeOnce.Do(func() { close(v.done) })
	return nil
}
