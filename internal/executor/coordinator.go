// Package executor drives approved signals through the two-leg trade saga:
// both legs are submitted concurrently, exposure left by a failed leg is
// flattened with a compensating order, and capacity is returned to the risk
// gate once the trade is terminal.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/metrics"
	"github.com/alanyoungcy/arbengine/internal/risk"
)

// Alert events raised by the coordinator.
const (
	EventTradeFailed = "trade_failed"
	EventUnwound     = "unwound"
)

const (
	recentTrades       = 200
	cancelFailedPrefix = "cancel failed: "
)

// Config holds execution timing and tolerance settings.
type Config struct {
	// LegTimeout bounds each leg, retries included.
	LegTimeout    time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	FillTolerance float64
	UnwindTimeout time.Duration
	DrainTimeout  time.Duration
	// MaxSignalAge discards queued signals older than this.
	MaxSignalAge time.Duration
}

// Authorizer reserves and releases risk capacity.
type Authorizer interface {
	Authorize(sig domain.Signal) risk.Decision
	Release(res *risk.Reservation, pnl, unwindLoss float64)
}

// QuoteSource gives the latest cached quote for pricing an unwind.
type QuoteSource interface {
	Get(symbol, venue string) (domain.Quote, bool)
}

// Alerter escalates events to operators.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// SignalSource yields signals until it is closed.
type SignalSource interface {
	Pop(ctx context.Context) (domain.Signal, error)
}

// Deps are the collaborators of a Coordinator. Quotes, Telemetry, Alerter
// and Metrics may be nil.
type Deps struct {
	Venues    map[string]domain.VenueAdapter
	Gate      Authorizer
	Quotes    QuoteSource
	Telemetry domain.TelemetrySink
	Alerter   Alerter
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// Stats counts trades by outcome.
type Stats struct {
	Active    int   `json:"active"`
	Completed int64 `json:"completed"`
	Unwound   int64 `json:"unwound"`
	Failed    int64 `json:"failed"`
	Expired   int64 `json:"expired_signals"`
	Rejected  int64 `json:"rejected_signals"`
}

// Coordinator executes approved signals. Different trades run fully in
// parallel; the risk gate bounds how many are in flight.
type Coordinator struct {
	cfg       Config
	venues    map[string]domain.VenueAdapter
	gate      Authorizer
	quotes    QuoteSource
	telemetry domain.TelemetrySink
	alerter   Alerter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	dedup     *Dedup

	wg     sync.WaitGroup
	mu     sync.Mutex
	active map[string]domain.Trade
	recent []domain.Trade

	completed atomic.Int64
	unwound   atomic.Int64
	failed    atomic.Int64
	expired   atomic.Int64
	rejected  atomic.Int64
}

// NewCoordinator creates a Coordinator, filling zero config values with
// defaults.
func NewCoordinator(cfg Config, deps Deps) *Coordinator {
	if cfg.LegTimeout <= 0 {
		cfg.LegTimeout = 5 * time.Second
	}
	if cfg.UnwindTimeout <= 0 {
		cfg.UnwindTimeout = 2 * cfg.LegTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:       cfg,
		venues:    deps.Venues,
		gate:      deps.Gate,
		quotes:    deps.Quotes,
		telemetry: deps.Telemetry,
		alerter:   deps.Alerter,
		metrics:   deps.Metrics,
		logger:    logger.With(slog.String("component", "coordinator")),
		now:       now,
		dedup:     NewDedup(10*time.Minute, now),
		active:    make(map[string]domain.Trade),
	}
}

// Run consumes signals from src until it is closed or ctx is cancelled, then
// waits up to DrainTimeout for in-flight trades to reach a terminal state.
// Trades are never cancelled by ctx; only their own timeouts bound them.
func (c *Coordinator) Run(ctx context.Context, src SignalSource) error {
	c.logger.Info("coordinator started")
	defer c.logger.Info("coordinator stopped")

	cleanup := time.NewTicker(time.Minute)
	defer cleanup.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-cleanup.C:
				c.dedup.Cleanup()
			}
		}
	}()

	for {
		sig, err := src.Pop(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrQueueClosed) || ctx.Err() != nil {
				break
			}
			c.logger.Warn("signal source error", slog.String("error", err.Error()))
			continue
		}
		c.Submit(ctx, sig)
	}
	return c.Drain()
}

// Submit authorizes sig and, when approved, starts its trade in the
// background. It reports whether a trade was started.
func (c *Coordinator) Submit(ctx context.Context, sig domain.Signal) bool {
	if !c.dedup.Claim(sig.ID) {
		c.logger.Debug("duplicate signal skipped", slog.String("signal_id", sig.ID))
		return false
	}
	if sig.Expired(c.now(), c.cfg.MaxSignalAge) {
		c.expired.Add(1)
		c.metrics.SignalDropped("expired")
		c.logger.Debug("expired signal discarded",
			slog.String("signal_id", sig.ID),
			slog.Time("created_at", sig.CreatedAt),
		)
		return false
	}
	d := c.gate.Authorize(sig)
	if !d.Approved {
		c.rejected.Add(1)
		return false
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Execute(context.WithoutCancel(ctx), sig, d.Reservation)
	}()
	return true
}

// Drain waits for every in-flight trade, bounded by DrainTimeout.
func (c *Coordinator) Drain() error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	t := time.NewTimer(c.cfg.DrainTimeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		active := c.ActiveTrades()
		ids := make([]string, 0, len(active))
		for _, tr := range active {
			ids = append(ids, tr.ID)
		}
		c.logger.Error("drain timed out", slog.Any("trade_ids", ids))
		return fmt.Errorf("executor: drain timed out with %d trades in flight", len(active))
	}
}

// Execute runs one approved signal to a terminal state and returns the
// closed trade. res is released exactly once.
func (c *Coordinator) Execute(ctx context.Context, sig domain.Signal, res *risk.Reservation) domain.Trade {
	t := domain.Trade{
		ID:       uuid.Must(uuid.NewRandom()).String(),
		SignalID: sig.ID,
		Signal:   sig,
		BuyLeg:   newLeg(sig.BuyVenue, domain.SideBuy, sig.Symbol, sig.BuyPrice, sig.Size),
		SellLeg:  newLeg(sig.SellVenue, domain.SideSell, sig.Symbol, sig.SellPrice, sig.Size),
		Status:   domain.TradeInitiated,
		OpenedAt: c.now(),
	}
	log := c.logger.With(
		slog.String("trade_id", t.ID),
		slog.String("signal_id", sig.ID),
		slog.String("pair", sig.PairKey()),
	)
	c.track(t)

	buyVenue, okBuy := c.venues[sig.BuyVenue]
	sellVenue, okSell := c.venues[sig.SellVenue]
	if !okBuy || !okSell {
		t.Reason = domain.ErrVenueUnknown.Error()
		c.move(&t, domain.TradeFailed, log)
		return c.finish(ctx, &t, res, false, log)
	}

	c.move(&t, domain.TradeLegsSubmitting, log)
	c.submitBoth(ctx, &t, buyVenue, sellVenue, log)
	c.move(&t, domain.TradeLegsSubmitted, log)

	escalate := c.settle(ctx, &t, log)
	return c.finish(ctx, &t, res, escalate, log)
}

func newLeg(venue string, side domain.Side, symbol string, price, size float64) domain.Leg {
	return domain.Leg{
		Venue:          venue,
		Side:           side,
		Symbol:         symbol,
		RequestedPrice: price,
		RequestedSize:  size,
		Status:         domain.LegPending,
		ClientID:       uuid.Must(uuid.NewRandom()).String(),
	}
}

// submitBoth sends both legs concurrently. A leg that fails without any
// fill asks the other venue to cancel its still-pending order.
func (c *Coordinator) submitBoth(ctx context.Context, t *domain.Trade, buyVenue, sellVenue domain.VenueAdapter, log *slog.Logger) {
	buyDone := make(chan struct{})
	sellDone := make(chan struct{})
	symbol := t.Signal.Symbol
	buyClientID, sellClientID := t.BuyLeg.ClientID, t.SellLeg.ClientID

	var g errgroup.Group
	g.Go(func() error {
		defer close(buyDone)
		c.submitLeg(ctx, buyVenue, &t.BuyLeg, c.cfg.LegTimeout)
		if unfilled(t.BuyLeg) {
			c.cancelPeer(ctx, sellVenue, symbol, sellClientID, sellDone, log)
		}
		return nil
	})
	g.Go(func() error {
		defer close(sellDone)
		c.submitLeg(ctx, sellVenue, &t.SellLeg, c.cfg.LegTimeout)
		if unfilled(t.SellLeg) {
			c.cancelPeer(ctx, buyVenue, symbol, buyClientID, buyDone, log)
		}
		return nil
	})
	_ = g.Wait()

	c.cancelResting(ctx, buyVenue, &t.BuyLeg, log)
	c.cancelResting(ctx, sellVenue, &t.SellLeg, log)
	c.update(*t)
}

// unfilled reports whether leg ended without any execution.
func unfilled(leg domain.Leg) bool {
	return leg.Status.Terminal() && !leg.Status.Confirmed() && leg.FilledSize == 0
}

// cancelPeer requests cancellation of the other leg if it is still in
// flight.
func (c *Coordinator) cancelPeer(ctx context.Context, venue domain.VenueAdapter, symbol, clientID string, peerDone <-chan struct{}, log *slog.Logger) {
	select {
	case <-peerDone:
		return
	default:
	}
	cctx, cancel := context.WithTimeout(ctx, c.cfg.LegTimeout)
	defer cancel()
	if err := venue.CancelOrder(cctx, symbol, clientID); err != nil {
		log.Debug("peer leg cancel failed",
			slog.String("venue", venue.Name()),
			slog.String("error", err.Error()),
		)
	}
}

// submitLeg submits leg to venue, retrying only transient errors that came
// back before any fill was confirmed. A confirmed leg is never resubmitted.
func (c *Coordinator) submitLeg(ctx context.Context, venue domain.VenueAdapter, leg *domain.Leg, timeout time.Duration) {
	legCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := domain.OrderRequest{
		ClientID:   leg.ClientID,
		Symbol:     leg.Symbol,
		Side:       leg.Side,
		Size:       leg.RequestedSize,
		LimitPrice: leg.RequestedPrice,
		Timeout:    timeout,
	}
	for attempt := 0; ; attempt++ {
		leg.Attempts++
		leg.Status = domain.LegSubmitted
		res, err := venue.SubmitOrder(legCtx, req)
		if err == nil || res.FilledSize > 0 {
			c.applyResult(leg, res)
			if err != nil {
				leg.Error = err.Error()
			}
			c.metrics.LegSubmitted(leg.Venue, string(leg.Status))
			return
		}

		leg.Error = err.Error()
		timedOut := legCtx.Err() != nil
		if timedOut || !errors.Is(err, domain.ErrTransient) || attempt >= c.cfg.MaxRetries {
			leg.Status = domain.LegFailed
			if timedOut {
				leg.Error = "timeout: " + err.Error()
				c.metrics.LegSubmitted(leg.Venue, "timeout")
				c.cancelUnacknowledged(ctx, venue, leg)
			} else {
				c.metrics.LegSubmitted(leg.Venue, string(domain.LegFailed))
			}
			return
		}
		c.metrics.LegSubmitted(leg.Venue, "retry")
		if !sleep(legCtx, backoff(c.cfg.RetryBackoff, attempt)) {
			leg.Status = domain.LegFailed
			leg.Error = "timeout: " + err.Error()
			c.metrics.LegSubmitted(leg.Venue, "timeout")
			c.cancelUnacknowledged(ctx, venue, leg)
			return
		}
	}
}

// cancelUnacknowledged cancels by client id an order the venue may have
// accepted without answering in time. ErrNotFound means the venue never saw
// the order; any other failure leaves the leg's fills unknown.
func (c *Coordinator) cancelUnacknowledged(ctx context.Context, venue domain.VenueAdapter, leg *domain.Leg) {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.LegTimeout)
	defer cancel()
	err := venue.CancelOrder(cctx, leg.Symbol, leg.ClientID)
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		return
	}
	leg.Error = cancelFailedPrefix + err.Error()
	c.logger.Error("unacknowledged leg cancel failed",
		slog.String("venue", leg.Venue),
		slog.String("client_id", leg.ClientID),
		slog.String("error", err.Error()),
	)
}

func (c *Coordinator) applyResult(leg *domain.Leg, res domain.LegResult) {
	leg.OrderID = res.OrderID
	leg.FilledPrice = res.FilledPrice
	leg.FilledSize = res.FilledSize
	leg.Fee = res.Fee
	if res.Message != "" {
		leg.Error = res.Message
	}
	leg.Status = res.Status
	if leg.Status == "" || leg.Status == domain.LegPending {
		leg.Status = domain.LegSubmitted
	}
	if leg.FilledSize > 0 && !leg.Status.Confirmed() && leg.Status != domain.LegSubmitted {
		leg.Status = domain.LegPartiallyFilled
	}
	if leg.Status.Confirmed() && leg.FilledPrice <= 0 {
		leg.FilledPrice = leg.RequestedPrice
	}
}

// cancelResting cancels a leg the venue acknowledged but did not finish.
// A cancel failure leaves the leg Failed with unknown fills, which the
// caller escalates.
func (c *Coordinator) cancelResting(ctx context.Context, venue domain.VenueAdapter, leg *domain.Leg, log *slog.Logger) {
	if leg.Status != domain.LegSubmitted {
		return
	}
	id := leg.OrderID
	if id == "" {
		id = leg.ClientID
	}
	cctx, cancel := context.WithTimeout(ctx, c.cfg.LegTimeout)
	defer cancel()
	if err := venue.CancelOrder(cctx, leg.Symbol, id); err != nil {
		leg.Status = domain.LegFailed
		leg.Error = cancelFailedPrefix + err.Error()
		log.Error("resting leg cancel failed",
			slog.String("venue", leg.Venue),
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	if leg.FilledSize > 0 {
		leg.Status = domain.LegPartiallyFilled
	} else {
		leg.Status = domain.LegCancelled
	}
}

func (c *Coordinator) move(t *domain.Trade, to domain.TradeStatus, log *slog.Logger) {
	if err := advance(t, to, c.now()); err != nil {
		log.Error("illegal trade transition", slog.String("error", err.Error()))
		return
	}
	log.Debug("trade transition", slog.String("status", string(to)))
	c.update(*t)
}

func (c *Coordinator) track(t domain.Trade) {
	c.mu.Lock()
	c.active[t.ID] = t.Clone()
	c.mu.Unlock()
}

func (c *Coordinator) update(t domain.Trade) {
	c.mu.Lock()
	if _, ok := c.active[t.ID]; ok {
		c.active[t.ID] = t.Clone()
	}
	c.mu.Unlock()
}

func (c *Coordinator) finish(ctx context.Context, t *domain.Trade, res *risk.Reservation, escalate bool, log *slog.Logger) domain.Trade {
	t.RealizedPnL = realizedPnL(*t)
	if res != nil {
		res.Executed = executed(*t)
	}
	c.gate.Release(res, t.RealizedPnL, t.UnwindLoss)

	closed := t.Clone()
	c.mu.Lock()
	delete(c.active, t.ID)
	c.recent = append(c.recent, closed)
	if len(c.recent) > recentTrades {
		c.recent = c.recent[len(c.recent)-recentTrades:]
	}
	c.mu.Unlock()

	switch t.Status {
	case domain.TradeCompleted:
		c.completed.Add(1)
	case domain.TradeUnwound:
		c.unwound.Add(1)
	default:
		c.failed.Add(1)
	}
	var dur time.Duration
	if t.ClosedAt != nil {
		dur = t.ClosedAt.Sub(t.OpenedAt)
	}
	c.metrics.TradeClosed(string(t.Status), dur, t.RealizedPnL, t.UnwindLoss)
	if c.telemetry != nil {
		c.telemetry.RecordTrade(closed)
	}

	attrs := []any{
		slog.String("status", string(t.Status)),
		slog.Float64("realized_pnl", t.RealizedPnL),
		slog.Float64("unwind_loss", t.UnwindLoss),
		slog.Duration("duration", dur),
	}
	if t.Reason != "" {
		attrs = append(attrs, slog.String("reason", t.Reason))
	}
	switch {
	case escalate:
		log.Error("trade failed with open exposure", attrs...)
		c.alert(ctx, EventTradeFailed, closed, log)
	case t.Status == domain.TradeUnwound:
		log.Warn("trade unwound", attrs...)
		c.alert(ctx, EventUnwound, closed, log)
	case t.Status == domain.TradeFailed:
		log.Warn("trade failed", attrs...)
	default:
		log.Info("trade completed", attrs...)
	}
	return closed
}

func (c *Coordinator) alert(ctx context.Context, event string, t domain.Trade, log *slog.Logger) {
	if c.alerter == nil {
		return
	}
	actx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	title, msg := describe(event, t)
	if err := c.alerter.Notify(actx, event, title, msg); err != nil {
		log.Warn("alert failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func describe(event string, t domain.Trade) (title, message string) {
	switch event {
	case EventTradeFailed:
		title = "Trade failed: manual attention required (" + t.Signal.Symbol + " " + t.ID + ")"
	default:
		title = "Trade unwound (" + t.Signal.Symbol + " " + t.ID + ")"
	}
	message = fmt.Sprintf("trade %s %s buy %s sell %s size %.8g\nstatus %s, unwind loss %.4f, pnl %.4f\n%s",
		t.ID, t.Signal.Symbol, t.BuyLeg.Venue, t.SellLeg.Venue, t.Signal.Size,
		t.Status, t.UnwindLoss, t.RealizedPnL, t.Reason)
	return title, message
}

// ActiveTrades returns copies of every non-terminal trade.
func (c *Coordinator) ActiveTrades() []domain.Trade {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Trade, 0, len(c.active))
	for _, t := range c.active {
		out = append(out, t.Clone())
	}
	return out
}

// RecentTrades returns up to limit closed trades, newest first.
func (c *Coordinator) RecentTrades(limit int) []domain.Trade {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 || limit > len(c.recent) {
		limit = len(c.recent)
	}
	out := make([]domain.Trade, 0, limit)
	for i := len(c.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, c.recent[i].Clone())
	}
	return out
}

// Trade returns a trade by id from the active set or recent history.
func (c *Coordinator) Trade(id string) (domain.Trade, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.active[id]; ok {
		return t.Clone(), true
	}
	for i := len(c.recent) - 1; i >= 0; i-- {
		if c.recent[i].ID == id {
			return c.recent[i].Clone(), true
		}
	}
	return domain.Trade{}, false
}

// Stats returns outcome counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	active := len(c.active)
	c.mu.Unlock()
	return Stats{
		Active:    active,
		Completed: c.completed.Load(),
		Unwound:   c.unwound.Load(),
		Failed:    c.failed.Load(),
		Expired:   c.expired.Load(),
		Rejected:  c.rejected.Load(),
	}
}
