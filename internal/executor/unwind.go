package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// settle decides the outcome once both legs have returned. It reports
// whether the trade ended with exposure that needs operator attention.
func (c *Coordinator) settle(ctx context.Context, t *domain.Trade, log *slog.Logger) bool {
	buy, sell := &t.BuyLeg, &t.SellLeg
	if cancelFailed(*buy) || cancelFailed(*sell) {
		t.Reason = "leg state unknown after cancel failure"
		c.move(t, domain.TradeFailed, log)
		return true
	}

	bought := decimal.NewFromFloat(buy.FilledSize)
	sold := decimal.NewFromFloat(sell.FilledSize)
	if bought.IsZero() && sold.IsZero() {
		t.Reason = fmt.Sprintf("no leg filled: buy %s, sell %s", legOutcome(*buy), legOutcome(*sell))
		c.move(t, domain.TradeFailed, log)
		return false
	}

	net := bought.Sub(sold)
	tolerance := decimal.NewFromFloat(buy.RequestedSize).Mul(decimal.NewFromFloat(c.cfg.FillTolerance))
	if net.Abs().LessThanOrEqual(tolerance) {
		c.move(t, domain.TradeCompleted, log)
		return false
	}

	t.Reason = fmt.Sprintf("legs diverged: buy %s, sell %s", legOutcome(*buy), legOutcome(*sell))
	c.move(t, domain.TradePartialFailure, log)
	c.move(t, domain.TradeUnwinding, log)
	return c.unwind(ctx, t, net, log)
}

func cancelFailed(l domain.Leg) bool {
	return l.Status == domain.LegFailed && strings.HasPrefix(l.Error, cancelFailedPrefix)
}

// executed reports whether any leg traded or may have traded.
func executed(t domain.Trade) bool {
	return t.BuyLeg.FilledSize > 0 || t.SellLeg.FilledSize > 0 ||
		cancelFailed(t.BuyLeg) || cancelFailed(t.SellLeg)
}

func legOutcome(l domain.Leg) string {
	if l.Error != "" {
		return fmt.Sprintf("%s (%s)", l.Status, l.Error)
	}
	return fmt.Sprintf("%s %.8g", l.Status, l.FilledSize)
}

// unwind flattens net exposure with an offsetting order on the venue of the
// leg that over-filled. A positive net means excess base was bought and is
// sold back; a negative net means excess base was sold and is bought back.
func (c *Coordinator) unwind(ctx context.Context, t *domain.Trade, net decimal.Decimal, log *slog.Logger) bool {
	exposed := &t.BuyLeg
	side := domain.SideSell
	if net.IsNegative() {
		exposed = &t.SellLeg
		side = domain.SideBuy
	}
	size, _ := net.Abs().Float64()

	u := &domain.Leg{
		Venue:          exposed.Venue,
		Side:           side,
		Symbol:         exposed.Symbol,
		RequestedPrice: c.unwindPrice(exposed, side),
		RequestedSize:  size,
		Status:         domain.LegPending,
		ClientID:       uuid.Must(uuid.NewRandom()).String(),
	}
	t.Unwind = u
	c.update(*t)

	venue := c.venues[exposed.Venue]
	log.Warn("unwinding exposed leg",
		slog.String("venue", u.Venue),
		slog.String("side", string(side)),
		slog.Float64("size", size),
		slog.Float64("price", u.RequestedPrice),
	)
	c.submitLeg(ctx, venue, u, c.cfg.UnwindTimeout)
	c.cancelResting(ctx, venue, u, log)

	t.UnwindLoss = unwindLoss(*exposed, *u)
	filled := decimal.NewFromFloat(u.FilledSize)
	floor := decimal.NewFromFloat(size).Mul(decimal.NewFromFloat(1 - c.cfg.FillTolerance))
	if u.Status.Confirmed() && filled.GreaterThanOrEqual(floor) {
		c.move(t, domain.TradeUnwound, log)
		return false
	}

	t.Reason += fmt.Sprintf("; unwind %s", legOutcome(*u))
	c.move(t, domain.TradeFailed, log)
	return true
}

// unwindPrice is the best cached price on the exposed venue for the
// offsetting side, falling back to the exposed leg's fill.
func (c *Coordinator) unwindPrice(exposed *domain.Leg, side domain.Side) float64 {
	if c.quotes != nil {
		if q, ok := c.quotes.Get(exposed.Symbol, exposed.Venue); ok {
			if side == domain.SideSell && q.Bid > 0 {
				return q.Bid
			}
			if side == domain.SideBuy && q.Ask > 0 {
				return q.Ask
			}
		}
	}
	if exposed.FilledPrice > 0 {
		return exposed.FilledPrice
	}
	return exposed.RequestedPrice
}

// unwindLoss is the slippage paid flattening exposed with u, fees included.
// A favourable unwind counts as zero loss.
func unwindLoss(exposed, u domain.Leg) float64 {
	if u.FilledSize <= 0 {
		return 0
	}
	entry := decimal.NewFromFloat(exposed.FilledPrice)
	exit := decimal.NewFromFloat(u.FilledPrice)
	qty := decimal.NewFromFloat(u.FilledSize)

	perUnit := entry.Sub(exit)
	if u.Side == domain.SideBuy {
		perUnit = exit.Sub(entry)
	}
	loss := perUnit.Mul(qty).Add(decimal.NewFromFloat(u.Fee))
	if loss.IsNegative() {
		return 0
	}
	f, _ := loss.Round(10).Float64()
	return f
}

// realizedPnL is sell proceeds minus buy cost across every fill, fees
// included.
func realizedPnL(t domain.Trade) float64 {
	pnl := t.SellLeg.Notional().Sub(t.BuyLeg.Notional()).
		Sub(decimal.NewFromFloat(t.BuyLeg.Fee)).
		Sub(decimal.NewFromFloat(t.SellLeg.Fee))
	if u := t.Unwind; u != nil {
		if u.Side == domain.SideSell {
			pnl = pnl.Add(u.Notional())
		} else {
			pnl = pnl.Sub(u.Notional())
		}
		pnl = pnl.Sub(decimal.NewFromFloat(u.Fee))
	}
	f, _ := pnl.Round(10).Float64()
	return f
}
