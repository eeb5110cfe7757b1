package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// StoreRecorder persists telemetry to the relational stores. Nil stores are
// skipped.
type StoreRecorder struct {
	Signals domain.SignalStore
	Trades  domain.TradeStore
	Quotes  domain.QuoteStore
	Audit   domain.AuditStore
}

func (r *StoreRecorder) Name() string { return "store" }

func (r *StoreRecorder) RecordQuotes(ctx context.Context, quotes []domain.Quote) error {
	if r.Quotes == nil {
		return nil
	}
	_, err := r.Quotes.InsertBatch(ctx, quotes)
	return err
}

func (r *StoreRecorder) RecordSignal(ctx context.Context, sig domain.Signal) error {
	if r.Signals == nil {
		return nil
	}
	return r.Signals.Insert(ctx, sig)
}

// RecordTrade stores the trade and, for trades that did not complete,
// writes an audit entry.
func (r *StoreRecorder) RecordTrade(ctx context.Context, t domain.Trade) error {
	var errs []error
	if r.Trades != nil {
		errs = append(errs, r.Trades.Insert(ctx, t))
	}
	if r.Audit != nil && t.Status != domain.TradeCompleted {
		errs = append(errs, r.Audit.Log(ctx, "trade."+string(t.Status), map[string]any{
			"trade_id":    t.ID,
			"signal_id":   t.SignalID,
			"symbol":      t.Signal.Symbol,
			"reason":      t.Reason,
			"unwind_loss": t.UnwindLoss,
			"pnl":         t.RealizedPnL,
		}))
	}
	return errors.Join(errs...)
}

// BusRecorder mirrors the latest quotes into the shared cache and publishes
// signals and trades on the bus, both as pub/sub messages and as durable
// stream entries.
type BusRecorder struct {
	Bus    domain.SignalBus
	Mirror domain.QuoteMirror
}

func (r *BusRecorder) Name() string { return "bus" }

// RecordQuotes writes the newest quote per (symbol, venue) in the batch.
func (r *BusRecorder) RecordQuotes(ctx context.Context, quotes []domain.Quote) error {
	if r.Mirror == nil {
		return nil
	}
	type key struct{ symbol, venue string }
	latest := make(map[key]domain.Quote, len(quotes))
	for _, q := range quotes {
		k := key{q.Symbol, q.Venue}
		if cur, ok := latest[k]; !ok || !q.ObservedAt.Before(cur.ObservedAt) {
			latest[k] = q
		}
	}
	var errs []error
	for _, q := range latest {
		if err := r.Mirror.Set(ctx, q); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *BusRecorder) RecordSignal(ctx context.Context, sig domain.Signal) error {
	return r.publish(ctx, domain.ChannelSignals, domain.StreamSignals, sig)
}

func (r *BusRecorder) RecordTrade(ctx context.Context, t domain.Trade) error {
	return r.publish(ctx, domain.ChannelTrades, domain.StreamTrades, t)
}

func (r *BusRecorder) publish(ctx context.Context, channel, stream string, v any) error {
	if r.Bus == nil {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("telemetry: marshal %s: %w", channel, err)
	}
	return errors.Join(
		r.Bus.Publish(ctx, channel, payload),
		r.Bus.StreamAppend(ctx, stream, payload),
	)
}
