package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// Leg roles in trade_legs.
const (
	roleBuy    = "buy"
	roleSell   = "sell"
	roleUnwind = "unwind"
)

// TradeStore implements domain.TradeStore using PostgreSQL. A trade and its
// legs are written in one transaction.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeStore = (*TradeStore)(nil)

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeCols = `id, signal_id, signal, status, realized_pnl, unwind_loss, reason,
	history, opened_at, closed_at`

const legCols = `role, venue, side, symbol, requested_price, requested_size,
	filled_price, filled_size, fee, status, order_id, client_id, attempts, error`

// Insert upserts t and replaces its legs.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	signal, err := json.Marshal(t.Signal)
	if err != nil {
		return fmt.Errorf("postgres: marshal trade signal: %w", err)
	}
	history, err := json.Marshal(t.History)
	if err != nil {
		return fmt.Errorf("postgres: marshal trade history: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin trade tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upsert = `INSERT INTO trades (` + tradeCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			realized_pnl = EXCLUDED.realized_pnl,
			unwind_loss = EXCLUDED.unwind_loss,
			reason = EXCLUDED.reason,
			history = EXCLUDED.history,
			closed_at = EXCLUDED.closed_at`
	if _, err := tx.Exec(ctx, upsert,
		t.ID, t.SignalID, signal, string(t.Status), t.RealizedPnL, t.UnwindLoss, t.Reason,
		history, t.OpenedAt, t.ClosedAt,
	); err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM trade_legs WHERE trade_id = $1`, t.ID); err != nil {
		return fmt.Errorf("postgres: clear legs of %s: %w", t.ID, err)
	}

	batch := &pgx.Batch{}
	const insertLeg = `INSERT INTO trade_legs (trade_id, ` + legCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	queue := func(role string, l domain.Leg) {
		batch.Queue(insertLeg, t.ID, role,
			l.Venue, string(l.Side), l.Symbol, l.RequestedPrice, l.RequestedSize,
			l.FilledPrice, l.FilledSize, l.Fee, string(l.Status), l.OrderID, l.ClientID, l.Attempts, l.Error,
		)
	}
	queue(roleBuy, t.BuyLeg)
	queue(roleSell, t.SellLeg)
	if t.Unwind != nil {
		queue(roleUnwind, *t.Unwind)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: insert legs of %s: %w", t.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit trade %s: %w", t.ID, err)
	}
	return nil
}

// GetByID loads a trade with its legs. It returns domain.ErrNotFound when no
// trade has the id.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tradeCols+` FROM trades WHERE id = $1`, id)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	if len(trades) == 0 {
		return domain.Trade{}, fmt.Errorf("postgres: trade %s: %w", id, domain.ErrNotFound)
	}
	if err := s.loadLegs(ctx, trades); err != nil {
		return domain.Trade{}, err
	}
	return trades[0], nil
}

// ListRecent returns trades with legs, newest first.
func (s *TradeStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := listQuery(`SELECT `+tradeCols+` FROM trades WHERE 1=1`, "opened_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	if err := s.loadLegs(ctx, trades); err != nil {
		return nil, err
	}
	return trades, nil
}

func scanTrades(rows pgx.Rows) ([]domain.Trade, error) {
	defer rows.Close()
	var trades []domain.Trade
	for rows.Next() {
		var (
			t               domain.Trade
			status          string
			signal, history []byte
		)
		if err := rows.Scan(
			&t.ID, &t.SignalID, &signal, &status, &t.RealizedPnL, &t.UnwindLoss, &t.Reason,
			&history, &t.OpenedAt, &t.ClosedAt,
		); err != nil {
			return nil, err
		}
		t.Status = domain.TradeStatus(status)
		if err := json.Unmarshal(signal, &t.Signal); err != nil {
			return nil, fmt.Errorf("decode signal: %w", err)
		}
		if err := json.Unmarshal(history, &t.History); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *TradeStore) loadLegs(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	ids := make([]string, len(trades))
	index := make(map[string]int, len(trades))
	for i, t := range trades {
		ids[i] = t.ID
		index[t.ID] = i
	}

	rows, err := s.pool.Query(ctx, `SELECT trade_id, `+legCols+` FROM trade_legs WHERE trade_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("postgres: load legs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tradeID, role, side, status string
			l                           domain.Leg
		)
		if err := rows.Scan(&tradeID, &role,
			&l.Venue, &side, &l.Symbol, &l.RequestedPrice, &l.RequestedSize,
			&l.FilledPrice, &l.FilledSize, &l.Fee, &status, &l.OrderID, &l.ClientID, &l.Attempts, &l.Error,
		); err != nil {
			return fmt.Errorf("postgres: scan leg: %w", err)
		}
		l.Side = domain.Side(side)
		l.Status = domain.LegStatus(status)

		i, ok := index[tradeID]
		if !ok {
			continue
		}
		switch role {
		case roleBuy:
			trades[i].BuyLeg = l
		case roleSell:
			trades[i].SellLeg = l
		case roleUnwind:
			u := l
			trades[i].Unwind = &u
		default:
			return fmt.Errorf("postgres: leg role %q: %w", role, errors.ErrUnsupported)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: load legs rows: %w", err)
	}
	return nil
}
