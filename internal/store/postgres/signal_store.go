package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *pgxpool.Pool
}

var _ domain.SignalStore = (*SignalStore)(nil)

// NewSignalStore creates a new SignalStore backed by the given connection pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

const signalCols = `id, symbol, buy_venue, sell_venue, buy_price, sell_price, size,
	gross_profit, net_profit_pct, spread_pct, confidence, created_at`

// Insert stores sig. Re-inserting the same id is a no-op.
func (s *SignalStore) Insert(ctx context.Context, sig domain.Signal) error {
	const query = `INSERT INTO signals (` + signalCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		sig.ID, sig.Symbol, sig.BuyVenue, sig.SellVenue, sig.BuyPrice, sig.SellPrice, sig.Size,
		sig.GrossProfit, sig.NetProfitPct, sig.SpreadPct, sig.Confidence, sig.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert signal %s: %w", sig.ID, err)
	}
	return nil
}

// ListRecent returns signals newest first.
func (s *SignalStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Signal, error) {
	query, args := listQuery(`SELECT `+signalCols+` FROM signals WHERE 1=1`, "created_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals: %w", err)
	}
	defer rows.Close()

	var out []domain.Signal
	for rows.Next() {
		var sig domain.Signal
		if err := rows.Scan(
			&sig.ID, &sig.Symbol, &sig.BuyVenue, &sig.SellVenue, &sig.BuyPrice, &sig.SellPrice, &sig.Size,
			&sig.GrossProfit, &sig.NetProfitPct, &sig.SpreadPct, &sig.Confidence, &sig.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan signal: %w", err)
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list signals rows: %w", err)
	}
	return out, nil
}
