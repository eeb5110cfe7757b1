package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// QuoteStore implements domain.QuoteStore with COPY for bulk inserts.
type QuoteStore struct {
	pool *pgxpool.Pool
}

var _ domain.QuoteStore = (*QuoteStore)(nil)

// NewQuoteStore creates a new QuoteStore backed by the given connection pool.
func NewQuoteStore(pool *pgxpool.Pool) *QuoteStore {
	return &QuoteStore{pool: pool}
}

var quoteColumns = []string{"symbol", "venue", "bid", "ask", "bid_size", "ask_size", "observed_at"}

// InsertBatch copies quotes into the quotes table and returns the row count.
func (s *QuoteStore) InsertBatch(ctx context.Context, quotes []domain.Quote) (int64, error) {
	if len(quotes) == 0 {
		return 0, nil
	}
	n, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"quotes"},
		quoteColumns,
		pgx.CopyFromSlice(len(quotes), func(i int) ([]any, error) {
			q := quotes[i]
			return []any{q.Symbol, q.Venue, q.Bid, q.Ask, q.BidSize, q.AskSize, q.ObservedAt}, nil
		}),
	)
	if err != nil {
		return n, fmt.Errorf("postgres: copy %d quotes: %w", len(quotes), err)
	}
	return n, nil
}

// DeleteBefore removes quotes observed before the cutoff and returns how
// many rows were deleted.
func (s *QuoteStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM quotes WHERE observed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete quotes: %w", err)
	}
	return tag.RowsAffected(), nil
}
