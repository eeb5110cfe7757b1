package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// QuoteMirror implements domain.QuoteMirror with one hash per symbol at
// "quote:{symbol}", one JSON-encoded field per venue. Keys expire after ttl
// so a dead engine does not leave quotes looking live.
type QuoteMirror struct {
	client *Client
	ttl    time.Duration
}

// NewQuoteMirror creates a QuoteMirror backed by the given Client.
func NewQuoteMirror(c *Client, ttl time.Duration) *QuoteMirror {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &QuoteMirror{client: c, ttl: ttl}
}

func quoteKey(symbol string) string {
	return "quote:" + symbol
}

// Set stores q under its symbol and venue.
func (m *QuoteMirror) Set(ctx context.Context, q domain.Quote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("redis: marshal quote: %w", err)
	}
	key := m.client.Key(quoteKey(q.Symbol))
	_, err = m.client.Underlying().TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, q.Venue, data)
		p.Expire(ctx, key, m.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set quote %s/%s: %w", q.Symbol, q.Venue, err)
	}
	return nil
}

// GetSymbol returns the mirrored quotes for symbol keyed by venue. It
// returns domain.ErrNotFound when nothing is mirrored.
func (m *QuoteMirror) GetSymbol(ctx context.Context, symbol string) (map[string]domain.Quote, error) {
	vals, err := m.client.Underlying().HGetAll(ctx, m.client.Key(quoteKey(symbol))).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get quotes %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("redis: quotes %s: %w", symbol, domain.ErrNotFound)
	}
	return decodeQuotes(vals)
}

func decodeQuotes(vals map[string]string) (map[string]domain.Quote, error) {
	out := make(map[string]domain.Quote, len(vals))
	for venue, raw := range vals {
		var q domain.Quote
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return nil, fmt.Errorf("redis: decode quote %s: %w", venue, err)
		}
		out[venue] = q
	}
	return out, nil
}

var _ domain.QuoteMirror = (*QuoteMirror)(nil)
