// Package quotecache holds the latest top-of-book quote per (symbol, venue).
//
// Entries are sharded by symbol. Each (symbol, venue) slot has its own lock,
// so updates for different keys never wait on each other and updates for
// the same key are serialized. Out-of-order updates are dropped.
package quotecache

import (
	"sync"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/shard"
)

// Outcome describes what Update did with a quote.
type Outcome string

const (
	Accepted   Outcome = "accepted"
	Invalid    Outcome = "invalid"
	OutOfOrder Outcome = "out_of_order"
)

// Config configures a Cache.
type Config struct {
	// MaxQuoteAge is the staleness threshold used by Snapshot and Evict.
	MaxQuoteAge time.Duration
	Shards      int
	// Now overrides the clock in tests.
	Now func() time.Time
}

type slot struct {
	mu      sync.Mutex
	quote   domain.Quote
	present bool
	// watermark is the newest observed_at ever accepted. It survives
	// eviction so an old quote can never be re-admitted.
	watermark time.Time
}

type book struct {
	mu     sync.RWMutex
	venues map[string]*slot
}

// Cache is safe for concurrent use.
type Cache struct {
	symbols *shard.Map[*book]
	maxAge  time.Duration
	now     func() time.Time
}

// New creates a Cache.
func New(cfg Config) *Cache {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		symbols: shard.New[*book](cfg.Shards),
		maxAge:  cfg.MaxQuoteAge,
		now:     now,
	}
}

// MaxQuoteAge returns the configured staleness threshold.
func (c *Cache) MaxQuoteAge() time.Duration {
	return c.maxAge
}

func (c *Cache) slotFor(symbol, venue string) *slot {
	b := c.symbols.GetOrCreate(symbol, func() *book {
		return &book{venues: make(map[string]*slot)}
	})

	b.mu.RLock()
	s, ok := b.venues[venue]
	b.mu.RUnlock()
	if ok {
		return s
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok = b.venues[venue]; ok {
		return s
	}
	s = &slot{}
	b.venues[venue] = s
	return s
}

// Update validates q and stores it unless a newer quote for the same
// (symbol, venue) is already cached. Equal timestamps replace the cached
// quote. The returned Outcome tells the caller whether to propagate.
func (c *Cache) Update(q domain.Quote) Outcome {
	if err := q.Validate(); err != nil {
		return Invalid
	}

	s := c.slotFor(q.Symbol, q.Venue)
	s.mu.Lock()
	defer s.mu.Unlock()

	if q.ObservedAt.Before(s.watermark) {
		return OutOfOrder
	}
	s.quote = q
	s.present = true
	s.watermark = q.ObservedAt
	return Accepted
}

// Get returns the cached quote for (symbol, venue) regardless of age.
func (c *Cache) Get(symbol, venue string) (domain.Quote, bool) {
	b, ok := c.symbols.Get(symbol)
	if !ok {
		return domain.Quote{}, false
	}
	b.mu.RLock()
	s, ok := b.venues[venue]
	b.mu.RUnlock()
	if !ok {
		return domain.Quote{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.present {
		return domain.Quote{}, false
	}
	return s.quote, true
}

// Snapshot returns the fresh quotes for symbol keyed by venue. Stale
// entries are excluded.
func (c *Cache) Snapshot(symbol string) map[string]domain.Quote {
	out := make(map[string]domain.Quote)
	b, ok := c.symbols.Get(symbol)
	if !ok {
		return out
	}

	now := c.now()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for venue, s := range b.venues {
		s.mu.Lock()
		q, present := s.quote, s.present
		s.mu.Unlock()
		if present && !q.IsStale(now, c.maxAge) {
			out[venue] = q
		}
	}
	return out
}

// Symbols returns every symbol that has ever been cached.
func (c *Cache) Symbols() []string {
	var out []string
	c.symbols.Range(func(symbol string, _ *book) bool {
		out = append(out, symbol)
		return true
	})
	return out
}

// Evict drops stale quotes and returns how many were removed. Watermarks
// are retained so monotonicity holds across eviction.
func (c *Cache) Evict() int {
	if c.maxAge <= 0 {
		return 0
	}
	now := c.now()
	removed := 0
	c.symbols.Range(func(_ string, b *book) bool {
		b.mu.RLock()
		for _, s := range b.venues {
			s.mu.Lock()
			if s.present && s.quote.IsStale(now, c.maxAge) {
				s.present = false
				s.quote = domain.Quote{}
				removed++
			}
			s.mu.Unlock()
		}
		b.mu.RUnlock()
		return true
	})
	return removed
}
