// Package trend classifies the short-term direction of each (symbol, venue)
// mid-price over a time-based sliding window.
package trend

import (
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/shard"
)

// Config configures a Tracker.
type Config struct {
	// Window is the sliding window duration. Samples older than the newest
	// observation minus Window are evicted.
	Window time.Duration
	// Threshold is the relative change between the halves of the window
	// required to call a direction Up or Down.
	Threshold float64
	// MinSamples is the sample count below which Direction is Unknown.
	MinSamples int
	// MaxSamples caps memory per key under bursty feeds.
	MaxSamples int
	Shards     int
}

// Reading is a direction together with the relative change behind it.
type Reading struct {
	Direction domain.Direction
	Change    float64
	Samples   int
}

// Strength returns |Change| as a multiple of threshold, capped at 1. Unknown
// and Flat readings have zero strength.
func (r Reading) Strength(threshold float64) float64 {
	if r.Direction != domain.DirectionUp && r.Direction != domain.DirectionDown {
		return 0
	}
	if threshold <= 0 {
		return 1
	}
	return math.Min(math.Abs(r.Change)/threshold, 1)
}

type entry struct {
	mu sync.Mutex
	w  *window
}

// Tracker is safe for concurrent use; keys are locked independently.
type Tracker struct {
	cfg     Config
	entries *shard.Map[*entry]
}

// New creates a Tracker, filling zero config values with defaults.
func New(cfg Config) *Tracker {
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Second
	}
	if cfg.MinSamples < 2 {
		cfg.MinSamples = 2
	}
	if cfg.MaxSamples < cfg.MinSamples {
		cfg.MaxSamples = 1024
	}
	return &Tracker{cfg: cfg, entries: shard.New[*entry](cfg.Shards)}
}

func key(symbol, venue string) string {
	return symbol + "|" + venue
}

// Observe adds a mid-price sample. Samples older than the newest one already
// observed for the key are ignored.
func (t *Tracker) Observe(symbol, venue string, mid float64, at time.Time) {
	if mid <= 0 || math.IsNaN(mid) || math.IsInf(mid, 0) {
		return
	}
	e := t.entries.GetOrCreate(key(symbol, venue), func() *entry {
		return &entry{w: newWindow(t.cfg.MaxSamples)}
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.w.len() > 0 && at.Before(e.w.last) {
		return
	}
	e.w.push(sample{at: at, mid: mid})
	e.w.evictBefore(at.Add(-t.cfg.Window))
}

// Direction returns the current classification for (symbol, venue).
func (t *Tracker) Direction(symbol, venue string) domain.Direction {
	return t.Reading(symbol, venue).Direction
}

// Reading returns the direction and relative change for (symbol, venue).
func (t *Tracker) Reading(symbol, venue string) Reading {
	e, ok := t.entries.Get(key(symbol, venue))
	if !ok {
		return Reading{Direction: domain.DirectionUnknown}
	}
	e.mu.Lock()
	n := e.w.len()
	first, second, ok := e.w.means()
	e.mu.Unlock()

	if n < t.cfg.MinSamples || !ok || first <= 0 {
		return Reading{Direction: domain.DirectionUnknown, Samples: n}
	}
	change := (second - first) / first
	r := Reading{Change: change, Samples: n, Direction: domain.DirectionFlat}
	switch {
	case change > t.cfg.Threshold:
		r.Direction = domain.DirectionUp
	case change < -t.cfg.Threshold:
		r.Direction = domain.DirectionDown
	}
	return r
}

// Prune evicts samples older than now minus the window and removes keys
// whose window became empty. It returns the number of keys removed.
func (t *Tracker) Prune(now time.Time) int {
	cutoff := now.Add(-t.cfg.Window)
	return t.entries.DeleteIf(func(_ string, e *entry) bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.w.evictBefore(cutoff)
		return e.w.len() == 0
	})
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	return t.entries.Len()
}
