// Package premium keeps a rolling statistical baseline of the spread
// percentage seen on each (symbol, venue pair) and flags spreads that sit too
// far from it.
package premium

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/shard"
)

// Config configures a Filter.
type Config struct {
	Enabled bool
	// Lookback bounds the number of recorded spreads per key.
	Lookback int
	// MinSamples is the history size below which every evaluation is Normal.
	MinSamples int
	// OutlierThreshold is the number of standard deviations from the
	// median that makes a spread an outlier.
	OutlierThreshold float64
	Shards           int
}

// Evaluation is the result of Evaluate.
type Evaluation struct {
	Verdict    domain.Verdict `json:"verdict"`
	Baseline   float64        `json:"baseline"`
	Dispersion float64        `json:"dispersion"`
	Deviation  float64        `json:"deviation"`
	Samples    int            `json:"samples"`
	// Margin is 1 when the spread sits on the baseline and falls to 0 at
	// the outlier threshold. It is 0.5 while the filter is still warming up.
	Margin float64 `json:"margin"`
}

// Baseline is a point-in-time view of one key's history.
type Baseline struct {
	Symbol     string  `json:"symbol"`
	Pair       string  `json:"pair"`
	Median     float64 `json:"median"`
	Dispersion float64 `json:"dispersion"`
	Samples    int     `json:"samples"`
}

const zeroDispersion = 1e-12

type history struct {
	mu     sync.Mutex
	ring   []float64
	next   int
	sorted []float64

	median float64
	stdev  float64
}

func (h *history) add(v float64, lookback int) {
	if len(h.ring) < lookback {
		h.ring = append(h.ring, v)
	} else {
		old := h.ring[h.next]
		h.ring[h.next] = v
		h.next = (h.next + 1) % lookback
		i := sort.SearchFloat64s(h.sorted, old)
		h.sorted = append(h.sorted[:i], h.sorted[i+1:]...)
	}
	i := sort.SearchFloat64s(h.sorted, v)
	h.sorted = append(h.sorted, 0)
	copy(h.sorted[i+1:], h.sorted[i:])
	h.sorted[i] = v
	h.recompute()
}

func (h *history) recompute() {
	n := len(h.sorted)
	if n == 0 {
		h.median, h.stdev = 0, 0
		return
	}
	if n%2 == 1 {
		h.median = h.sorted[n/2]
	} else {
		h.median = (h.sorted[n/2-1] + h.sorted[n/2]) / 2
	}
	if n < 2 {
		h.stdev = 0
		return
	}
	var sum float64
	for _, v := range h.sorted {
		sum += v
	}
	mean := sum / float64(n)
	var ss float64
	for _, v := range h.sorted {
		d := v - mean
		ss += d * d
	}
	h.stdev = math.Sqrt(ss / float64(n-1))
}

// Filter is safe for concurrent use.
type Filter struct {
	cfg  Config
	keys *shard.Map[*history]
}

// New creates a Filter, filling zero config values with defaults.
func New(cfg Config) *Filter {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 100
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 50
	}
	if cfg.MinSamples > cfg.Lookback {
		cfg.MinSamples = cfg.Lookback
	}
	if cfg.OutlierThreshold <= 0 {
		cfg.OutlierThreshold = 2
	}
	return &Filter{cfg: cfg, keys: shard.New[*history](cfg.Shards)}
}

// Enabled reports whether the filter participates in detection.
func (f *Filter) Enabled() bool {
	return f.cfg.Enabled
}

func key(symbol string, pair domain.VenuePair) string {
	return symbol + "|" + pair.String()
}

// Evaluate classifies spreadPct against the pair's baseline. It is Normal
// until MinSamples spreads have been recorded and whenever the history has
// no dispersion.
func (f *Filter) Evaluate(symbol string, pair domain.VenuePair, spreadPct float64) Evaluation {
	ev := Evaluation{Verdict: domain.VerdictNormal, Margin: 0.5}
	if !f.cfg.Enabled {
		return ev
	}
	h, ok := f.keys.Get(key(symbol, pair))
	if !ok {
		return ev
	}

	h.mu.Lock()
	ev.Samples = len(h.sorted)
	ev.Baseline = h.median
	ev.Dispersion = h.stdev
	h.mu.Unlock()

	if ev.Samples < f.cfg.MinSamples {
		return ev
	}
	if ev.Dispersion < zeroDispersion {
		ev.Margin = 1
		return ev
	}
	ev.Deviation = math.Abs(spreadPct-ev.Baseline) / ev.Dispersion
	if ev.Deviation > f.cfg.OutlierThreshold {
		ev.Verdict = domain.VerdictOutlier
		ev.Margin = 0
		return ev
	}
	ev.Margin = 1 - ev.Deviation/f.cfg.OutlierThreshold
	return ev
}

// Record adds spreadPct to the pair's history, evicting the oldest sample
// once Lookback is reached.
func (f *Filter) Record(symbol string, pair domain.VenuePair, spreadPct float64) {
	if !f.cfg.Enabled || math.IsNaN(spreadPct) || math.IsInf(spreadPct, 0) {
		return
	}
	h := f.keys.GetOrCreate(key(symbol, pair), func() *history {
		return &history{}
	})
	h.mu.Lock()
	h.add(spreadPct, f.cfg.Lookback)
	h.mu.Unlock()
}

// Baselines returns the current baseline of every tracked key for symbol.
// An empty symbol returns every key.
func (f *Filter) Baselines(symbol string) []Baseline {
	var out []Baseline
	f.keys.Range(func(k string, h *history) bool {
		sym, pair := splitKey(k)
		if symbol != "" && sym != symbol {
			return true
		}
		h.mu.Lock()
		out = append(out, Baseline{Symbol: sym, Pair: pair, Median: h.median, Dispersion: h.stdev, Samples: len(h.sorted)})
		h.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Pair < out[j].Pair
	})
	return out
}

func splitKey(k string) (symbol, pair string) {
	symbol, pair, _ = strings.Cut(k, "|")
	return symbol, pair
}
