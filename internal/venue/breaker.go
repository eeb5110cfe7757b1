// Package venue holds decorators shared by every venue adapter.
package venue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/metrics"
)

// BreakerState is the state of a venue circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// SuccessThreshold half-open successes close it again.
	SuccessThreshold int
	// Cooldown is how long the breaker stays open before a probe.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the defaults used when a venue sets none.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

// Breaker wraps a venue adapter and fails order submissions fast while the
// venue keeps erroring. Cancels always pass through so resting orders can be
// cleaned up while the breaker is open.
type Breaker struct {
	inner   domain.VenueAdapter
	cfg     BreakerConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
}

var _ domain.VenueAdapter = (*Breaker)(nil)

// NewBreaker decorates inner with a circuit breaker.
func NewBreaker(inner domain.VenueAdapter, cfg BreakerConfig, m *metrics.Metrics, logger *slog.Logger) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Breaker{
		inner:   inner,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With(slog.String("component", "breaker"), slog.String("venue", inner.Name())),
		now:     time.Now,
	}
	m.SetBreakerState(inner.Name(), int(BreakerClosed))
	return b
}

// Name returns the wrapped venue's name.
func (b *Breaker) Name() string { return b.inner.Name() }

// StreamQuotes is not guarded; the stream has its own reconnect logic.
func (b *Breaker) StreamQuotes(ctx context.Context, symbols []string) (<-chan domain.Quote, error) {
	return b.inner.StreamQuotes(ctx, symbols)
}

// SubmitOrder forwards req unless the breaker is open.
func (b *Breaker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.LegResult, error) {
	if !b.allow() {
		return domain.LegResult{}, fmt.Errorf("venue %s: %w", b.inner.Name(), domain.ErrCircuitOpen)
	}
	res, err := b.inner.SubmitOrder(ctx, req)
	b.record(err)
	return res, err
}

// CancelOrder always reaches the venue.
func (b *Breaker) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return b.inner.CancelOrder(ctx, symbol, orderID)
}

// GetBalance forwards unless the breaker is open.
func (b *Breaker) GetBalance(ctx context.Context) (map[string]float64, error) {
	if !b.allow() {
		return nil, fmt.Errorf("venue %s: %w", b.inner.Name(), domain.ErrCircuitOpen)
	}
	bal, err := b.inner.GetBalance(ctx)
	b.record(err)
	return bal, err
}

func (b *Breaker) Close() error { return b.inner.Close() }

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.setState(BreakerClosed)
	b.failures, b.successes = 0, 0
	b.mu.Unlock()
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.setState(BreakerHalfOpen)
		b.successes = 0
		b.logger.Info("circuit breaker half-open")
		return true
	default:
		return true
	}
}

// record counts err against the venue. Order rejections are business
// outcomes and count as successes.
func (b *Breaker) record(err error) {
	failed := err != nil && !errors.Is(err, domain.ErrRejected)

	b.mu.Lock()
	defer b.mu.Unlock()

	if !failed {
		switch b.state {
		case BreakerClosed:
			b.failures = 0
		case BreakerHalfOpen:
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				b.setState(BreakerClosed)
				b.failures, b.successes = 0, 0
				b.logger.Info("circuit breaker closed")
			}
		}
		return
	}

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.setState(BreakerOpen)
			b.openedAt = b.now()
			b.logger.Warn("circuit breaker open",
				slog.Int("failures", b.failures),
				slog.String("error", err.Error()),
			)
		}
	case BreakerHalfOpen:
		b.setState(BreakerOpen)
		b.openedAt = b.now()
		b.successes = 0
		b.logger.Warn("circuit breaker reopened", slog.String("error", err.Error()))
	}
}

// setState must be called with b.mu held.
func (b *Breaker) setState(s BreakerState) {
	b.state = s
	b.metrics.SetBreakerState(b.inner.Name(), int(s))
}
