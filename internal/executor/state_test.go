package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

func TestTransitionTable(t *testing.T) {
	assert.True(t, CanTransition(domain.TradeInitiated, domain.TradeLegsSubmitting))
	assert.True(t, CanTransition(domain.TradeLegsSubmitted, domain.TradePartialFailure))
	assert.True(t, CanTransition(domain.TradeUnwinding, domain.TradeUnwound))
	assert.False(t, CanTransition(domain.TradeInitiated, domain.TradeCompleted))
	assert.False(t, CanTransition(domain.TradeCompleted, domain.TradeFailed))
	assert.False(t, CanTransition(domain.TradeLegsSubmitted, domain.TradeUnwinding))
}

func TestAdvanceRecordsHistory(t *testing.T) {
	tr := domain.Trade{ID: "t1", Status: domain.TradeInitiated}
	at := time.Unix(100, 0)

	require.NoError(t, advance(&tr, domain.TradeLegsSubmitting, at))
	require.NoError(t, advance(&tr, domain.TradeFailed, at.Add(time.Second)))

	assert.Len(t, tr.History, 2)
	require.NotNil(t, tr.ClosedAt)
	assert.Equal(t, at.Add(time.Second), *tr.ClosedAt)

	err := advance(&tr, domain.TradeCompleted, at)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.TradeFailed, tr.Status)
}

func TestDedupClaim(t *testing.T) {
	now := time.Unix(0, 0)
	d := NewDedup(time.Minute, func() time.Time { return now })

	assert.True(t, d.Claim("a"))
	assert.False(t, d.Claim("a"))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, d.Cleanup())
	assert.True(t, d.Claim("a"))
}

func TestBackoffCaps(t *testing.T) {
	assert.Equal(t, 10*time.Millisecond, backoff(10*time.Millisecond, 0))
	assert.Equal(t, 40*time.Millisecond, backoff(10*time.Millisecond, 2))
	assert.Equal(t, maxBackoff, backoff(time.Second, 10))
	assert.Zero(t, backoff(0, 3))
}
