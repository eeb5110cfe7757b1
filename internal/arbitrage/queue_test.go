package arbitrage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

func TestQueuePopsHighestProfitFirst(t *testing.T) {
	q := NewQueue(10)
	require.NoError(t, q.TryPublish(domain.Signal{ID: "low", NetProfitPct: 0.001}))
	require.NoError(t, q.TryPublish(domain.Signal{ID: "high", NetProfitPct: 0.004}))
	require.NoError(t, q.TryPublish(domain.Signal{ID: "tie-a", NetProfitPct: 0.002, Confidence: 0.2}))
	require.NoError(t, q.TryPublish(domain.Signal{ID: "tie-b", NetProfitPct: 0.002, Confidence: 0.9}))

	ctx := context.Background()
	var order []string
	for i := 0; i < 4; i++ {
		sig, err := q.Pop(ctx)
		require.NoError(t, err)
		order = append(order, sig.ID)
	}
	assert.Equal(t, []string{"high", "tie-b", "tie-a", "low"}, order)
}

func TestQueueFullAndClosed(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.TryPublish(domain.Signal{ID: "a"}))
	assert.ErrorIs(t, q.TryPublish(domain.Signal{ID: "b"}), domain.ErrQueueFull)

	left := q.Close()
	assert.Len(t, left, 1)
	assert.ErrorIs(t, q.TryPublish(domain.Signal{ID: "c"}), domain.ErrQueueClosed)

	_, err := q.Pop(context.Background())
	assert.ErrorIs(t, err, domain.ErrQueueClosed)
	assert.Nil(t, q.Close())
}

func TestQueuePopWaitsForPublish(t *testing.T) {
	q := NewQueue(4)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got := make(chan domain.Signal, 1)
	go func() {
		sig, err := q.Pop(ctx)
		if err == nil {
			got <- sig
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.TryPublish(domain.Signal{ID: "x"}))

	select {
	case sig := <-got:
		assert.Equal(t, "x", sig.ID)
	case <-ctx.Done():
		t.Fatal("Pop did not return")
	}
}

func TestQueuePopHonoursContext(t *testing.T) {
	q := NewQueue(4)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueCloseWakesWaiters(t *testing.T) {
	q := NewQueue(4)
	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Pop(context.Background())
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	q.Close()
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.ErrorIs(t, err, domain.ErrQueueClosed)
	}
}
