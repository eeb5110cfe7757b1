package arbitrage

import (
	"container/heap"
	"context"
	"sync"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// Queue is a bounded priority queue of signals between the detector and the
// execution coordinator. The most profitable signal is popped first; ties go
// to the higher confidence. Publishing never blocks.
type Queue struct {
	mu     sync.Mutex
	items  signalHeap
	cap    int
	closed bool
	ready  chan struct{}
}

// NewQueue allocates a queue holding at most capacity signals.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{cap: capacity, ready: make(chan struct{}, 1)}
}

// TryPublish enqueues sig without blocking. It returns domain.ErrQueueFull
// when the queue is at capacity and domain.ErrQueueClosed after Close.
func (q *Queue) TryPublish(sig domain.Signal) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return domain.ErrQueueClosed
	}
	if len(q.items) >= q.cap {
		q.mu.Unlock()
		return domain.ErrQueueFull
	}
	heap.Push(&q.items, sig)
	q.signal()
	q.mu.Unlock()
	return nil
}

// signal wakes one waiting Pop. Callers hold q.mu.
func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Pop blocks until a signal is available, ctx is done, or the queue is
// closed. Signals still queued at Close are not returned.
func (q *Queue) Pop(ctx context.Context) (domain.Signal, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return domain.Signal{}, domain.ErrQueueClosed
		}
		if len(q.items) > 0 {
			sig := heap.Pop(&q.items).(domain.Signal)
			if len(q.items) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return sig, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.Signal{}, ctx.Err()
		case <-q.ready:
		}
	}
}

// Close stops the queue and returns the signals that were never popped.
func (q *Queue) Close() []domain.Signal {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	left := []domain.Signal(q.items)
	q.items = nil
	close(q.ready)
	return left
}

// Len returns the number of queued signals.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type signalHeap []domain.Signal

func (h signalHeap) Len() int { return len(h) }

func (h signalHeap) Less(i, j int) bool {
	if h[i].NetProfitPct != h[j].NetProfitPct {
		return h[i].NetProfitPct > h[j].NetProfitPct
	}
	return h[i].Confidence > h[j].Confidence
}

func (h signalHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *signalHeap) Push(x any) { *h = append(*h, x.(domain.Signal)) }

func (h *signalHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
