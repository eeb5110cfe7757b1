package shard

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateCreatesOnce(t *testing.T) {
	m := New[*int](4)
	calls := 0
	create := func() *int { calls++; v := 7; return &v }

	a := m.GetOrCreate("BTCUSDT", create)
	b := m.GetOrCreate("BTCUSDT", create)

	assert.Same(t, a, b)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, m.Len())
}

func TestConcurrentGetOrCreate(t *testing.T) {
	m := New[*sync.Mutex](8)
	var wg sync.WaitGroup
	results := make([]*sync.Mutex, 64)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.GetOrCreate("ETHUSDT", func() *sync.Mutex { return &sync.Mutex{} })
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.Same(t, results[0], r)
	}
}

func TestDeleteIfAndRange(t *testing.T) {
	m := New[int](3)
	for i := 0; i < 10; i++ {
		m.Set("k"+strconv.Itoa(i), i)
	}

	removed := m.DeleteIf(func(_ string, v int) bool { return v%2 == 0 })
	assert.Equal(t, 5, removed)
	assert.Equal(t, 5, m.Len())

	sum := 0
	m.Range(func(_ string, v int) bool { sum += v; return true })
	assert.Equal(t, 1+3+5+7+9, sum)

	_, ok := m.Get("k2")
	assert.False(t, ok)
	v, ok := m.Get("k3")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestIndexIsStable(t *testing.T) {
	m := New[int](16)
	assert.Equal(t, m.Index("SOLUSDT"), m.Index("SOLUSDT"))
	assert.Less(t, m.Index("SOLUSDT"), 16)
}
