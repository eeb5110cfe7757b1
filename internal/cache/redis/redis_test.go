package redis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

func TestKeys(t *testing.T) {
	c := &Client{prefix: "arb:"}
	assert.Equal(t, "arb:quote:BTCUSDT", c.Key(quoteKey("BTCUSDT")))
	assert.Equal(t, "arb:lock:leader", c.Key(lockKey("leader")))
	assert.Equal(t, "arb:ratelimit:api:1.2.3.4", c.Key(rateLimitKey("api:1.2.3.4")))

	bare := &Client{}
	assert.Equal(t, "ch:quote", bare.Key(domain.ChannelQuotes))
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("ch:*"))
	assert.True(t, hasPattern("ch:trade?"))
	assert.False(t, hasPattern(domain.ChannelSignals))
}

func TestDecodeQuotes(t *testing.T) {
	q := domain.Quote{
		Symbol:     "BTCUSDT",
		Venue:      "alpha",
		Bid:        100,
		Ask:        100.5,
		BidSize:    1,
		AskSize:    2,
		ObservedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	raw, err := json.Marshal(q)
	require.NoError(t, err)

	got, err := decodeQuotes(map[string]string{"alpha": string(raw)})
	require.NoError(t, err)
	require.Contains(t, got, "alpha")
	assert.Equal(t, q.Bid, got["alpha"].Bid)
	assert.True(t, q.ObservedAt.Equal(got["alpha"].ObservedAt))

	_, err = decodeQuotes(map[string]string{"beta": "{not json"})
	assert.Error(t, err)
}

func TestNewQuoteMirrorDefaultTTL(t *testing.T) {
	m := NewQuoteMirror(&Client{}, 0)
	assert.Equal(t, time.Minute, m.ttl)
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
}

func TestNewSignalBusMaxLen(t *testing.T) {
	assert.Equal(t, defaultStreamMaxLen, NewSignalBus(&Client{}, 0).maxLen)
	assert.Equal(t, int64(500), NewSignalBus(&Client{}, 500).maxLen)
}

func TestStreamMessages(t *testing.T) {
	results := []redis.XStream{{
		Stream: "arb:stream:trades",
		Messages: []redis.XMessage{
			{ID: "1-0", Values: map[string]any{payloadField: `{"id":"a"}`}},
			{ID: "2-0", Values: map[string]any{"other": "x"}},
			{ID: "3-0", Values: map[string]any{payloadField: []byte(`{"id":"b"}`)}},
			{ID: "4-0", Values: map[string]any{payloadField: 42}},
		},
	}}

	got := streamMessages(results)
	require.Len(t, got, 2)
	assert.Equal(t, "1-0", got[0].ID)
	assert.JSONEq(t, `{"id":"a"}`, string(got[0].Payload))
	assert.Equal(t, "3-0", got[1].ID)
	assert.Empty(t, streamMessages(nil))
}

func TestRateDecision(t *testing.T) {
	now := time.UnixMicro(10_000_000)

	d, err := rateDecision([]int64{1, 3, 0}, 5, now, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
	assert.Zero(t, d.RetryAfter)

	oldest := now.Add(-45 * time.Second).UnixMicro()
	d, err = rateDecision([]int64{0, 5, oldest}, 5, now, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 15*time.Second, d.RetryAfter)

	_, err = rateDecision([]int64{1}, 5, now, time.Minute)
	assert.Error(t, err)
}
