package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-insight/realtime"
)

func TestNilClientIsSafe(t *testing.T) {
	var r *RedisClient
	ctx := context.Background()

	assert.ErrorIs(t, r.Set(ctx, "k", 1, time.Second), ErrNotInitialized)
	var v int
	assert.ErrorIs(t, r.Get(ctx, "k", &v), ErrNotInitialized)
	assert.ErrorIs(t, r.Publish(ctx, "c", "m"), ErrNotInitialized)
	assert.Nil(t, r.Subscribe(ctx, "c"))
	assert.NoError(t, r.Close())
}

func TestEventRelayWithoutRedis(t *testing.T) {
	relay := NewEventRelay(nil, "")
	assert.Equal(t, EventsChannel, relay.channel)
	assert.ErrorIs(t, relay.Forward(context.Background(), realtime.Event{Type: realtime.EventRunStarted}), ErrNotInitialized)
	assert.ErrorIs(t, relay.Run(context.Background(), func(realtime.Event) {}), ErrNotInitialized)
}

func TestEventRelayDropsOwnEvents(t *testing.T) {
	here := NewEventRelay(nil, "events")
	there := NewEventRelay(nil, "events")
	require.NotEqual(t, here.origin, there.origin)

	var got []realtime.Event
	deliver := func(ev realtime.Event) { got = append(got, ev) }

	own, err := json.Marshal(relayedEvent{Origin: here.origin, Event: realtime.Event{Type: realtime.EventRunStarted, RunID: "r1"}})
	require.NoError(t, err)
	remote, err := json.Marshal(relayedEvent{Origin: there.origin, Event: realtime.Event{
		Type:    realtime.EventRunCompleted,
		RunID:   "r2",
		Payload: map[string]any{"personalized_advice": "Hold winners longer."},
	}})
	require.NoError(t, err)

	assert.False(t, here.handle(own, deliver))
	assert.True(t, here.handle(remote, deliver))
	assert.False(t, here.handle([]byte("not json"), deliver))
	assert.False(t, here.handle([]byte(`{"origin":"x","event":{}}`), deliver))

	require.Len(t, got, 1)
	assert.Equal(t, realtime.EventRunCompleted, got[0].Type)
	assert.Equal(t, "r2", got[0].RunID)
	assert.Equal(t, map[string]any{"personalized_advice": "Hold winners longer."}, got[0].Payload)
}

func TestRecommendationCacheWithoutRedis(t *testing.T) {
	c := NewRecommendationCache(nil, 0)
	_, ok := c.Get(context.Background(), "ctx")
	assert.False(t, ok)
	assert.ErrorIs(t, c.Set(context.Background(), "ctx", "p", "advice"), ErrNotInitialized)
	assert.Equal(t, 30*time.Minute, c.ttl)
}

func TestGenerateDataHash(t *testing.T) {
	a := GenerateDataHash("Trade patterns: x")
	assert.Len(t, a, 16)
	assert.Equal(t, a, GenerateDataHash("Trade patterns: x"))
	assert.NotEqual(t, a, GenerateDataHash("Trade patterns: y"))
	assert.Equal(t, "advice:"+a, adviceKey("Trade patterns: x"))
}
