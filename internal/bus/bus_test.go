package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBus() *Bus {
	return New(Config{Prefix: "test", Log: zerolog.Nop()})
}

func TestPublishSubscribeAck(t *testing.T) {
	b := testBus()
	require.NoError(t, b.Publish("order.fill", map[string]string{"symbol": "BTC"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries := b.Subscribe(ctx, "order.fill", "engineA", 10*time.Millisecond)
	d := <-deliveries
	var payload map[string]string
	require.True(t, b.DecodeOrAck(d, &payload))
	assert.Equal(t, "BTC", payload["symbol"])
	d.Ack()
}

// TestIndependentConsumerGroups is the literal scenario from spec.md §8.6:
// a fresh consumer joining a group that already acknowledged a message does
// not re-receive it, while a second independent group receives it fully.
func TestIndependentConsumerGroups(t *testing.T) {
	b := testBus()
	require.NoError(t, b.Publish("order.fill", map[string]int{"seq": 1}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := b.Subscribe(ctx, "order.fill", "engineA", 10*time.Millisecond)
	d := <-first
	d.Ack()

	// A fresh subscription under the same group must not redeliver.
	fresh := b.Subscribe(ctx, "order.fill", "engineA", 10*time.Millisecond)
	select {
	case <-fresh:
		t.Fatal("expected no redelivery to a fresh consumer in the same group")
	case <-time.After(30 * time.Millisecond):
	}

	audit := b.Subscribe(ctx, "order.fill", "audit", 10*time.Millisecond)
	select {
	case d2 := <-audit:
		var payload map[string]int
		require.True(t, b.DecodeOrAck(d2, &payload))
		assert.Equal(t, 1, payload["seq"])
		d2.Ack()
	case <-time.After(time.Second):
		t.Fatal("expected independent group to receive the message")
	}
}

func TestPoisonMessageAcknowledgedAndDropped(t *testing.T) {
	b := testBus()
	s := b.streamFor("order.fill")
	s.mu.Lock()
	s.nextID++
	s.messages = append(s.messages, Message{ID: s.nextID, Stream: "order.fill", Payload: json.RawMessage(`not json`)})
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries := b.Subscribe(ctx, "order.fill", "engineA", 10*time.Millisecond)
	d := <-deliveries
	var payload map[string]string
	ok := b.DecodeOrAck(d, &payload)
	assert.False(t, ok)

	// cursor already advanced past the poison message; nothing pending.
	assert.Equal(t, 0, len(s.groups["engineA"].pending))
}

func TestSubscribeMultipleRoundRobinsAndKeepsAlive(t *testing.T) {
	b := testBus()
	require.NoError(t, b.Publish("market.tick", map[string]string{"symbol": "BTC"}))
	require.NoError(t, b.Publish("market.vol_surface", map[string]string{"underlying": "BTC"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := b.SubscribeMultiple(ctx, []string{"market.tick", "market.vol_surface"}, "engine", 20*time.Millisecond)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		d := <-out
		require.False(t, d.IsKeepAlive)
		seen[d.Stream] = true
		d.Ack()
	}
	assert.True(t, seen["market.tick"])
	assert.True(t, seen["market.vol_surface"])

	select {
	case d := <-out:
		assert.True(t, d.IsKeepAlive)
	case <-time.After(time.Second):
		t.Fatal("expected keep-alive sentinel once both streams drained")
	}
}

func TestCloseIsIdempotentAndRejectsPublish(t *testing.T) {
	b := testBus()
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Error(t, b.Publish("order.fill", map[string]string{}))
}
