package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster(1)
	first := b.Subscribe()
	second := b.Subscribe()

	b.Publish(Update{Kind: KindOverview, Fields: map[string]string{"total_assets": "10.00"}})
	// buffer is full, dropped for both
	b.Publish(Update{Kind: KindBalances})

	for _, ch := range []chan Update{first, second} {
		select {
		case u := <-ch:
			assert.Equal(t, KindOverview, u.Kind)
		case <-time.After(time.Second):
			t.Fatal("update not delivered")
		}
		assert.Len(t, ch, 0)
	}

	b.Unsubscribe(first)
	_, open := <-first
	require.False(t, open)

	// second unsubscribe is a no-op
	b.Unsubscribe(first)
}

func TestBroadcaster_NilPublish(t *testing.T) {
	var b *Broadcaster
	assert.NotPanics(t, func() { b.Publish(Update{}) })
}
