package bus

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muster-io/muster/pkg/fleet"
)

// receiveOne pulls the next event off a subscription or fails the test.
func receiveOne(t *testing.T, sub *Subscription) *fleet.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed unexpectedly")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestSubscribe(t *testing.T) {
	b := New(0)

	t.Run("accepts exact tag pattern", func(t *testing.T) {
		sub, err := b.Subscribe("coord.agent.report")
		require.NoError(t, err)
		defer sub.Close()
		assert.Equal(t, "coord.agent.report", sub.Pattern())
	})

	t.Run("accepts prefix wildcard pattern", func(t *testing.T) {
		sub, err := b.Subscribe("coord.*")
		require.NoError(t, err)
		defer sub.Close()
	})

	t.Run("accepts universal wildcard", func(t *testing.T) {
		sub, err := b.Subscribe("*")
		require.NoError(t, err)
		defer sub.Close()
	})

	t.Run("rejects empty pattern", func(t *testing.T) {
		_, err := b.Subscribe("")
		assert.Error(t, err)
	})

	t.Run("rejects malformed pattern", func(t *testing.T) {
		_, err := b.Subscribe(".coord.*")
		assert.Error(t, err)
	})
}

func TestPublishDelivery(t *testing.T) {
	t.Run("delivers to exact match", func(t *testing.T) {
		b := New(0)
		sub, err := b.Subscribe("coord.agent.report")
		require.NoError(t, err)
		defer sub.Close()

		published := b.Publish("coord.agent.report", map[string]any{"k": "v"}, "node-1")
		got := receiveOne(t, sub)
		assert.Equal(t, published.ID, got.ID)
		assert.Equal(t, "node-1", got.Origin)
	})

	t.Run("delivers to prefix wildcard match", func(t *testing.T) {
		b := New(0)
		sub, err := b.Subscribe("coord.*")
		require.NoError(t, err)
		defer sub.Close()

		b.Publish("coord.agent.report", nil, "node-1")
		got := receiveOne(t, sub)
		assert.Equal(t, "coord.agent.report", got.Tag)
	})

	t.Run("does not deliver non-matching tags", func(t *testing.T) {
		b := New(0)
		sub, err := b.Subscribe("coord.agent.report")
		require.NoError(t, err)
		defer sub.Close()

		b.Publish("muster.cache.updated", nil, fleet.OriginCoordinator)
		select {
		case ev := <-sub.Events():
			t.Fatalf("unexpected delivery: %v", ev.Tag)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("fans out to multiple subscriptions", func(t *testing.T) {
		b := New(0)
		exact, err := b.Subscribe("coord.agent.report")
		require.NoError(t, err)
		defer exact.Close()
		wild, err := b.Subscribe("coord.*")
		require.NoError(t, err)
		defer wild.Close()

		published := b.Publish("coord.agent.report", nil, "node-1")
		assert.Equal(t, published.ID, receiveOne(t, exact).ID)
		assert.Equal(t, published.ID, receiveOne(t, wild).ID)
	})
}

func TestPerOriginOrdering(t *testing.T) {
	b := New(0)
	sub, err := b.Subscribe("coord.*")
	require.NoError(t, err)
	defer sub.Close()

	first := b.Publish("coord.step.one", nil, "node-1")
	second := b.Publish("coord.step.two", nil, "node-1")

	assert.Equal(t, first.ID, receiveOne(t, sub).ID)
	assert.Equal(t, second.ID, receiveOne(t, sub).ID)
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	// Capacity 2, five publishes with no consumer: the subscriber must end
	// up with exactly the two most recent events and a drop count of 3.
	b := New(2)
	sub, err := b.Subscribe("coord.*")
	require.NoError(t, err)
	defer sub.Close()

	var published []*fleet.Event
	for i := 1; i <= 5; i++ {
		published = append(published, b.Publish(fmt.Sprintf("coord.seq.e%d", i), nil, "node-1"))
	}

	assert.Equal(t, published[3].ID, receiveOne(t, sub).ID)
	assert.Equal(t, published[4].ID, receiveOne(t, sub).ID)
	assert.Equal(t, uint64(3), sub.Dropped())
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New(1)
	sub, err := b.Subscribe("*")
	require.NoError(t, err)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish("coord.flood", nil, "node-1")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestClose(t *testing.T) {
	t.Run("queued events are delivered after close", func(t *testing.T) {
		b := New(4)
		sub, err := b.Subscribe("coord.*")
		require.NoError(t, err)

		first := b.Publish("coord.a", nil, "node-1")
		second := b.Publish("coord.b", nil, "node-1")
		require.NoError(t, sub.Close())

		assert.Equal(t, first.ID, receiveOne(t, sub).ID)
		assert.Equal(t, second.ID, receiveOne(t, sub).ID)

		_, ok := <-sub.Events()
		assert.False(t, ok, "channel should be closed after draining")
	})

	t.Run("close unblocks a waiting consumer", func(t *testing.T) {
		b := New(0)
		sub, err := b.Subscribe("coord.*")
		require.NoError(t, err)

		unblocked := make(chan struct{})
		go func() {
			<-sub.Events()
			close(unblocked)
		}()

		require.NoError(t, sub.Close())
		select {
		case <-unblocked:
		case <-time.After(time.Second):
			t.Fatal("consumer did not unblock on close")
		}
	})

	t.Run("no delivery after unsubscribe", func(t *testing.T) {
		b := New(0)
		sub, err := b.Subscribe("coord.*")
		require.NoError(t, err)

		b.Unsubscribe(sub)
		b.Publish("coord.late", nil, "node-1")

		_, ok := <-sub.Events()
		assert.False(t, ok)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		b := New(0)
		sub, err := b.Subscribe("coord.*")
		require.NoError(t, err)
		require.NoError(t, sub.Close())
		require.NoError(t, sub.Close())
	})
}

func TestForwardPreservesIdentity(t *testing.T) {
	b := New(0)
	sub, err := b.Subscribe("coord.*")
	require.NoError(t, err)
	defer sub.Close()

	original := fleet.NewEvent("coord.agent.report", map[string]any{"grains": map[string]any{}}, "node-1")
	b.Forward(original)

	got := receiveOne(t, sub)
	assert.Equal(t, original.ID, got.ID)
	assert.Equal(t, original.Origin, got.Origin)
	assert.Equal(t, original.TimestampMs, got.TimestampMs)
}

func TestConcurrentPublishers(t *testing.T) {
	b := New(1024)
	sub, err := b.Subscribe("coord.*")
	require.NoError(t, err)
	defer sub.Close()

	const perOrigin = 50
	var wg sync.WaitGroup
	for _, origin := range []string{"node-1", "node-2", "node-3"} {
		wg.Add(1)
		go func(origin string) {
			defer wg.Done()
			for i := 0; i < perOrigin; i++ {
				b.Publish(fmt.Sprintf("coord.from.%s", origin), map[string]any{"seq": i}, origin)
			}
		}(origin)
	}
	wg.Wait()

	// No cross-origin ordering is promised, but per-origin sequences must
	// arrive in publish order.
	lastSeq := map[string]int{"node-1": -1, "node-2": -1, "node-3": -1}
	for i := 0; i < 3*perOrigin; i++ {
		ev := receiveOne(t, sub)
		seq := ev.Data["seq"].(int)
		assert.Greater(t, seq, lastSeq[ev.Origin], "out-of-order delivery for %s", ev.Origin)
		lastSeq[ev.Origin] = seq
	}
	assert.Equal(t, uint64(0), sub.Dropped())
}
