// ABOUTME: Tests for the Broadcaster fan-out of async outbound messages
// ABOUTME: Covers per-user routing, AllUsers, ordering, cleanup, and concurrency

package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "channel closed")
		return d
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
		return Delivery{}
	}
}

func TestBroadcaster_SubscriberReceivesMessagesInOrder(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "alice")

	b.Notify("alice", text("one"), text("two"))

	assert.Equal(t, "one", receive(t, ch).Message.Text)
	d := receive(t, ch)
	assert.Equal(t, "two", d.Message.Text)
	assert.Equal(t, "alice", d.UserID)
}

func TestBroadcaster_UsersAreIsolated(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	alice, _ := b.Subscribe(t.Context(), "alice")
	bob, _ := b.Subscribe(t.Context(), "bob")

	b.Notify("alice", text("for alice"))

	assert.Equal(t, "for alice", receive(t, alice).Message.Text)
	select {
	case <-bob:
		t.Fatal("bob should not receive alice's messages")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcaster_AllUsersReceivesEveryone(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	all, _ := b.Subscribe(t.Context(), AllUsers)

	b.Notify("alice", text("a"))
	b.Notify("bob", text("b"))

	assert.Equal(t, "alice", receive(t, all).UserID)
	assert.Equal(t, "bob", receive(t, all).UserID)
}

func TestBroadcaster_SlowConsumerDoesNotBlockNotify(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	_, _ = b.Subscribe(t.Context(), "alice")
	fast, _ := b.Subscribe(t.Context(), "alice")

	done := make(chan struct{})
	go func() {
		for range 100 {
			b.Notify("alice", text("x"))
		}
		close(done)
	}()

	received := 0
	for {
		select {
		case <-fast:
			received++
		case <-done:
			assert.Greater(t, received+len(fast), 0)
			return
		case <-time.After(2 * time.Second):
			t.Fatal("Notify blocked on a slow subscriber")
		}
	}
}

func TestBroadcaster_ContextCancellationCleansUp(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, subID := b.Subscribe(ctx, "alice")

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after context cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}

	b.mu.RLock()
	_, exists := b.subscribers["alice"][subID]
	b.mu.RUnlock()
	assert.False(t, exists)
}

func TestBroadcaster_CloseClosesAllSubscriptions(t *testing.T) {
	b := NewBroadcaster(nil)

	ch1, _ := b.Subscribe(t.Context(), "alice")
	ch2, _ := b.Subscribe(t.Context(), AllUsers)

	b.Close()

	for i, ch := range []<-chan Delivery{ch1, ch2} {
		select {
		case _, ok := <-ch:
			assert.False(t, ok, "channel %d should be closed after Close()", i)
		case <-time.After(time.Second):
			t.Fatalf("channel %d not closed after Close()", i)
		}
	}

	// Notifying after close must not panic.
	b.Notify("alice", text("late"))
}

func TestBroadcaster_ConcurrentNotifyAndUnsubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			ctx, cancel := context.WithCancel(context.Background())
			ch, _ := b.Subscribe(ctx, "alice")
			select {
			case <-ch:
			case <-time.After(50 * time.Millisecond):
			}
			cancel()
		})
	}
	for range 10 {
		wg.Go(func() {
			for range 20 {
				b.Notify("alice", text("x"))
			}
		})
	}
	wg.Wait()
}
