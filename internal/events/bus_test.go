// ABOUTME: Tests for the conversation event bus
// ABOUTME: Verifies fan-out, slow-subscriber drops, and unsubscribe cleanup

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmandel/banterop-bridge/internal/convo"
)

func TestBus_FanOut(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	ctx := context.Background()
	ch1, _ := b.SubscribeAll(ctx)
	ch2, _ := b.SubscribeAll(ctx)

	ev := Event{Type: TypeMessage, Finality: convo.FinalityTurn, ConversationID: "conv-1"}
	b.Publish(ev)

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, ev, got)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	ch, subID := b.SubscribeAll(context.Background())
	b.Unsubscribe(subID)

	_, open := <-ch
	assert.False(t, open)

	// Second unsubscribe is a no-op.
	b.Unsubscribe(subID)
}

func TestBus_ContextCancelRemovesSubscriber(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.SubscribeAll(ctx)
	cancel()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
}

func TestBus_PublishRacingUnsubscribeDoesNotPanic(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				b.Publish(Event{Type: TypeStatus, ConversationID: "conv-1", State: convo.StateWorking})
			}
		}
	}()

	// Churn subscriptions while the publisher runs. A send into a freshly
	// closed channel would panic the publisher goroutine and fail the test.
	for i := 0; i < 200; i++ {
		_, subID := b.SubscribeAll(context.Background())
		b.Unsubscribe(subID)
	}

	close(stop)
	wg.Wait()
}

func TestBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	ch, _ := b.SubscribeAll(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.Publish(Event{Type: TypeStatus, ConversationID: "conv-1", State: convo.StateWorking})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// The buffered portion is still deliverable.
	require.NotEmpty(t, ch)
}
