package bus

import (
	"testing"
	"time"
)

func TestPublishDeliversInOrder(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	for i := 0; i < 5; i++ {
		b.Publish(TopicStreamChunk, i)
	}

	for i := 0; i < 5; i++ {
		select {
		case evt := <-sub.C:
			if evt.Topic != TopicStreamChunk {
				t.Fatalf("unexpected topic %q", evt.Topic)
			}
			if evt.Data.(int) != i {
				t.Fatalf("out of order: got %v want %d", evt.Data, i)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	b := New(WithQueueDepth(2))
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	b.Publish(TopicStreamChunk, 1)
	b.Publish(TopicStreamChunk, 2)
	b.Publish(TopicStreamChunk, 3) // dropped, queue is full

	got := 0
	for {
		select {
		case <-sub.C:
			got++
		default:
			if got != 2 {
				t.Fatalf("expected 2 delivered events, got %d", got)
			}
			return
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	if b.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", b.SubscriberCount())
	}

	sub.Unsubscribe()
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.SubscriberCount())
	}

	if _, ok := <-sub.C; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(TopicHeartbeat, nil)
}

func TestMultipleSubscribersEachReceive(t *testing.T) {
	b := New()
	a := b.Subscribe()
	c := b.Subscribe()
	defer a.Unsubscribe()
	defer c.Unsubscribe()

	b.Publish(TopicPresence, "x")

	for _, sub := range []*Subscription{a, c} {
		select {
		case evt := <-sub.C:
			if evt.Data.(string) != "x" {
				t.Fatalf("unexpected data %v", evt.Data)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}
