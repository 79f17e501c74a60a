package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	t.Parallel()
	bus := New()
	a := bus.Subscribe(4)
	defer a.Cancel()
	b := bus.Subscribe(4)
	defer b.Cancel()

	bus.Publish(Event{Type: "task.admitted", Data: "t1"})

	for _, sub := range []*Subscription{a, b} {
		select {
		case ev := <-sub.C:
			if ev.Type != "task.admitted" || ev.Data != "t1" {
				t.Fatalf("event = %+v, want task.admitted t1", ev)
			}
			if ev.Time.IsZero() {
				t.Fatal("publish left Time zero")
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber never received the event")
		}
	}
}

func TestFullSubscriberDropsAndCounts(t *testing.T) {
	t.Parallel()
	bus := New()
	sub := bus.Subscribe(1)
	defer sub.Cancel()

	bus.Publish(Event{Type: "task.admitted"})
	bus.Publish(Event{Type: "task.completed"})
	bus.Publish(Event{Type: "task.failed"})

	if got := sub.Dropped(); got != 2 {
		t.Fatalf("Dropped() = %d, want 2", got)
	}
	select {
	case ev := <-sub.C:
		if ev.Type != "task.admitted" {
			t.Fatalf("delivered %s, want the first published event", ev.Type)
		}
	default:
		t.Fatal("buffered event missing")
	}
}

func TestCancelStopsDeliveryAndIsIdempotent(t *testing.T) {
	t.Parallel()
	bus := New()
	sub := bus.Subscribe(4)
	sub.Cancel()
	sub.Cancel()

	// Publishing after Cancel must neither panic nor count a drop.
	bus.Publish(Event{Type: "task.admitted"})
	if got := sub.Dropped(); got != 0 {
		t.Fatalf("Dropped() after Cancel = %d, want 0", got)
	}
	if _, ok := <-sub.C; ok {
		t.Fatal("C still open after Cancel")
	}
}
