package notify_test

import (
	"testing"
	"time"

	"flatman-go/internal/notify"
)

func TestHub_PublishSubscribe(t *testing.T) {
	t.Parallel()
	hub := notify.NewHub()

	sub := hub.Subscribe(notify.TopicPackage("p1"), 4)
	defer sub.Cancel()

	hub.Publish(notify.TopicPackage("p1"), notify.Event{
		Kind:      notify.KindStatus,
		PackageID: "p1",
		Status:    "building",
	})

	select {
	case ev := <-sub.C:
		if ev.Status != "building" {
			t.Errorf("Status = %q, want %q", ev.Status, "building")
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestHub_TopicsAreIndependent(t *testing.T) {
	t.Parallel()
	hub := notify.NewHub()

	subA := hub.Subscribe(notify.TopicPackage("a"), 4)
	defer subA.Cancel()
	subB := hub.Subscribe(notify.TopicPackage("b"), 4)
	defer subB.Cancel()

	hub.Publish(notify.TopicPackage("a"), notify.Event{Kind: notify.KindLog, Message: "for a"})

	select {
	case ev := <-subA.C:
		if ev.Message != "for a" {
			t.Errorf("Message = %q, want %q", ev.Message, "for a")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber a received nothing")
	}

	select {
	case ev := <-subB.C:
		t.Fatalf("subscriber b received unexpected event: %+v", ev)
	default:
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()
	hub := notify.NewHub()

	// Buffer of one, never drained: further publishes must drop, not block.
	sub := hub.Subscribe("topic", 1)
	defer sub.Cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish("topic", notify.Event{Kind: notify.KindLog, Message: "spam"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestHub_InOrderPerSubscriber(t *testing.T) {
	t.Parallel()
	hub := notify.NewHub()

	sub := hub.Subscribe("topic", 16)
	defer sub.Cancel()

	for _, msg := range []string{"one", "two", "three"} {
		hub.Publish("topic", notify.Event{Kind: notify.KindLog, Message: msg})
	}

	for _, want := range []string{"one", "two", "three"} {
		select {
		case ev := <-sub.C:
			if ev.Message != want {
				t.Errorf("Message = %q, want %q", ev.Message, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %q", want)
		}
	}
}

func TestSubscription_Cancel(t *testing.T) {
	t.Parallel()
	hub := notify.NewHub()

	sub := hub.Subscribe("topic", 4)
	if got := hub.Subscribers("topic"); got != 1 {
		t.Fatalf("Subscribers() = %d, want 1", got)
	}

	sub.Cancel()
	if got := hub.Subscribers("topic"); got != 0 {
		t.Errorf("Subscribers() after Cancel = %d, want 0", got)
	}

	// Cancel is idempotent and publishing after cancel is safe.
	sub.Cancel()
	hub.Publish("topic", notify.Event{Kind: notify.KindLog, Message: "late"})

	// The channel is closed, so reads drain immediately.
	if _, ok := <-sub.C; ok {
		t.Error("expected closed channel after Cancel")
	}
}
