package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestPublishSubscribeOrdering(t *testing.T) {
	bus := New(8)
	sub := bus.Subscribe()
	defer sub.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		bus.Publish(ctx, Event{Type: EventToolOutputDelta, CallID: "call-1"})
	}

	var seqs []uint64
	for i := 0; i < 5; i++ {
		select {
		case ev := <-sub.Events():
			seqs = append(seqs, ev.Seq)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}

	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("expected strictly increasing Seq, got %v", seqs)
		}
	}
}

func TestSlowSubscriberLagsWithoutBlockingPublisher(t *testing.T) {
	bus := New(1)
	slow := bus.Subscribe()
	defer slow.Close()

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(ctx, Event{Type: EventTextDelta})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	if bus.LaggingSubscribers() == 0 {
		t.Fatal("expected the slow subscriber to be marked lagging")
	}
}

func TestSubscribeCountAndClose(t *testing.T) {
	bus := New(4)
	sub1 := bus.Subscribe()
	sub2 := bus.Subscribe()

	if got := bus.SubscriberCount(); got != 2 {
		t.Fatalf("expected 2 subscribers, got %d", got)
	}

	sub1.Close()
	if got := bus.SubscriberCount(); got != 1 {
		t.Fatalf("expected 1 subscriber after close, got %d", got)
	}
	sub2.Close()
}

func TestTimelineOrdersByCallID(t *testing.T) {
	bus := New(16)
	tl := NewTimeline(bus)
	defer tl.Close()

	ctx := context.Background()
	bus.Publish(ctx, Event{CallID: "a", Type: EventToolCallStarted})
	bus.Publish(ctx, Event{CallID: "b", Type: EventToolCallStarted})
	bus.Publish(ctx, Event{CallID: "a", Type: EventToolCallDone})

	deadline := time.After(time.Second)
	for {
		if len(tl.All()) >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for timeline to observe events")
		case <-time.After(10 * time.Millisecond):
		}
	}

	aEvents := tl.ForCallID("a")
	if len(aEvents) != 2 {
		t.Fatalf("expected 2 events for call a, got %d", len(aEvents))
	}
	if aEvents[0].Type != EventToolCallStarted || aEvents[1].Type != EventToolCallDone {
		t.Fatalf("expected call-a events in publish order, got %+v", aEvents)
	}
}
