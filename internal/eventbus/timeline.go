package eventbus

import (
	"sync"
)

// maxTimelineEvents bounds the in-memory replay buffer, mirroring
// internal/observability/events.go's MemoryEventStore eviction policy: once
// full, the oldest events are evicted to make room for new ones.
const maxTimelineEvents = 10000

// Timeline subscribes to a Bus and retains a bounded, ordered history of
// everything it has seen, so a CLI can render "what happened this turn" or a
// test can assert on event order after the fact.
type Timeline struct {
	mu     sync.Mutex
	events []Event
	max    int
	sub    *Subscription
}

// NewTimeline creates a Timeline subscribed to bus. Call Close when done to
// release the underlying subscription.
func NewTimeline(bus *Bus) *Timeline {
	t := &Timeline{max: maxTimelineEvents}
	sub := bus.Subscribe()
	go func() {
		for ev := range sub.Events() {
			t.record(ev)
		}
	}()
	t.sub = sub
	return t
}

func (t *Timeline) record(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, ev)
	if len(t.events) > t.max {
		overflow := len(t.events) - t.max
		t.events = t.events[overflow:]
	}
}

// All returns a copy of every retained event, oldest first.
func (t *Timeline) All() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// ForCallID returns only the events sharing call_id, in publish order. Since
// the bus assigns a strictly increasing Seq and the timeline appends in
// receive order, this is already sorted; no extra sort is needed, which is
// itself the ordering guarantee under test.
func (t *Timeline) ForCallID(callID string) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Event
	for _, ev := range t.events {
		if ev.CallID == callID {
			out = append(out, ev)
		}
	}
	return out
}

// Close stops the timeline's background subscription.
func (t *Timeline) Close() {
	if t.sub != nil {
		t.sub.Close()
	}
}
