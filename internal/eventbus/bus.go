// Package eventbus implements the bounded multi-producer/multi-consumer
// broadcast bus that every turn and tool invocation publishes onto. It
// guarantees strict ordering of events sharing a call_id and detects when a
// slow subscriber has fallen behind, rather than letting it stall a
// publisher indefinitely.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/coreagent/loopcore/internal/observability"
	"github.com/google/uuid"
)

// EventType mirrors internal/observability's vocabulary so downstream
// consumers (the timeline store, the CLI renderer) keep working with a
// familiar set of names, generalized to the bus's broadcast semantics.
type EventType string

const (
	EventTurnStarted     EventType = "turn.started"
	EventTurnCompleted   EventType = "turn.completed"
	EventTextDelta       EventType = "text.delta"
	EventToolCallStarted EventType = "tool.call.started"
	EventToolOutputDelta EventType = "tool.output.delta"
	EventToolCallDone    EventType = "tool.call.done"
	EventReminderIssued  EventType = "reminder.issued"
	EventApprovalNeeded  EventType = "approval.needed"
)

// Event is one message on the bus. CallID groups events that must be
// delivered in order relative to each other (e.g. all ToolOutputDelta events
// for one tool call, followed by its ToolCallDone).
type Event struct {
	ID        string
	Type      EventType
	CallID    string
	RunID     string
	Seq       uint64
	Timestamp time.Time
	Payload   any
}

// defaultSubscriberCapacity bounds each subscriber's channel. A publisher
// never blocks past this; a subscriber that cannot keep up is marked lagging
// instead.
const defaultSubscriberCapacity = 256

// Bus is a bounded broadcast bus. The zero value is not usable; use New.
type Bus struct {
	mu          sync.Mutex
	subscribers map[uint64]*subscriber
	nextSubID   uint64
	nextSeq     uint64
	capacity    int

	lagCount uint64
}

type subscriber struct {
	ch      chan Event
	lagging bool
}

// New creates a bus with the given per-subscriber channel capacity. A
// capacity <= 0 uses defaultSubscriberCapacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &Bus{
		subscribers: make(map[uint64]*subscriber),
		capacity:    capacity,
	}
}

// Subscription is a handle returned by Subscribe. Call Close to stop
// receiving and release the subscriber's channel.
type Subscription struct {
	bus *Bus
	id  uint64
	ch  <-chan Event
}

// Events returns the channel of events for this subscription.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if sub, ok := s.bus.subscribers[s.id]; ok {
		close(sub.ch)
		delete(s.bus.subscribers, s.id)
	}
}

// Subscribe registers a new subscriber and returns a Subscription whose
// Events channel receives every event published from this point forward.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSubID
	b.nextSubID++
	ch := make(chan Event, b.capacity)
	b.subscribers[id] = &subscriber{ch: ch}
	return &Subscription{bus: b, id: id, ch: ch}
}

// Publish broadcasts an event to every current subscriber. It assigns a
// monotonic Seq and fills in ID/Timestamp if unset. Publish never blocks: a
// subscriber whose channel is full is marked lagging and the event is
// dropped for that subscriber only, preserving the bounded-stall guarantee
// for every other subscriber and for the publisher itself.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.RunID == "" {
		ev.RunID = observability.GetRunID(ctx)
	}

	b.mu.Lock()
	ev.Seq = b.nextSeq
	b.nextSeq++
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- ev:
			sub.lagging = false
		default:
			sub.lagging = true
			b.lagCount++
		}
	}
	b.mu.Unlock()
}

// LaggingSubscribers reports how many subscribers are currently behind
// (their channel was full on the last publish attempt that reached them).
func (b *Bus) LaggingSubscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, sub := range b.subscribers {
		if sub.lagging {
			n++
		}
	}
	return n
}

// DroppedEventCount returns the cumulative number of per-subscriber drops
// caused by a full channel, for metrics.
func (b *Bus) DroppedEventCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lagCount
}

// SubscriberCount reports the number of currently registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
