package engine

import "sync"

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// Event types published on campaign topics and the global topic.
const (
	EventResult     = "result"
	EventStats      = "stats"
	EventJob        = "job"
	EventDone       = "done"
	EventExecutable = "executable"
)

// GlobalTopic carries events that are not tied to one campaign, such as
// executable changes picked up by the file watcher. It is never closed.
const GlobalTopic = "global"

// Event is one notification delivered to subscribers. Data is marshaled
// to JSON at the transport boundary.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// EventBroker manages per-campaign event streaming to subscribers.
// It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers (those
// subscribing after a campaign finishes) receive a closed channel instead
// of blocking forever. Each marker is a few bytes, which is acceptable for
// the expected campaign volume.
type EventBroker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic
}

type eventTopic struct {
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewEventBroker creates a new event broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		topics: make(map[string]*eventTopic),
	}
}

// Subscribe returns a channel that receives events for the given topic and
// an unsubscribe function. If the topic has already finished (Close was
// called), the returned channel is immediately closed.
func (b *EventBroker) Subscribe(topic string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan Event)}
		b.topics[topic] = t
	}

	ch := make(chan Event, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends an event to all subscribers of the given topic.
// Events are dropped for subscribers whose buffers are full.
func (b *EventBroker) Publish(topic string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			// Drop event for slow subscribers to avoid blocking the collector.
		}
	}
}

// Close signals that no more events will be published for the given topic.
// All subscriber channels are closed and future Subscribe calls return a
// closed channel.
func (b *EventBroker) Close(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok {
		// Create a closed marker so late subscribers get a closed channel.
		b.topics[topic] = &eventTopic{subs: make(map[int]chan Event), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
