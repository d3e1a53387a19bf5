package service

import "sync"

// Topic names what changed.
type Topic string

const (
	TopicTranscript Topic = "transcript"
	TopicThinking   Topic = "thinking"
	TopicBusy       Topic = "busy"
	TopicResults    Topic = "results"
	TopicSelection  Topic = "selection"
	TopicDrawing    Topic = "drawing"
	TopicMap        Topic = "map"
)

// Event is a state change notification. Payload depends on the topic: a
// []MapCommand for TopicMap, a Message for TopicTranscript, a ThinkingStep for
// TopicThinking, nil otherwise.
type Event struct {
	Topic   Topic
	Action  string
	ID      string
	Payload any
}

// EventBus is a fan-out pub/sub for state change events.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]struct{})}
}

// Publish sends an event to all subscribers without blocking. A subscriber
// whose buffer is full misses the event.
func (b *EventBus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a buffered channel that receives events.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
