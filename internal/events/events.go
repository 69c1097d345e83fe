package events

import (
	"sync"
	"time"
)

// Event represents a generic event structure
type Event struct {
	Type      string
	Timestamp time.Time
	Data      interface{}
}

// FlFinishedEvent represents the event structure for finishing FL
type FlFinishedEvent struct {
	ExitCode    int32
	ExitMessage string
}

// CoordinatorStateEvent is published on every round coordinator transition
type CoordinatorStateEvent struct {
	Round int
	From  string
	To    string
}

// RoundFinalizedEvent is published after the ledger accepted a finalize
type RoundFinalizedEvent struct {
	Round       int
	ArtifactRef string
	Accuracy    float64
	BlockNumber uint64
}

// EventBus represents the event bus that handles event subscription and dispatching.
// Publish never blocks: a subscriber whose channel is full misses the event.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan<- Event
}

// NewEventBus creates a new instance of the event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan<- Event),
	}
}

// Subscribe adds a new subscriber for a given event type
func (eb *EventBus) Subscribe(eventType string, subscriber chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// Unsubscribe removes a subscriber previously added for eventType
func (eb *EventBus) Unsubscribe(eventType string, subscriber chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subscribers := eb.subscribers[eventType]
	for i, s := range subscribers {
		if s == subscriber {
			eb.subscribers[eventType] = append(subscribers[:i:i], subscribers[i+1:]...)
			return
		}
	}
}

// Publish sends an event to all subscribers of a given event type
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, subscriber := range eb.subscribers[event.Type] {
		select {
		case subscriber <- event:
		default:
		}
	}
}
