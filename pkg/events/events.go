package events

import (
	"sync"
	"time"

	"github.com/cuemby/rollout/pkg/types"
)

// EventType represents the type of event
type EventType string

const (
	EventEvaluated       EventType = "lineage.evaluated"
	EventTransition      EventType = "loop.transition"
	EventRollbackStarted EventType = "rollback.started"
	EventRollbackDone    EventType = "rollback.done"
	EventImageUpdated    EventType = "deploy.image_updated"
	EventScaled          EventType = "deploy.scaled"
)

// Event represents a controller event
type Event struct {
	Type       EventType
	Lineage    string
	Timestamp  time.Time
	Message    string
	Transition *types.Transition
	Evaluation *types.Evaluation
	Rollback   *types.RollbackEvent
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker fans events out to subscribers. Delivery is best effort: a
// subscriber whose buffer is full misses the event.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
	doneCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker and closes every subscriber channel
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
}

// Done is closed once the distribution loop has exited
func (b *Broker) Done() <-chan struct{} {
	return b.doneCh
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers. It never blocks after Stop.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			b.closeAll()
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

func (b *Broker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
