package relay

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

const subscriberBufSize = 256

// Event is one relayed message as seen by SSE observers. Tab is 0 for
// broadcasts.
type Event struct {
	Type    Type
	Tab     int
	Payload string
}

// NewEvent encodes msg for tab. It fails when msg.Value is not valid JSON.
func NewEvent(tab int, msg Message) (Event, error) {
	b, err := json.Marshal(struct {
		Tab   int             `json:"tab,omitempty"`
		Type  Type            `json:"type"`
		Value json.RawMessage `json:"value,omitempty"`
	}{tab, msg.Type, msg.Value})
	if err != nil {
		return Event{}, fmt.Errorf("relay: encode %s event: %w", msg.Type, err)
	}
	return Event{Type: msg.Type, Tab: tab, Payload: string(b)}, nil
}

// Broker fans out events to all subscribed SSE clients.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan Event),
	}
}

// Subscribe registers a new client. The channel is buffered; slow consumers
// have events dropped.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Publish sends an event to all subscribers without blocking.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
