package routingtable

import (
	"errors"
	"strings"
	"sync"

	"github.com/rmacdonaldsmith/ntfy-go/pkg/ntfy"
)

var (
	// ErrEmptyTopic is returned when subscribing to an empty topic list
	ErrEmptyTopic = errors.New("topic cannot be empty")
	// ErrClosed is returned when the routing table has been closed
	ErrClosed = errors.New("routing table is closed")
)

// Subscriber is one open stream. Events are delivered on C; C is closed
// when the subscriber is removed or dropped.
type Subscriber struct {
	ID     string
	Topics []string

	events chan ntfy.Event
	once   sync.Once
}

// C returns the channel the subscriber receives events on.
func (s *Subscriber) C() <-chan ntfy.Event {
	return s.events
}

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.events) })
}

// InMemoryRoutingTable maps topics to open subscriber streams and fans
// published events out to them. It is safe for concurrent use.
type InMemoryRoutingTable struct {
	mu         sync.RWMutex
	byTopic    map[string]map[string]*Subscriber
	byID       map[string]*Subscriber
	bufferSize int
	dropped    int64
	closed     bool
}

// NewInMemoryRoutingTable creates a routing table whose subscribers buffer
// up to bufferSize events.
func NewInMemoryRoutingTable(bufferSize int) *InMemoryRoutingTable {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryRoutingTable{
		byTopic:    make(map[string]map[string]*Subscriber),
		byID:       make(map[string]*Subscriber),
		bufferSize: bufferSize,
	}
}

// ParseTopics splits a comma-joined topic path segment ("a,b").
func ParseTopics(path string) []string {
	var topics []string
	for _, t := range strings.Split(path, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

// Subscribe registers a new subscriber for topics.
func (rt *InMemoryRoutingTable) Subscribe(id string, topics []string) (*Subscriber, error) {
	if len(topics) == 0 {
		return nil, ErrEmptyTopic
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed {
		return nil, ErrClosed
	}

	sub := &Subscriber{
		ID:     id,
		Topics: append([]string(nil), topics...),
		events: make(chan ntfy.Event, rt.bufferSize),
	}
	for _, topic := range topics {
		if rt.byTopic[topic] == nil {
			rt.byTopic[topic] = make(map[string]*Subscriber)
		}
		rt.byTopic[topic][id] = sub
	}
	rt.byID[id] = sub
	return sub, nil
}

// Unsubscribe removes a subscriber and closes its channel. Unknown IDs are ignored.
func (rt *InMemoryRoutingTable) Unsubscribe(id string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.removeLocked(id)
}

func (rt *InMemoryRoutingTable) removeLocked(id string) {
	sub, ok := rt.byID[id]
	if !ok {
		return
	}
	for _, topic := range sub.Topics {
		delete(rt.byTopic[topic], id)
		if len(rt.byTopic[topic]) == 0 {
			delete(rt.byTopic, topic)
		}
	}
	delete(rt.byID, id)
	sub.close()
}

// Publish delivers event to every subscriber of event.Topic and returns the
// number of subscribers reached. Subscribers with a full buffer miss the event.
func (rt *InMemoryRoutingTable) Publish(event ntfy.Event) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	delivered := 0
	for _, sub := range rt.byTopic[event.Topic] {
		select {
		case sub.events <- event:
			delivered++
		default:
			rt.dropped++
		}
	}
	return delivered
}

// DropAll closes every subscriber stream, as if the server restarted.
func (rt *InMemoryRoutingTable) DropAll() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	n := len(rt.byID)
	for id := range rt.byID {
		rt.removeLocked(id)
	}
	return n
}

// SubscriberCount returns the number of open subscriber streams.
func (rt *InMemoryRoutingTable) SubscriberCount() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.byID)
}

// TopicSubscriberCount returns the number of subscribers of topic.
func (rt *InMemoryRoutingTable) TopicSubscriberCount(topic string) int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.byTopic[topic])
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (rt *InMemoryRoutingTable) Dropped() int64 {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.dropped
}

// Close drops every subscriber and rejects new ones.
func (rt *InMemoryRoutingTable) Close() error {
	rt.DropAll()
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.closed = true
	return nil
}
