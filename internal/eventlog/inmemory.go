package eventlog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/ntfy-go/pkg/ntfy"
)

var (
	// ErrEmptyTopic is returned when a message has no topic
	ErrEmptyTopic = errors.New("topic cannot be empty")
	// ErrClosed is returned when the log has been closed
	ErrClosed = errors.New("event log is closed")
)

// InMemoryEventLog caches published messages per topic so subscribers can
// catch up with since= and poll requests. Messages are kept in publish
// order. It is safe for concurrent use.
type InMemoryEventLog struct {
	mu            sync.RWMutex
	eventsByTopic map[string][]ntfy.Event
	maxPerTopic   int
	closed        bool
}

// NewInMemoryEventLog creates a log that keeps at most maxPerTopic messages
// per topic. Zero means unbounded.
func NewInMemoryEventLog(maxPerTopic int) *InMemoryEventLog {
	return &InMemoryEventLog{
		eventsByTopic: make(map[string][]ntfy.Event),
		maxPerTopic:   maxPerTopic,
	}
}

// Append stores a message at the end of its topic.
func (log *InMemoryEventLog) Append(ctx context.Context, event ntfy.Event) error {
	if event.Topic == "" {
		return ErrEmptyTopic
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	log.mu.Lock()
	defer log.mu.Unlock()

	if log.closed {
		return ErrClosed
	}

	events := append(log.eventsByTopic[event.Topic], event)
	if log.maxPerTopic > 0 && len(events) > log.maxPerTopic {
		events = events[len(events)-log.maxPerTopic:]
	}
	log.eventsByTopic[event.Topic] = events
	return nil
}

// Read returns the cached messages of topic selected by since.
func (log *InMemoryEventLog) Read(ctx context.Context, topic string, since Since) ([]ntfy.Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	log.mu.RLock()
	defer log.mu.RUnlock()

	if log.closed {
		return nil, ErrClosed
	}

	events := log.eventsByTopic[topic]
	results := make([]ntfy.Event, 0, len(events))

	switch since.kind {
	case sinceNone:
		return results, nil
	case sinceAll:
		return append(results, events...), nil
	case sinceID:
		// Messages after the given ID; an unknown ID returns everything.
		start := 0
		for i, event := range events {
			if event.ID == since.id {
				start = i + 1
				break
			}
		}
		return append(results, events[start:]...), nil
	}

	for _, event := range events {
		if event.Time >= since.time.Unix() {
			results = append(results, event)
		}
	}
	return results, nil
}

// Prune drops messages whose expiry has passed and returns how many were removed.
func (log *InMemoryEventLog) Prune(ctx context.Context, now time.Time) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	log.mu.Lock()
	defer log.mu.Unlock()

	removed := 0
	for topic, events := range log.eventsByTopic {
		kept := events[:0]
		for _, event := range events {
			if expires, ok := event.ExpiresAt(); ok && !expires.After(now) {
				removed++
				continue
			}
			kept = append(kept, event)
		}
		if len(kept) == 0 {
			delete(log.eventsByTopic, topic)
			continue
		}
		log.eventsByTopic[topic] = kept
	}
	return removed, nil
}

// Len returns the number of cached messages for topic.
func (log *InMemoryEventLog) Len(topic string) int {
	log.mu.RLock()
	defer log.mu.RUnlock()
	return len(log.eventsByTopic[topic])
}

// Close clears all topics. Further appends fail with ErrClosed.
func (log *InMemoryEventLog) Close() error {
	log.mu.Lock()
	defer log.mu.Unlock()

	if log.closed {
		return nil
	}

	log.eventsByTopic = make(map[string][]ntfy.Event)
	log.closed = true
	return nil
}

type sinceKind int

const (
	sinceNone sinceKind = iota
	sinceAll
	sinceTime
	sinceID
)

// Since selects which cached messages a subscriber receives.
type Since struct {
	kind sinceKind
	time time.Time
	id   string
}

// SinceNone selects no cached messages.
func SinceNone() Since { return Since{kind: sinceNone} }

// SinceAll selects every cached message.
func SinceAll() Since { return Since{kind: sinceAll} }

// SinceTime selects messages published at or after t.
func SinceTime(t time.Time) Since { return Since{kind: sinceTime, time: t} }

// SinceID selects messages published after the message with the given ID.
func SinceID(id string) Since { return Since{kind: sinceID, id: id} }

// IsNone reports whether s selects nothing.
func (s Since) IsNone() bool { return s.kind == sinceNone }

// ParseSince parses the since= query parameter: empty, "all", a Unix
// timestamp, a duration such as "10m" or a message ID.
func ParseSince(value string, now time.Time) (Since, error) {
	switch value {
	case "":
		return SinceNone(), nil
	case "all":
		return SinceAll(), nil
	}

	if ts, err := strconv.ParseInt(value, 10, 64); err == nil {
		if ts < 0 {
			return Since{}, fmt.Errorf("invalid since timestamp %q", value)
		}
		return SinceTime(time.Unix(ts, 0)), nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		if d < 0 {
			return Since{}, fmt.Errorf("invalid since duration %q", value)
		}
		return SinceTime(now.Add(-d)), nil
	}
	if isMessageID(value) {
		return SinceID(value), nil
	}
	return Since{}, fmt.Errorf("invalid since value %q", value)
}

func isMessageID(value string) bool {
	if len(value) == 0 || len(value) > 64 {
		return false
	}
	for _, r := range value {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}
