package eventlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rmacdonaldsmith/ntfy-go/pkg/ntfy"
)

func message(id, topic string, at int64) ntfy.Event {
	return ntfy.Event{ID: id, Time: at, Event: ntfy.EventMessage, Topic: topic, Message: "msg " + id}
}

func ids(events []ntfy.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.ID)
	}
	return out
}

func equalIDs(t *testing.T, got []ntfy.Event, want ...string) {
	t.Helper()
	gotIDs := ids(got)
	if len(gotIDs) != len(want) {
		t.Fatalf("Expected IDs %v, got %v", want, gotIDs)
	}
	for i := range want {
		if gotIDs[i] != want[i] {
			t.Fatalf("Expected IDs %v, got %v", want, gotIDs)
		}
	}
}

// TestEventLog_TopicIsolation verifies that topics are cached independently
func TestEventLog_TopicIsolation(t *testing.T) {
	log := NewInMemoryEventLog(0)
	defer log.Close()

	ctx := context.Background()

	for _, e := range []ntfy.Event{
		message("a1", "topicA", 100),
		message("b1", "topicB", 101),
		message("a2", "topicA", 102),
	} {
		if err := log.Append(ctx, e); err != nil {
			t.Fatalf("Expected no error appending %s, got: %v", e.ID, err)
		}
	}

	eventsA, err := log.Read(ctx, "topicA", SinceAll())
	if err != nil {
		t.Fatalf("Expected no error reading topicA, got: %v", err)
	}
	equalIDs(t, eventsA, "a1", "a2")

	eventsB, err := log.Read(ctx, "topicB", SinceAll())
	if err != nil {
		t.Fatalf("Expected no error reading topicB, got: %v", err)
	}
	equalIDs(t, eventsB, "b1")

	if log.Len("missing") != 0 {
		t.Errorf("Expected empty unknown topic")
	}
}

func TestEventLog_ReadSince(t *testing.T) {
	log := NewInMemoryEventLog(0)
	defer log.Close()

	ctx := context.Background()
	for i, id := range []string{"m1", "m2", "m3", "m4"} {
		if err := log.Append(ctx, message(id, "alerts", int64(1000+i*10))); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	tests := []struct {
		name  string
		since Since
		want  []string
	}{
		{"none", SinceNone(), nil},
		{"all", SinceAll(), []string{"m1", "m2", "m3", "m4"}},
		{"time_inclusive", SinceTime(time.Unix(1020, 0)), []string{"m3", "m4"}},
		{"after_id", SinceID("m2"), []string{"m3", "m4"}},
		{"last_id", SinceID("m4"), nil},
		{"unknown_id", SinceID("zzz"), []string{"m1", "m2", "m3", "m4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := log.Read(ctx, "alerts", tt.since)
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			equalIDs(t, events, tt.want...)
		})
	}
}

func TestEventLog_MaxPerTopic(t *testing.T) {
	log := NewInMemoryEventLog(2)
	defer log.Close()

	ctx := context.Background()
	for i, id := range []string{"m1", "m2", "m3"} {
		if err := log.Append(ctx, message(id, "alerts", int64(i))); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	events, err := log.Read(ctx, "alerts", SinceAll())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	equalIDs(t, events, "m2", "m3")
}

func TestEventLog_Prune(t *testing.T) {
	log := NewInMemoryEventLog(0)
	defer log.Close()

	ctx := context.Background()
	now := time.Unix(5000, 0)
	expired := int64(4000)
	live := int64(6000)

	old := message("old", "alerts", 100)
	old.Expires = &expired
	fresh := message("fresh", "alerts", 200)
	fresh.Expires = &live
	forever := message("forever", "other", 300)

	for _, e := range []ntfy.Event{old, fresh, forever} {
		if err := log.Append(ctx, e); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	removed, err := log.Prune(ctx, now)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 message pruned, got %d", removed)
	}

	events, _ := log.Read(ctx, "alerts", SinceAll())
	equalIDs(t, events, "fresh")
	if log.Len("other") != 1 {
		t.Errorf("Expected message without expiry to be kept")
	}
}

func TestEventLog_Errors(t *testing.T) {
	t.Run("empty_topic", func(t *testing.T) {
		log := NewInMemoryEventLog(0)
		defer log.Close()

		err := log.Append(context.Background(), ntfy.Event{ID: "x"})
		if !errors.Is(err, ErrEmptyTopic) {
			t.Errorf("Expected ErrEmptyTopic, got %v", err)
		}
	})

	t.Run("cancelled_context", func(t *testing.T) {
		log := NewInMemoryEventLog(0)
		defer log.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if err := log.Append(ctx, message("x", "t", 1)); !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled from Append, got %v", err)
		}
		if _, err := log.Read(ctx, "t", SinceAll()); !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled from Read, got %v", err)
		}
	})

	t.Run("closed", func(t *testing.T) {
		log := NewInMemoryEventLog(0)
		if err := log.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if err := log.Close(); err != nil {
			t.Errorf("Close should be idempotent, got %v", err)
		}
		if err := log.Append(context.Background(), message("x", "t", 1)); !errors.Is(err, ErrClosed) {
			t.Errorf("Expected ErrClosed, got %v", err)
		}
	})
}

func TestParseSince(t *testing.T) {
	now := time.Unix(10000, 0)

	tests := []struct {
		input   string
		want    Since
		wantErr bool
	}{
		{"", SinceNone(), false},
		{"all", SinceAll(), false},
		{"1639194738", SinceTime(time.Unix(1639194738, 0)), false},
		{"10m", SinceTime(now.Add(-10 * time.Minute)), false},
		{"sPs71M8A2T", SinceID("sPs71M8A2T"), false},
		{"-5m", Since{}, true},
		{"not a valid id!", Since{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSince(tt.input, now)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error for %q: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseSince(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}
