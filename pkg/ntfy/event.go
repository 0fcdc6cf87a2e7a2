package ntfy

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the kind of an event received from ntfy
type EventType string

const (
	// EventOpen is sent once when a subscription stream is established
	EventOpen EventType = "open"
	// EventKeepalive is sent periodically to keep the connection alive
	EventKeepalive EventType = "keepalive"
	// EventMessage carries a published message
	EventMessage EventType = "message"
	// EventPollRequest asks the subscriber to poll for new messages
	EventPollRequest EventType = "poll_request"
)

// Valid reports whether t is one of the event kinds ntfy emits.
func (t EventType) Valid() bool {
	switch t {
	case EventOpen, EventKeepalive, EventMessage, EventPollRequest:
		return true
	}
	return false
}

// UnmarshalJSON rejects unknown event kinds.
func (t *EventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if !EventType(s).Valid() {
		return fmt.Errorf("unknown event type %q", s)
	}
	*t = EventType(s)
	return nil
}

// Event is a single message received on a subscription stream or returned
// by a publish call. Optional numeric fields are nil when absent.
type Event struct {
	// ID is the server-assigned message identifier
	ID string `json:"id"`

	// Time is the emission time as a Unix timestamp
	Time int64 `json:"time"`

	// Expires is the Unix timestamp at which the message leaves the cache
	Expires *int64 `json:"expires,omitempty"`

	// Event is the kind of event
	Event EventType `json:"event"`

	// Topic holds one or more comma-joined topic names
	Topic string `json:"topic"`

	Message    string      `json:"message,omitempty"`
	Title      string      `json:"title,omitempty"`
	Tags       []string    `json:"tags,omitempty"`
	Priority   *int        `json:"priority,omitempty"`
	Click      string      `json:"click,omitempty"`
	Icon       string      `json:"icon,omitempty"`
	Actions    []Action    `json:"actions,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// IsMessage reports whether the event carries a published message.
func (e Event) IsMessage() bool {
	return e.Event == EventMessage
}

// Timestamp returns Time as a time.Time.
func (e Event) Timestamp() time.Time {
	return time.Unix(e.Time, 0)
}

// ExpiresAt returns the expiry time, if the event has one.
func (e Event) ExpiresAt() (time.Time, bool) {
	if e.Expires == nil {
		return time.Time{}, false
	}
	return time.Unix(*e.Expires, 0), true
}

// Action is a notification action button.
type Action struct {
	// Action is the action kind: view, broadcast or http
	Action string `json:"action"`

	// Label is the text shown on the button
	Label string `json:"label"`

	URL     string            `json:"url,omitempty"`
	Clear   bool              `json:"clear,omitempty"`
	Intent  string            `json:"intent,omitempty"`
	Extras  map[string]string `json:"extras,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Method  string            `json:"method,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// DefaultAction is the action kind assumed when none is given.
const DefaultAction = "view"

// UnmarshalJSON applies the "view" default to the action kind.
func (a *Action) UnmarshalJSON(data []byte) error {
	type plain Action
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	if decoded.Action == "" {
		decoded.Action = DefaultAction
	}
	*a = Action(decoded)
	return nil
}

// Attachment describes a file attached to a message.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`

	// Size in bytes, if known
	Size *int64 `json:"size,omitempty"`

	// Type is the MIME type; only set for files uploaded to the server
	Type string `json:"type,omitempty"`

	// Expires is the Unix timestamp at which the upload is deleted
	Expires *int64 `json:"expires,omitempty"`
}

// DecodeEvent decodes a single JSON object into an Event.
func DecodeEvent(line []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(line, &event); err != nil {
		return nil, &DecodeError{Line: string(line), Err: err}
	}
	return &event, nil
}
