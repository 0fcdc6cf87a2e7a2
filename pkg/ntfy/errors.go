package ntfy

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamClosed is returned when the server ends a subscription stream
	ErrStreamClosed = errors.New("stream closed")
	// ErrCancelled is returned when a listener read is aborted by Stop
	ErrCancelled = errors.New("listener cancelled")
	// ErrEmptyTopic is returned when a topic name is empty
	ErrEmptyTopic = errors.New("topic cannot be empty")
)

// TransportError reports a network-level failure (DNS, TCP, TLS, timeout)
// while opening or reading a connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError reports a non-success HTTP status from the server.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Status)
	}
	return fmt.Sprintf("API error (%d): %s - %s", e.StatusCode, e.Status, e.Body)
}

// DecodeError reports a payload that is not a valid event.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode event: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsStatus reports whether err is a StatusError with the given status code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}
