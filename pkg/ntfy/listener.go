package ntfy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventHandler receives each event decoded from the stream.
type EventHandler func(Event)

// DisconnectHandler receives the fault that ended a stream when the
// listener is about to reconnect.
type DisconnectHandler func(error)

// Listener subscribes to the JSON stream of one topic.
//
// Start runs the read loop on the calling goroutine and delivers events to
// the registered handlers in wire order, one at a time. Stop ends the loop
// from any goroutine.
type Listener struct {
	topic          string
	endpoint       string
	credential     Credential
	httpClient     *http.Client
	reconnectDelay time.Duration
	logger         zerolog.Logger

	mu                 sync.Mutex
	listening          bool
	run                uint64 // incremented on every Start
	cancel             context.CancelFunc
	eventHandlers      []EventHandler
	disconnectHandlers []DisconnectHandler
}

// NewListener creates a listener for topic. The endpoint and credential are
// resolved once here; opts override the config defaults.
func NewListener(topic string, config Config, opts ...CallOption) (*Listener, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	server, credential, err := resolve(config, opts)
	if err != nil {
		return nil, err
	}

	// Streams stay open indefinitely, so the request timeout must not apply.
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	endpoint := topicURL(server, topic) + "/json"
	return &Listener{
		topic:          topic,
		endpoint:       endpoint,
		credential:     credential,
		httpClient:     httpClient,
		reconnectDelay: config.ReconnectDelay,
		logger: config.Logger.With().
			Str("component", "ntfy.listener").
			Str("topic", topic).
			Logger(),
	}, nil
}

// Endpoint returns the stream URL the listener connects to.
func (l *Listener) Endpoint() string {
	return l.endpoint
}

// OnEvent registers a handler for decoded events.
func (l *Listener) OnEvent(h EventHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.eventHandlers = append(l.eventHandlers, h)
}

// OnDisconnect registers a handler for stream faults. Handlers are only
// called when Start runs with reconnect enabled.
func (l *Listener) OnDisconnect(h DisconnectHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnectHandlers = append(l.disconnectHandlers, h)
}

// Listening reports whether a Start call is active.
func (l *Listener) Listening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listening
}

// Start opens the stream and blocks until the listener stops.
//
// Calling Start while already listening returns nil immediately. With
// reconnect disabled the first stream fault is returned. With reconnect
// enabled faults go to the OnDisconnect handlers and the stream is reopened
// after the reconnect delay. Stop makes Start return nil; cancelling ctx
// makes it return ctx.Err().
func (l *Listener) Start(ctx context.Context, reconnect bool) error {
	l.mu.Lock()
	if l.listening {
		l.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.run++
	run := l.run
	l.cancel = cancel
	l.listening = true
	l.mu.Unlock()

	defer l.finish(run, cancel)

	for attempt := 1; ; attempt++ {
		if !l.active(run) || runCtx.Err() != nil {
			return l.exitErr(ctx)
		}

		err := l.listen(runCtx)
		if errors.Is(err, ErrCancelled) || !l.active(run) {
			return l.exitErr(ctx)
		}

		if !reconnect {
			return err
		}

		l.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("delay", l.reconnectDelay).
			Msg("stream disconnected, reconnecting")
		l.notifyDisconnect(err)

		timer := time.NewTimer(l.reconnectDelay)
		select {
		case <-timer.C:
		case <-runCtx.Done():
			timer.Stop()
			return l.exitErr(ctx)
		}
	}
}

// Stop ends the current Start call. It does not wait for the read loop to
// unwind and is safe to call at any time, including before Start.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listening = false
	if l.cancel != nil {
		l.cancel()
	}
}

// active reports whether run is still the current, listening run.
func (l *Listener) active(run uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listening && l.run == run
}

// finish returns the listener to idle unless a newer run has started.
func (l *Listener) finish(run uint64, cancel context.CancelFunc) {
	cancel()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.run == run {
		l.listening = false
		l.cancel = nil
	}
}

// exitErr is the result of Start once the loop was asked to end: nil after
// Stop, the parent's error after the caller's context ended.
func (l *Listener) exitErr(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return nil
}

// listen runs one connection until it fails. It always returns a non-nil error.
func (l *Listener) listen(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create streaming request: %w", err)
	}
	if l.credential != "" {
		req.Header.Set("Authorization", string(l.credential))
	}

	l.logger.Debug().Str("endpoint", l.endpoint).Msg("opening stream")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		return &TransportError{Op: "connect to stream", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newStatusError(resp)
	}

	return l.readStream(ctx, resp.Body)
}

// readStream decodes one event per line and dispatches it.
func (l *Listener) readStream(ctx context.Context, body io.Reader) error {
	reader := bufio.NewReader(body)
	for {
		if ctx.Err() != nil {
			return ErrCancelled
		}

		line, err := reader.ReadBytes('\n')
		if ctx.Err() != nil {
			return ErrCancelled
		}
		line = bytes.TrimSpace(line)

		if len(line) > 0 {
			event, decodeErr := DecodeEvent(line)
			if decodeErr != nil {
				return decodeErr
			}
			l.notifyEvent(*event)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrStreamClosed
			}
			return &TransportError{Op: "read stream", Err: err}
		}
	}
}

func (l *Listener) notifyEvent(event Event) {
	l.mu.Lock()
	handlers := append([]EventHandler(nil), l.eventHandlers...)
	l.mu.Unlock()

	l.logger.Debug().
		Str("id", event.ID).
		Str("event", string(event.Event)).
		Msg("event received")

	for _, h := range handlers {
		h(event)
	}
}

func (l *Listener) notifyDisconnect(err error) {
	l.mu.Lock()
	handlers := append([]DisconnectHandler(nil), l.disconnectHandlers...)
	l.mu.Unlock()

	for _, h := range handlers {
		h(err)
	}
}
