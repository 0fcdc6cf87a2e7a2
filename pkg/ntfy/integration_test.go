package ntfy_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/ntfy-go/internal/httpapi"
	"github.com/rmacdonaldsmith/ntfy-go/pkg/ntfy"
)

func startServer(t *testing.T, config httpapi.Config) (*httpapi.Server, string) {
	t.Helper()
	server := httpapi.NewServer(config)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		server.Close()
		ts.Close()
	})
	return server, ts.URL
}

// collector gathers events delivered to a listener.
type collector struct {
	mu     sync.Mutex
	events []ntfy.Event
}

func (c *collector) add(e ntfy.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) messages() []ntfy.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ntfy.Event
	for _, e := range c.events {
		if e.IsMessage() {
			out = append(out, e)
		}
	}
	return out
}

func listen(t *testing.T, l *ntfy.Listener, reconnect bool) *collector {
	t.Helper()
	c := &collector{}
	l.OnEvent(c.add)

	done := make(chan error, 1)
	go func() { done <- l.Start(context.Background(), reconnect) }()
	t.Cleanup(func() {
		l.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("listener did not stop")
		}
	})
	return c
}

func TestIntegration_PublishAndSubscribe(t *testing.T) {
	server, url := startServer(t, httpapi.Config{})
	config := ntfy.Config{ServerURL: url}

	client, err := ntfy.NewClient(config)
	require.NoError(t, err)
	listener, err := ntfy.NewListener("alerts", config)
	require.NoError(t, err)

	received := listen(t, listener, false)
	require.Eventually(t, func() bool { return server.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	header := &ntfy.Header{
		Title:    "Backups",
		Tags:     "floppy_disk,done",
		Priority: 4,
		Click:    "https://example.com/backups",
		Icon:     "https://example.com/icon.png",
		Attach:   "https://example.com/files/report.pdf",
		Filename: "summary.pdf",
	}
	header.AddViewAction("Open", "https://example.com/view", true)

	published, err := client.Publish(context.Background(), "alerts", "Backup finished", header)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(received.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := received.messages()[0]

	if diff := cmp.Diff(*published, got); diff != "" {
		t.Errorf("streamed event differs from publish response (-published +streamed):\n%s", diff)
	}

	assert.Equal(t, "Backups", got.Title)
	assert.Equal(t, []string{"floppy_disk", "done"}, got.Tags)
	require.NotNil(t, got.Priority)
	assert.Equal(t, 4, *got.Priority)
	assert.Equal(t, "https://example.com/backups", got.Click)
	assert.Equal(t, "https://example.com/icon.png", got.Icon)
	require.NotNil(t, got.Attachment)
	assert.Equal(t, "summary.pdf", got.Attachment.Name)
	assert.Equal(t, []ntfy.Action{{Action: "view", Label: "Open", URL: "https://example.com/view", Clear: true}}, got.Actions)
}

func TestIntegration_Poll(t *testing.T) {
	_, url := startServer(t, httpapi.Config{})

	client, err := ntfy.NewClient(ntfy.Config{ServerURL: url})
	require.NoError(t, err)

	ctx := context.Background()
	for _, msg := range []string{"first", "second"} {
		_, err := client.Publish(ctx, "jobs", msg, nil)
		require.NoError(t, err)
	}
	_, err = client.Publish(ctx, "jobs", "uncached", &ntfy.Header{NoCache: true})
	require.NoError(t, err)

	events, err := client.Poll(ctx, "jobs", "all")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "first", events[0].Message)
	assert.Equal(t, "second", events[1].Message)

	events, err = client.Poll(ctx, "jobs", events[0].ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "second", events[0].Message)
}

func TestIntegration_ListenerReconnectsAfterServerDrop(t *testing.T) {
	server, url := startServer(t, httpapi.Config{})
	config := ntfy.Config{ServerURL: url, ReconnectDelay: 20 * time.Millisecond}

	client, err := ntfy.NewClient(config)
	require.NoError(t, err)
	listener, err := ntfy.NewListener("alerts", config)
	require.NoError(t, err)

	var mu sync.Mutex
	var disconnects []error
	listener.OnDisconnect(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		disconnects = append(disconnects, err)
	})

	received := listen(t, listener, true)
	require.Eventually(t, func() bool { return server.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = client.Publish(context.Background(), "alerts", "before", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(received.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, 1, server.DropSubscribers())
	require.Eventually(t, func() bool { return server.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, listener.Listening())

	_, err = client.Publish(context.Background(), "alerts", "after", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(received.messages()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "after", received.messages()[1].Message)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, disconnects, 1)
	assert.ErrorIs(t, disconnects[0], ntfy.ErrStreamClosed)
}

func TestIntegration_Authentication(t *testing.T) {
	server, url := startServer(t, httpapi.Config{
		RequireAuth: true,
		Users:       map[string]string{"phil": "mypass"},
	})
	token, err := server.IssueToken("phil")
	require.NoError(t, err)

	client, err := ntfy.NewClient(ntfy.Config{ServerURL: url})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("anonymous_forbidden", func(t *testing.T) {
		_, err := client.Publish(ctx, "secure", "hi", nil)
		assert.True(t, ntfy.IsStatus(err, http.StatusForbidden), "got %v", err)
	})

	t.Run("wrong_password", func(t *testing.T) {
		_, err := client.Publish(ctx, "secure", "hi", nil, ntfy.WithBasicAuth("phil", "nope"))
		assert.True(t, ntfy.IsStatus(err, http.StatusUnauthorized), "got %v", err)
	})

	t.Run("basic_auth", func(t *testing.T) {
		_, err := client.Publish(ctx, "secure", "hi", nil, ntfy.WithBasicAuth("phil", "mypass"))
		assert.NoError(t, err)
	})

	t.Run("token", func(t *testing.T) {
		_, err := client.Publish(ctx, "secure", "hi", nil, ntfy.WithToken(token))
		assert.NoError(t, err)
	})

	t.Run("listener_unauthorized", func(t *testing.T) {
		listener, err := ntfy.NewListener("secure", ntfy.Config{ServerURL: url, Credential: ntfy.Token("bogus")})
		require.NoError(t, err)

		err = listener.Start(ctx, false)
		var statusErr *ntfy.StatusError
		require.True(t, errors.As(err, &statusErr), "got %v", err)
		assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
		assert.False(t, listener.Listening())
	})
}

func TestIntegration_RateLimited(t *testing.T) {
	_, url := startServer(t, httpapi.Config{VisitorRequestRate: 0.001, VisitorRequestBurst: 1})

	client, err := ntfy.NewClient(ntfy.Config{ServerURL: url})
	require.NoError(t, err)

	_, err = client.Publish(context.Background(), "alerts", "one", nil)
	require.NoError(t, err)

	_, err = client.Publish(context.Background(), "alerts", "two", nil)
	var statusErr *ntfy.StatusError
	require.True(t, errors.As(err, &statusErr), "got %v", err)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "42901")
}
