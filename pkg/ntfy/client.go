package ntfy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// maxErrorBody caps how much of an error response is kept in StatusError
const maxErrorBody = 4096

// Client publishes messages to an ntfy server. It holds no per-request
// state and is safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     zerolog.Logger
}

// CallOption overrides a Client or Listener default for one call.
type CallOption func(*callOptions)

type callOptions struct {
	server     string
	credential *Credential
}

// WithServer sends the request to serverURL instead of the configured server.
func WithServer(serverURL string) CallOption {
	return func(o *callOptions) {
		o.server = serverURL
	}
}

// WithCredential authenticates with c instead of the configured credential.
func WithCredential(c Credential) CallOption {
	return func(o *callOptions) {
		o.credential = &c
	}
}

// WithBasicAuth authenticates with username and password.
func WithBasicAuth(username, password string) CallOption {
	return WithCredential(BasicAuth(username, password))
}

// WithToken authenticates with an access token.
func WithToken(token string) CallOption {
	return WithCredential(Token(token))
}

// resolve applies opts on top of the config defaults.
func resolve(config Config, opts []CallOption) (string, Credential, error) {
	o := callOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	server := config.ServerURL
	if o.server != "" {
		if err := validateServerURL(o.server); err != nil {
			return "", "", err
		}
		server = o.server
	}

	credential := config.Credential
	if o.credential != nil {
		credential = *o.credential
	}
	return server, credential, nil
}

// NewClient creates a new ntfy client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: config.Timeout,
		}
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     config.Logger.With().Str("component", "ntfy.client").Logger(),
	}, nil
}

// Publish sends message to topic and returns the event stored by the server.
// header may be nil. The request is attempted exactly once.
func (c *Client) Publish(ctx context.Context, topic, message string, header *Header, opts ...CallOption) (*Event, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	server, credential, err := resolve(c.config, opts)
	if err != nil {
		return nil, err
	}

	endpoint := topicURL(server, topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	header.Apply(req.Header)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if credential != "" {
		req.Header.Set("Authorization", string(credential))
	}

	c.logger.Debug().
		Str("topic", topic).
		Str("endpoint", endpoint).
		Stringer("credential", credential).
		Msg("publishing message")

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to publish message: %w", err)
	}

	event, err := DecodeEvent(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return event, nil
}

// Poll returns the messages cached for topic without holding a stream open.
// since may be empty, a duration ("10m"), a Unix timestamp, a message ID or "all".
func (c *Client) Poll(ctx context.Context, topic, since string, opts ...CallOption) ([]Event, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	server, credential, err := resolve(c.config, opts)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("poll", "1")
	if since != "" {
		query.Set("since", since)
	}
	endpoint := topicURL(server, topic) + "/json?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if credential != "" {
		req.Header.Set("Authorization", string(credential))
	}

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to poll topic: %w", err)
	}

	var events []Event
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), len(body)+1)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		event, err := DecodeEvent([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		events = append(events, *event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read poll response: %w", err)
	}

	return events, nil
}

// do executes req and returns the response body of a successful request.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newStatusError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read response body", Err: err}
	}
	return body, nil
}

func newStatusError(resp *http.Response) *StatusError {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil && !errors.Is(err, io.EOF) {
		body = nil
	}
	return &StatusError{
		StatusCode: resp.StatusCode,
		Status:     http.StatusText(resp.StatusCode),
		Body:       strings.TrimSpace(string(body)),
	}
}
