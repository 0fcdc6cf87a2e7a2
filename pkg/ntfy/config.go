package ntfy

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultServerURL is the public ntfy instance
	DefaultServerURL = "https://ntfy.sh/"
	// DefaultTimeout bounds publish and poll requests
	DefaultTimeout = 30 * time.Second
	// DefaultReconnectDelay is the pause between listener reconnect attempts
	DefaultReconnectDelay = time.Second
)

// Config holds the defaults shared by a Client or Listener.
// Each Client and Listener keeps its own copy.
type Config struct {
	// ServerURL is the base URL of the ntfy server (e.g., "https://ntfy.sh/")
	ServerURL string

	// Credential is sent with every request unless overridden per call
	Credential Credential

	// Timeout for publish and poll requests. Streams are not bounded by it.
	Timeout time.Duration

	// ReconnectDelay between listener reconnect attempts
	ReconnectDelay time.Duration

	// HTTPClient overrides the transport (optional)
	HTTPClient *http.Client

	// Logger receives debug and warning output. Defaults to a no-op logger.
	Logger *zerolog.Logger
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
}

// Validate checks that the server URL is usable.
func (c *Config) Validate() error {
	return validateServerURL(c.ServerURL)
}

// SetServer changes the default server URL.
func (c *Config) SetServer(serverURL string) {
	c.ServerURL = serverURL
}

// SetAuthentication sets a Basic default credential. Passing two empty
// strings clears the default credential. For tokens use Token.
func (c *Config) SetAuthentication(password, username string) {
	c.Credential = BasicAuth(username, password)
}

func validateServerURL(serverURL string) error {
	if serverURL == "" {
		return fmt.Errorf("ServerURL is required")
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("invalid ServerURL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid ServerURL: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid ServerURL: missing host")
	}
	return nil
}

// topicURL joins server and topic with exactly one slash.
func topicURL(server, topic string) string {
	return strings.TrimRight(server, "/") + "/" + topic
}
