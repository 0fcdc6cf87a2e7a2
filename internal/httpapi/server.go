package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/rmacdonaldsmith/ntfy-go/internal/eventlog"
	"github.com/rmacdonaldsmith/ntfy-go/internal/routingtable"
)

// Server is a development ntfy server: publish, JSON subscription streams,
// polling, optional authentication and per-visitor rate limiting. It keeps
// everything in memory.
type Server struct {
	config     Config
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	cache      *eventlog.InMemoryEventLog
	routes     *routingtable.InMemoryRoutingTable
	handler    http.Handler
	server     *http.Server
	logger     zerolog.Logger

	stopOnce sync.Once
	done     chan struct{}
}

// Config holds server configuration
type Config struct {
	// Port to listen on
	Port string

	// SecretKey signs access tokens
	SecretKey string

	// Users maps usernames to passwords for Basic authentication
	Users map[string]string

	// RequireAuth rejects anonymous requests
	RequireAuth bool

	// TokenTTL is the lifetime of issued access tokens
	TokenTTL time.Duration

	// CacheSize caps the number of cached messages per topic; 0 is unbounded
	CacheSize int

	// CacheDuration is how long messages stay in the cache
	CacheDuration time.Duration

	// KeepaliveInterval is the time between keepalive events on open streams
	KeepaliveInterval time.Duration

	// MessageLimit is the maximum message body size in bytes
	MessageLimit int

	// SubscriberBuffer is the number of events buffered per subscriber
	SubscriberBuffer int

	// VisitorRequestRate is the sustained request rate per visitor, in
	// requests per second; 0 disables rate limiting
	VisitorRequestRate float64

	// VisitorRequestBurst is the number of requests a visitor may make at once
	VisitorRequestBurst int

	// PruneInterval is the time between cache expiry sweeps
	PruneInterval time.Duration

	Logger *zerolog.Logger
}

// SetDefaults fills in zero-valued fields.
func (c *Config) SetDefaults() {
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.SecretKey == "" {
		c.SecretKey = "ntfy-dev-secret-key-change-in-production"
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = 24 * time.Hour
	}
	if c.CacheDuration == 0 {
		c.CacheDuration = 12 * time.Hour
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = 45 * time.Second
	}
	if c.MessageLimit == 0 {
		c.MessageLimit = 4096
	}
	if c.VisitorRequestRate > 0 && c.VisitorRequestBurst == 0 {
		c.VisitorRequestBurst = 60
	}
	if c.PruneInterval == 0 {
		c.PruneInterval = time.Minute
	}
	if c.Logger == nil {
		logger := zerolog.Nop()
		c.Logger = &logger
	}
}

// NewServer creates a new server
func NewServer(config Config) *Server {
	config.SetDefaults()

	jwtAuth := NewJWTAuth(config.SecretKey, config.TokenTTL)
	auth := NewAuthenticator(config.Users, jwtAuth, config.RequireAuth)
	cache := eventlog.NewInMemoryEventLog(config.CacheSize)
	routes := routingtable.NewInMemoryRoutingTable(config.SubscriberBuffer)

	s := &Server{
		config:     config,
		jwtAuth:    jwtAuth,
		handlers:   NewHandlers(cache, routes, config),
		middleware: NewMiddleware(auth, rate.Limit(config.VisitorRequestRate), config.VisitorRequestBurst, *config.Logger),
		cache:      cache,
		routes:     routes,
		logger:     config.Logger.With().Str("component", "httpapi").Logger(),
		done:       make(chan struct{}),
	}
	s.handler = s.setupRoutes()

	// No write timeout: subscription streams stay open indefinitely.
	s.server = &http.Server{
		Addr:              ":" + config.Port,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}
	return s
}

// Handler returns the routed handler, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves on the configured port until Stop is called.
func (s *Server) Start() error {
	go s.pruneLoop()

	s.logger.Info().Str("addr", s.server.Addr).Msg("server listening")
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop closes every stream and gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.Close()
	return s.server.Shutdown(ctx)
}

// Close drops every subscriber, cancels delayed messages and releases the
// cache. It does not touch the listener; use it with Handler.
func (s *Server) Close() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.handlers.cancelScheduled()
		_ = s.routes.Close()
		_ = s.cache.Close()
	})
}

// IssueToken creates an access token for username.
func (s *Server) IssueToken(username string) (string, error) {
	token, _, err := s.jwtAuth.GenerateToken(username)
	return token, err
}

// DropSubscribers closes every open subscription stream, as a restart
// would, and returns how many were closed. Clients may reconnect.
func (s *Server) DropSubscribers() int {
	n := s.routes.DropAll()
	s.logger.Info().Int("subscribers", n).Msg("dropped subscribers")
	return n
}

// SubscriberCount returns the number of registered subscribers.
func (s *Server) SubscriberCount() int {
	return s.routes.SubscriberCount()
}

// ConnectionCount returns the number of open streaming requests.
func (s *Server) ConnectionCount() int64 {
	return s.handlers.connections.Load()
}

func (s *Server) pruneLoop() {
	ticker := time.NewTicker(s.config.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			removed, err := s.cache.Prune(context.Background(), now)
			if err != nil {
				s.logger.Warn().Err(err).Msg("failed to prune cache")
				continue
			}
			if removed > 0 {
				s.logger.Debug().Int("removed", removed).Msg("pruned expired messages")
			}
		}
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", s.handlers.Health)

	publish := s.middleware.RateLimit(s.middleware.AuthRequired(s.handlers.Publish))
	mux.HandleFunc("POST /{topic}", publish)
	mux.HandleFunc("PUT /{topic}", publish)

	mux.HandleFunc("GET /{topics}/json", s.middleware.RateLimit(s.middleware.AuthRequired(s.handlers.Subscribe)))

	mux.HandleFunc("/", s.handlers.NotFound)

	return s.middleware.Recovery(s.middleware.Logging(mux))
}
