package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ContextKey type for context keys to avoid collisions
type ContextKey string

// UserKey is the context key for the authenticated username
const UserKey ContextKey = "user"

// Middleware provides HTTP middleware functions
type Middleware struct {
	auth     *Authenticator
	visitors *visitorLimiter
	logger   zerolog.Logger
}

// NewMiddleware creates a new middleware instance. Each visitor may make
// burst requests at once and limit requests per second after that; a zero
// limit disables rate limiting.
func NewMiddleware(auth *Authenticator, limit rate.Limit, burst int, logger zerolog.Logger) *Middleware {
	return &Middleware{
		auth:     auth,
		visitors: newVisitorLimiter(limit, burst),
		logger:   logger,
	}
}

// AuthRequired authenticates the request and stores the username in its
// context. Anonymous requests pass through unless authentication is required.
func (m *Middleware) AuthRequired(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := m.auth.Authenticate(r)
		if err != nil {
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), UserKey, user)
		next(w, r.WithContext(ctx))
	}
}

// RateLimit rejects requests from a visitor that exceeded its budget.
// Visitors are identified by remote IP.
func (m *Middleware) RateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.visitors != nil && !m.visitors.Allow(visitorIP(r)) {
			writeError(w, errHTTPTooManyRequests)
			return
		}
		next(w, r)
	}
}

// Logging logs every request once it completes.
func (m *Middleware) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("visitor", visitorIP(r)).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// Recovery recovers from panics and returns a 500 error
func (m *Middleware) Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				m.logger.Error().Interface("panic", err).Str("path", r.URL.Path).Msg("handler panicked")
				writeError(w, errHTTPInternalError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status. It forwards Flush so
// streaming handlers keep working behind the logging middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// visitorLimiter holds one token bucket per visitor.
type visitorLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	visitors map[string]*rate.Limiter
}

func newVisitorLimiter(limit rate.Limit, burst int) *visitorLimiter {
	if limit <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &visitorLimiter{
		limit:    limit,
		burst:    burst,
		visitors: make(map[string]*rate.Limiter),
	}
}

// Allow consumes one token of the visitor's bucket.
func (v *visitorLimiter) Allow(visitor string) bool {
	v.mu.Lock()
	limiter, ok := v.visitors[visitor]
	if !ok {
		limiter = rate.NewLimiter(v.limit, v.burst)
		v.visitors[visitor] = limiter
	}
	v.mu.Unlock()
	return limiter.Allow()
}

// Helper functions

func visitorIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeError writes an error response as JSON
func writeError(w http.ResponseWriter, err error) {
	var httpErr *httpError
	if !errors.As(err, &httpErr) {
		httpErr = errHTTPInternalError
	}
	writeJSON(w, ErrorResponse{
		Code:  httpErr.Code,
		HTTP:  httpErr.HTTPCode,
		Error: httpErr.Message,
	}, httpErr.HTTPCode)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// GetUser returns the authenticated username, or "" for anonymous requests
func GetUser(r *http.Request) string {
	if user, ok := r.Context().Value(UserKey).(string); ok {
		return user
	}
	return ""
}
