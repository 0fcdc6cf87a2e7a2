package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/ntfy-go/internal/eventlog"
	"github.com/rmacdonaldsmith/ntfy-go/internal/routingtable"
	"github.com/rmacdonaldsmith/ntfy-go/pkg/ntfy"
)

var topicRegex = regexp.MustCompile(`^[-_A-Za-z0-9]{1,64}$`)

const minDelay = time.Second

// Handlers contains the HTTP request handlers
type Handlers struct {
	cache        *eventlog.InMemoryEventLog
	routes       *routingtable.InMemoryRoutingTable
	config       Config
	logger       zerolog.Logger
	connections  atomic.Int64
	mu           sync.Mutex
	scheduled    map[string]*time.Timer
	messageLimit int64
}

// NewHandlers creates a new handlers instance
func NewHandlers(cache *eventlog.InMemoryEventLog, routes *routingtable.InMemoryRoutingTable, config Config) *Handlers {
	return &Handlers{
		cache:        cache,
		routes:       routes,
		config:       config,
		logger:       config.Logger.With().Str("component", "httpapi").Logger(),
		scheduled:    make(map[string]*time.Timer),
		messageLimit: int64(config.MessageLimit),
	}
}

// Publish handles POST/PUT /{topic}
func (h *Handlers) Publish(w http.ResponseWriter, r *http.Request) {
	topic := r.PathValue("topic")
	if !topicRegex.MatchString(topic) {
		writeError(w, errHTTPBadRequestTopicInvalid)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.messageLimit+1))
	if err != nil {
		writeError(w, err)
		return
	}
	if int64(len(body)) > h.messageLimit {
		writeError(w, errHTTPEntityTooLarge)
		return
	}

	event, opts, err := h.parsePublish(r, topic, string(body))
	if err != nil {
		writeError(w, err)
		return
	}

	if opts.delay > 0 {
		h.schedule(event, opts.delay)
	} else {
		h.deliver(event, opts.cache)
	}

	h.logger.Debug().
		Str("topic", topic).
		Str("id", event.ID).
		Str("user", GetUser(r)).
		Dur("delay", opts.delay).
		Msg("message published")

	writeJSON(w, event, http.StatusOK)
}

// Subscribe handles GET /{topics}/json. It streams newline-delimited JSON
// events until the client goes away or the subscriber is dropped.
func (h *Handlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	topics := routingtable.ParseTopics(r.PathValue("topics"))
	if len(topics) == 0 {
		writeError(w, errHTTPBadRequestTopicInvalid)
		return
	}
	for _, topic := range topics {
		if !topicRegex.MatchString(topic) {
			writeError(w, errHTTPBadRequestTopicInvalid)
			return
		}
	}

	query := r.URL.Query()
	since, err := eventlog.ParseSince(query.Get("since"), time.Now())
	if err != nil {
		writeError(w, errHTTPBadRequestSinceInvalid.withDetail(err.Error()))
		return
	}
	poll := isTrue(query.Get("poll"))
	if poll && since.IsNone() {
		since = eventlog.SinceAll()
	}

	cached, err := h.readCached(r, topics, since)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")

	if poll {
		w.WriteHeader(http.StatusOK)
		for _, event := range cached {
			if err := writeEvent(w, event); err != nil {
				return
			}
		}
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errHTTPInternalError)
		return
	}

	sub, err := h.routes.Subscribe(uuid.NewString(), topics)
	if err != nil {
		writeError(w, err)
		return
	}
	defer h.routes.Unsubscribe(sub.ID)

	h.connections.Add(1)
	defer h.connections.Add(-1)

	joined := strings.Join(topics, ",")
	logger := h.logger.With().Str("topics", joined).Str("subscriber", sub.ID).Logger()
	logger.Debug().Msg("subscriber connected")
	defer logger.Debug().Msg("subscriber disconnected")

	w.WriteHeader(http.StatusOK)
	if err := writeEvent(w, h.control(ntfy.EventOpen, joined)); err != nil {
		return
	}
	for _, event := range cached {
		if err := writeEvent(w, event); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(h.config.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeEvent(w, event); err != nil {
				return
			}
		case <-ticker.C:
			if err := writeEvent(w, h.control(ntfy.EventKeepalive, joined)); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

// Health handles GET /v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{Healthy: true}, http.StatusOK)
}

// NotFound handles every unrouted path
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, errHTTPNotFound)
}

type publishOptions struct {
	cache bool
	delay time.Duration
}

// parsePublish builds the message from the request body and the ntfy
// publish headers. Header names are accepted with and without the X- prefix.
func (h *Handlers) parsePublish(r *http.Request, topic, body string) (ntfy.Event, publishOptions, error) {
	now := time.Now()
	opts := publishOptions{cache: readHeader(r, "x-cache", "cache") != "no"}

	event := ntfy.Event{
		ID:      newMessageID(),
		Time:    now.Unix(),
		Event:   ntfy.EventMessage,
		Topic:   topic,
		Message: body,
		Title:   readHeader(r, "x-title", "title", "t"),
		Click:   readHeader(r, "x-click", "click"),
		Icon:    readHeader(r, "x-icon", "icon"),
	}
	if event.Message == "" {
		event.Message = "triggered"
	}

	if tags := readHeader(r, "x-tags", "tags", "tag", "ta"); tags != "" {
		for _, tag := range strings.Split(tags, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				event.Tags = append(event.Tags, tag)
			}
		}
	}

	if value := readHeader(r, "x-priority", "priority", "prio", "p"); value != "" {
		priority, err := parsePriority(value)
		if err != nil {
			return ntfy.Event{}, opts, errHTTPBadRequestPriorityInvalid
		}
		event.Priority = &priority
	}

	if value := readHeader(r, "x-actions", "actions", "action"); value != "" {
		actions, err := parseActions(value)
		if err != nil {
			return ntfy.Event{}, opts, errHTTPBadRequestActionsInvalid.withDetail(err.Error())
		}
		event.Actions = actions
	}

	if attach := readHeader(r, "x-attach", "attach", "a"); attach != "" {
		u, err := url.Parse(attach)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ntfy.Event{}, opts, errHTTPBadRequestAttachmentInvalid
		}
		name := readHeader(r, "x-filename", "filename", "file", "f")
		if name == "" {
			name = path.Base(u.Path)
			if name == "." || name == "/" {
				name = "attachment"
			}
		}
		event.Attachment = &ntfy.Attachment{Name: name, URL: attach}
	}

	if value := readHeader(r, "x-delay", "delay", "x-at", "at", "x-in", "in"); value != "" {
		delay, err := parseDelay(value, now)
		if err != nil {
			return ntfy.Event{}, opts, errHTTPBadRequestDelayInvalid.withDetail(err.Error())
		}
		if !opts.cache {
			return ntfy.Event{}, opts, errHTTPBadRequestDelayNoCache
		}
		opts.delay = delay
		event.Time = now.Add(delay).Unix()
	}

	if opts.cache {
		expires := time.Unix(event.Time, 0).Add(h.config.CacheDuration).Unix()
		event.Expires = &expires
	}

	return event, opts, nil
}

// deliver caches the message and fans it out to the open streams.
func (h *Handlers) deliver(event ntfy.Event, cache bool) {
	if cache {
		if err := h.cache.Append(context.Background(), event); err != nil {
			h.logger.Warn().Err(err).Str("id", event.ID).Msg("failed to cache message")
		}
	}
	h.routes.Publish(event)
}

// schedule delivers the message once delay has passed. Scheduled messages
// are always cached.
func (h *Handlers) schedule(event ntfy.Event, delay time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.scheduled[event.ID] = time.AfterFunc(delay, func() {
		h.mu.Lock()
		delete(h.scheduled, event.ID)
		h.mu.Unlock()
		h.deliver(event, true)
	})
}

// cancelScheduled stops every pending delayed message.
func (h *Handlers) cancelScheduled() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for id, timer := range h.scheduled {
		if timer.Stop() {
			n++
		}
		delete(h.scheduled, id)
	}
	return n
}

func (h *Handlers) readCached(r *http.Request, topics []string, since eventlog.Since) ([]ntfy.Event, error) {
	if since.IsNone() {
		return nil, nil
	}
	var events []ntfy.Event
	for _, topic := range topics {
		cached, err := h.cache.Read(r.Context(), topic, since)
		if err != nil {
			return nil, err
		}
		events = append(events, cached...)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Time < events[j].Time
	})
	return events, nil
}

func (h *Handlers) control(kind ntfy.EventType, topics string) ntfy.Event {
	return ntfy.Event{
		ID:    newMessageID(),
		Time:  time.Now().Unix(),
		Event: kind,
		Topic: topics,
	}
}

func writeEvent(w io.Writer, event ntfy.Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = w.Write(append(line, '\n'))
	return err
}

func newMessageID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func readHeader(r *http.Request, names ...string) string {
	for _, name := range names {
		if value := strings.TrimSpace(r.Header.Get(name)); value != "" {
			return value
		}
	}
	return ""
}

func parsePriority(value string) (int, error) {
	switch strings.ToLower(value) {
	case "min":
		return 1, nil
	case "low":
		return 2, nil
	case "default":
		return 3, nil
	case "high":
		return 4, nil
	case "max", "urgent":
		return 5, nil
	}
	priority, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if priority < ntfy.MinPriority || priority > ntfy.MaxPriority {
		return 0, strconv.ErrRange
	}
	return priority, nil
}

// parseDelay accepts a duration ("30m") or a Unix timestamp.
func parseDelay(value string, now time.Time) (time.Duration, error) {
	var delay time.Duration
	if ts, err := strconv.ParseInt(value, 10, 64); err == nil {
		delay = time.Unix(ts, 0).Sub(now)
	} else if d, err := time.ParseDuration(value); err == nil {
		delay = d
	} else {
		return 0, err
	}
	if delay < minDelay {
		return 0, strconv.ErrRange
	}
	return delay, nil
}

func isTrue(value string) bool {
	switch strings.ToLower(value) {
	case "1", "yes", "true":
		return true
	}
	return false
}
