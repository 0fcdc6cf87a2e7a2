package ntfy

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	// MinPriority is the lowest message priority ntfy accepts
	MinPriority = 1
	// MaxPriority is the highest message priority ntfy accepts
	MaxPriority = 5
)

// Header holds the optional publish settings for a message.
// The zero value publishes a plain message with server defaults.
type Header struct {
	// Markdown renders the message body as Markdown
	Markdown bool

	// NoCache asks the server not to cache the message
	NoCache bool

	// NoFirebase disables forwarding to Firebase Cloud Messaging
	NoFirebase bool

	// Priority from 1 (min) to 5 (max). Values outside that range are not sent.
	Priority int

	// Tags is a comma-separated tag list; tags may map to emojis
	Tags string

	Title string

	// Delay schedules delivery: a Unix timestamp ("1639194738"), a duration
	// ("30m", "3h", "2 days") or a natural language time ("tomorrow, 10am").
	// It is passed to the server verbatim.
	Delay string

	// Attach is the URL of an external attachment
	Attach string

	// Icon is the URL of the notification icon
	Icon string

	// Filename overrides the attachment file name
	Filename string

	// Click is the URL opened when the notification is tapped
	Click string

	// Email forwards the message to this address
	Email string

	// Actions holds raw action directives, see the Add*Action methods
	Actions []string
}

// AddViewAction adds an action that opens url when tapped.
func (h *Header) AddViewAction(label, url string, clear bool) {
	h.Actions = append(h.Actions, fmt.Sprintf("view, %s, url=%s, clear=%t", label, url, clear))
}

// AddHTTPAction adds an action that sends an HTTP request to url.
// Empty method, headers and body arguments are left out.
func (h *Header) AddHTTPAction(label, url, method, headers, body string, clear bool) {
	action := fmt.Sprintf("broadcast, %s, url=%s, clear=%t", label, url, clear)
	// ntfy clients accept these under the intent key
	for _, v := range []string{method, headers, body} {
		if v != "" {
			action += ", intent=" + v
		}
	}
	h.Actions = append(h.Actions, action)
}

// AddBroadcastAction adds an Android broadcast intent action.
// Empty intent and extras arguments are left out.
func (h *Header) AddBroadcastAction(label, intent, extras string, clear bool) {
	action := fmt.Sprintf("broadcast, %s, clear=%t", label, clear)
	for _, v := range []string{intent, extras} {
		if v != "" {
			action += ", intent=" + v
		}
	}
	h.Actions = append(h.Actions, action)
}

// Metadata returns the request headers for h. Unset fields are omitted;
// the boolean flags are only sent when they differ from the server default.
func (h *Header) Metadata() map[string]string {
	out := make(map[string]string)
	if h == nil {
		return out
	}

	optional := []struct {
		key   string
		value string
	}{
		{"Tags", h.Tags},
		{"Title", h.Title},
		{"Delay", h.Delay},
		{"Attach", h.Attach},
		{"Icon", h.Icon},
		{"Filename", h.Filename},
		{"Email", h.Email},
		{"Click", h.Click},
	}
	for _, field := range optional {
		if field.value != "" {
			out[field.key] = field.value
		}
	}

	if h.Priority >= MinPriority && h.Priority <= MaxPriority {
		out["Priority"] = strconv.Itoa(h.Priority)
	}
	if h.Markdown {
		out["Markdown"] = "yes"
	}
	if h.NoCache {
		out["Cache"] = "no"
	}
	if h.NoFirebase {
		out["Firebase"] = "no"
	}
	if len(h.Actions) > 0 {
		out["Actions"] = strings.Join(h.Actions, ";")
	}

	return out
}

// Apply sets the metadata of h on an outgoing request header.
func (h *Header) Apply(dst http.Header) {
	for k, v := range h.Metadata() {
		dst.Set(k, v)
	}
}
