package httpapi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rmacdonaldsmith/ntfy-go/pkg/ntfy"
)

const maxActions = 3

// parseActions parses the Actions header. Two forms are accepted: a JSON
// array of action objects, or the short form where actions are separated
// by ";" and fields by ",":
//
//	view, Open site, https://example.com, clear=true; http, Close door, https://api.example.com/door
func parseActions(value string) ([]ntfy.Action, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	var actions []ntfy.Action
	if strings.HasPrefix(value, "[") {
		if err := json.Unmarshal([]byte(value), &actions); err != nil {
			return nil, fmt.Errorf("failed to decode JSON actions: %w", err)
		}
	} else {
		for _, definition := range strings.Split(value, ";") {
			if strings.TrimSpace(definition) == "" {
				continue
			}
			action, err := parseAction(definition)
			if err != nil {
				return nil, err
			}
			actions = append(actions, action)
		}
	}

	if len(actions) > maxActions {
		return nil, fmt.Errorf("too many actions: %d, at most %d allowed", len(actions), maxActions)
	}
	for i := range actions {
		if err := validateAction(&actions[i]); err != nil {
			return nil, err
		}
	}
	return actions, nil
}

func parseAction(definition string) (ntfy.Action, error) {
	parts := strings.Split(definition, ",")
	action := ntfy.Action{Action: strings.TrimSpace(parts[0])}

	positional := 0
	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		key, value, found := strings.Cut(part, "=")
		if !found || !isActionKey(key) {
			switch positional {
			case 0:
				action.Label = part
			case 1:
				action.URL = part
			default:
				return ntfy.Action{}, fmt.Errorf("unexpected value %q in action %q", part, action.Action)
			}
			positional++
			continue
		}

		switch {
		case key == "label":
			action.Label = value
		case key == "url":
			action.URL = value
		case key == "method":
			action.Method = value
		case key == "body":
			action.Body = value
		case key == "intent":
			action.Intent = value
		case key == "clear":
			cleared, err := strconv.ParseBool(value)
			if err != nil {
				return ntfy.Action{}, fmt.Errorf("invalid clear value %q", value)
			}
			action.Clear = cleared
		case strings.HasPrefix(key, "headers."):
			if action.Headers == nil {
				action.Headers = make(map[string]string)
			}
			action.Headers[strings.TrimPrefix(key, "headers.")] = value
		case strings.HasPrefix(key, "extras."):
			if action.Extras == nil {
				action.Extras = make(map[string]string)
			}
			action.Extras[strings.TrimPrefix(key, "extras.")] = value
		}
	}
	return action, nil
}

func isActionKey(key string) bool {
	switch key {
	case "label", "url", "method", "body", "intent", "clear":
		return true
	}
	return strings.HasPrefix(key, "headers.") || strings.HasPrefix(key, "extras.")
}

func validateAction(action *ntfy.Action) error {
	if action.Action == "" {
		action.Action = ntfy.DefaultAction
	}
	switch action.Action {
	case "view", "http":
		if action.URL == "" {
			return fmt.Errorf("action %q requires a URL", action.Action)
		}
	case "broadcast":
	default:
		return fmt.Errorf("unknown action type %q", action.Action)
	}
	if action.Label == "" {
		return fmt.Errorf("action %q requires a label", action.Action)
	}
	return nil
}
