package resilience

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind is the outcome of classifying a failure at the provider boundary.
// Nothing past the boundary inspects raw provider errors again.
type Kind string

const (
	KindQuota     Kind = "quota"
	KindTransient Kind = "transient"
	KindAuth      Kind = "auth"
	KindMalformed Kind = "malformed"
	KindUnknown   Kind = "unknown"
)

const (
	MessageQuota     = "Stratis Synthesis Limit Reached: Your current API quota has been exceeded. Please check your billing status at ai.google.dev/gemini-api/docs/billing or wait for the cooldown period to expire."
	MessageTransient = "The synthesis engine is momentarily overloaded. We are attempting to re-establish a stable connection."
	MessageAuth      = "Access denied. Please verify your system credentials or API key configuration."
	MessageMalformed = "The synthesis engine returned a response in an unexpected shape. Please try again."
	MessageUnknown   = "An unexpected variance occurred during synthesis. Our systems are investigating the discrepancy."
)

var (
	quotaMarkers     = []string{"429", "quota", "exhausted", "rate_limit", "resource_exhausted"}
	transientMarkers = []string{"503", "overloaded", "unavailable"}
	authMarkers      = []string{"api_key", "invalid", "unauthorized"}

	// Broader than the transient category: quota failures are retried too.
	retryMarkers = []string{"429", "503", "quota", "exhausted", "deadline", "network", "resource_exhausted"}
)

type Classification struct {
	Kind Kind
	// Transient is the messaging verdict. Quota failures are not transient
	// even though they are retried.
	Transient bool
	Retryable bool
	Message   string
}

// MalformedError marks a provider response that did not match the expected
// shape. It is terminal for the step that received it.
type MalformedError struct {
	What   string
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("malformed %s response", e.What)
	}
	return fmt.Sprintf("malformed %s response: %s", e.What, e.Reason)
}

func Malformed(what, format string, args ...any) error {
	return &MalformedError{What: what, Reason: fmt.Sprintf(format, args...)}
}

// Classify turns any failure value into a Classification. It is pure: the
// same input always yields the same verdict and message.
func Classify(v any) Classification {
	if err, ok := v.(error); ok {
		var final *Error
		if errors.As(err, &final) {
			return Classification{
				Kind:      final.Kind,
				Transient: final.Kind == KindTransient,
				Retryable: false,
				Message:   final.Message,
			}
		}
		var malformed *MalformedError
		if errors.As(err, &malformed) {
			return Classification{Kind: KindMalformed, Message: MessageMalformed}
		}
	}

	text := normalize(v)
	lower := strings.ToLower(text)
	c := Classification{Retryable: containsAny(lower, retryMarkers)}

	switch {
	case containsAny(lower, quotaMarkers):
		c.Kind = KindQuota
		c.Message = MessageQuota
	case containsAny(lower, transientMarkers):
		c.Kind = KindTransient
		c.Transient = true
		c.Message = MessageTransient
	case containsAny(lower, authMarkers):
		c.Kind = KindAuth
		c.Message = MessageAuth
		c.Retryable = false
	default:
		c.Kind = KindUnknown
		c.Message = humanText(text)
	}
	return c
}

// Retryable reports whether a failure is eligible for another attempt.
func Retryable(v any) bool {
	return Classify(v).Retryable
}

// Message is the user-facing text for a failure.
func Message(v any) string {
	return Classify(v).Message
}

// normalize renders a failure as text, trying a plain string, an error's
// text, a message field, a nested error.message field and finally a JSON
// round trip.
func normalize(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case error:
		return t.Error()
	case map[string]any:
		if msg := messageFromMap(t); msg != "" {
			return msg
		}
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var m map[string]any
	if json.Unmarshal(raw, &m) == nil {
		if msg := messageFromMap(m); msg != "" {
			return msg
		}
	}
	return string(raw)
}

func messageFromMap(m map[string]any) string {
	if msg, ok := m["message"].(string); ok && msg != "" {
		return msg
	}
	if nested, ok := m["error"].(map[string]any); ok {
		if msg, ok := nested["message"].(string); ok && msg != "" {
			return msg
		}
	}
	if msg, ok := m["error"].(string); ok && msg != "" {
		return msg
	}
	return ""
}

// humanText unwraps JSON-looking provider payloads down to their message.
func humanText(text string) string {
	text = strings.TrimSpace(text)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			var m map[string]any
			if json.Unmarshal([]byte(text[start:end+1]), &m) == nil {
				if msg := messageFromMap(m); msg != "" {
					return msg
				}
			}
		}
	}
	if text == "" || text == "{}" || text == "null" {
		return MessageUnknown
	}
	return text
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
