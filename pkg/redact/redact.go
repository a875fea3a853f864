// Package redact masks PII in transcript text before it reaches storage or
// downstream consumers. Raw transcript text never outlives the handler that
// received it.
package redact

import "regexp"

// Redaction modes.
const (
	ModeOff   = "off"
	ModeBasic = "basic"
)

var (
	emailRe = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	// Anchors sit inside the alternation; \b never matches before "(".
	phoneRe = regexp.MustCompile(`(?:\(\d{3}\)\s?\d{3}-\d{4}\b|\b\d{3}[-.\s]\d{3}[-.\s]\d{4}\b)`)
)

// Redactor rewrites email addresses and North American phone numbers to
// placeholder tokens. The zero value is mode off.
type Redactor struct {
	mode string
}

// New creates a Redactor with the given mode ("off" or "basic").
func New(mode string) *Redactor {
	return &Redactor{mode: mode}
}

// Enabled reports whether redaction is active.
func (r *Redactor) Enabled() bool {
	return r.mode == ModeBasic
}

// Text masks PII in a single string.
func (r *Redactor) Text(s string) string {
	if !r.Enabled() {
		return s
	}
	s = emailRe.ReplaceAllString(s, "[EMAIL]")
	s = phoneRe.ReplaceAllString(s, "[PHONE]")
	return s
}

// Payload returns a copy of the payload with every string value masked,
// recursing through nested objects and arrays. The input is not modified.
func (r *Redactor) Payload(payload map[string]any) map[string]any {
	if !r.Enabled() || payload == nil {
		return payload
	}
	out, _ := r.walk(payload).(map[string]any)
	return out
}

func (r *Redactor) walk(v any) any {
	switch val := v.(type) {
	case string:
		return r.Text(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = r.walk(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = r.walk(inner)
		}
		return out
	default:
		return v
	}
}
