package logging

import (
	"encoding/json"
	"regexp"
	"strings"
)

// redactedValue replaces sensitive values in logged bodies.
const redactedValue = "***"

// sensitiveKeys are JSON object keys whose values are always masked.
// Comparison is case-insensitive.
var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"api_key":       {},
	"apikey":        {},
}

// bearerPattern masks bearer tokens embedded in plain strings.
var bearerPattern = regexp.MustCompile(`(?i)(bearer\s+)\S+`)

// Redactor masks credential material in logged request and response bodies.
type Redactor struct{}

// NewRedactor creates a Redactor with the default sensitive-key set.
func NewRedactor() *Redactor {
	return &Redactor{}
}

// RedactBody returns a copy of a JSON body with sensitive values masked.
// Bodies that do not parse as JSON are returned with bearer tokens masked.
func (r *Redactor) RedactBody(body []byte) string {
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return bearerPattern.ReplaceAllString(string(body), "${1}"+redactedValue)
	}

	redacted := redactValue(parsed)
	out, err := json.Marshal(redacted)
	if err != nil {
		return redactedValue
	}
	return string(out)
}

// redactValue walks a decoded JSON value and masks sensitive keys.
func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if _, sensitive := sensitiveKeys[strings.ToLower(k)]; sensitive {
				out[k] = redactedValue
				continue
			}
			out[k] = redactValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}
