package usage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record is one tracked API call's usage payload plus identity and scoping.
// Optional fields are omitted when empty; the server distinguishes absence
// from null.
type Record struct {
	// APIID is the vendor family identifier, e.g. "openai_chat".
	APIID string `json:"api_id"`

	// ServiceKey is "{vendor}::{model_or_service_id}". Optional when the
	// server accepts api-id-only records.
	ServiceKey string `json:"service_key,omitempty"`

	// ResponseID is the caller-supplied or generated 128-bit hex id used
	// for correlation and idempotent ingest.
	ResponseID string `json:"response_id"`

	// Timestamp is RFC3339 UTC with microseconds and no trailing Z.
	Timestamp string `json:"timestamp"`

	// Payload is the opaque vendor-shaped usage object. The SDK does not
	// inspect its contents beyond being a JSON object.
	Payload map[string]any `json:"payload"`

	// ClientCustomerKey optionally ties the record to an end-customer of
	// the caller.
	ClientCustomerKey string `json:"client_customer_key,omitempty"`

	// Context is optional caller-attached metadata.
	Context map[string]any `json:"context,omitempty"`
}

// Validate checks the record invariants before it may be enqueued.
func (r *Record) Validate() error {
	if r.APIID == "" {
		return errors.New("usage record: api_id is required")
	}
	if r.ResponseID == "" {
		return errors.New("usage record: response_id is required")
	}
	if r.Timestamp == "" {
		return errors.New("usage record: timestamp is required")
	}
	return nil
}

// NewResponseID returns a new 128-bit random hex identifier.
func NewResponseID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// timestampLayouts are the string forms accepted from callers.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// FormatTimestamp renders an instant the way the server validator expects:
// UTC, ISO-8601 with microsecond precision, "+00:00" offset rather than Z.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000") + "+00:00"
}

// NormalizeTimestamp validates a caller-supplied timestamp string and
// strips a trailing Z, passing the value through otherwise.
func NormalizeTimestamp(s string) (string, error) {
	trimmed := strings.TrimSuffix(s, "Z")
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, trimmed); err == nil {
			return trimmed, nil
		}
	}
	return "", fmt.Errorf("invalid timestamp %q", s)
}
