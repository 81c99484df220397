package limits

import "strings"

// Threshold types. Only ThresholdLimit blocks tracking; alerts are
// informational.
const (
	ThresholdAlert = "alert"
	ThresholdLimit = "limit"
)

// FailurePolicy controls how Query behaves when the cached envelope
// cannot be verified.
type FailurePolicy string

const (
	// FailOpen treats an undecodable envelope as "no limits". This
	// matches the server SDKs' historical behavior.
	FailOpen FailurePolicy = "open"

	// FailClosed treats an undecodable envelope as an unknown blocking
	// limit, so enforcement degrades safely instead of silently off.
	FailClosed FailurePolicy = "closed"
)

// TriggeredLimit is one currently-active limit violation computed by the
// server. Amount is decimal and kept as a string; the SDK never does
// arithmetic on it.
type TriggeredLimit struct {
	EventID           string   `json:"event_id,omitempty"`
	LimitID           string   `json:"limit_id,omitempty"`
	ThresholdType     string   `json:"threshold_type"`
	Amount            string   `json:"amount,omitempty"`
	Period            string   `json:"period,omitempty"`
	ServiceID         string   `json:"service_id,omitempty"`
	Vendor            string   `json:"vendor,omitempty"`
	ConfigIDList      []string `json:"config_id_list,omitempty"`
	Hostname          string   `json:"hostname,omitempty"`
	ClientCustomerKey string   `json:"client_customer_key,omitempty"`
	APIKeyID          string   `json:"api_key_id,omitempty"`
	TriggeredAt       string   `json:"triggered_at,omitempty"`
	ExpiresAt         string   `json:"expires_at,omitempty"`

	// ServiceKey is the legacy flat "{vendor}::{service_id}" scope some
	// older envelopes carry instead of the split fields.
	ServiceKey string `json:"service_key,omitempty"`
}

// Blocks reports whether this limit gates track calls.
func (t *TriggeredLimit) Blocks() bool {
	return t.ThresholdType == ThresholdLimit
}

// Envelope is the signed, on-wire form of a limits payload. It is stored
// verbatim; decoding happens on read using the embedded public key.
type Envelope struct {
	Version          string `json:"version,omitempty"`
	KeyID            string `json:"key_id,omitempty"`
	PublicKey        string `json:"public_key,omitempty"`
	EncryptedPayload string `json:"encrypted_payload,omitempty"`
}

// Empty reports whether the envelope carries no signed payload.
func (e *Envelope) Empty() bool {
	return e == nil || e.EncryptedPayload == "" || e.PublicKey == ""
}

// splitServiceKey splits "{vendor}::{service_id}" into its parts. A key
// without the separator is treated as a bare service id.
func splitServiceKey(key string) (vendor, serviceID string) {
	if key == "" {
		return "", ""
	}
	parts := strings.SplitN(key, "::", 2)
	if len(parts) == 1 {
		return "", parts[0]
	}
	return parts[0], parts[1]
}

// matches applies the scoping rules from the filtering contract: vendor-only
// limits match on vendor, service-scoped limits match on exact id, limits
// with no scoping fields match everything for the key, and customer and
// api-key scopes must agree when both sides carry them.
func (t *TriggeredLimit) matches(apiKeyID, serviceKey, customerKey string) bool {
	if apiKeyID != "" && t.APIKeyID != apiKeyID {
		return false
	}
	if customerKey != "" && t.ClientCustomerKey != "" && t.ClientCustomerKey != customerKey {
		return false
	}

	vendor, serviceID := splitServiceKey(serviceKey)

	limitVendor := t.Vendor
	limitServiceID := t.ServiceID
	if limitVendor == "" && limitServiceID == "" && t.ServiceKey != "" {
		limitVendor, limitServiceID = splitServiceKey(t.ServiceKey)
	}

	// No scoping fields: matches any record for this api key.
	if limitVendor == "" && limitServiceID == "" {
		return true
	}
	if serviceKey == "" {
		// Scoped limit cannot match a record without a service key.
		return false
	}
	if limitServiceID != "" {
		return limitServiceID == serviceID
	}
	return limitVendor == vendor
}
