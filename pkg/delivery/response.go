package delivery

import "encoding/json"

// TrackResponse is the parsed body of a successful /track call.
type TrackResponse struct {
	// EventIDs maps each record's response_id to either the created event
	// UUID (string) or a list of per-record error messages.
	EventIDs []map[string]json.RawMessage `json:"event_ids"`

	// TriggeredLimits is the signed envelope echoed by the server when
	// limits changed, if any. Kept as raw bytes so the cache stores
	// exactly what the server sent.
	TriggeredLimits json.RawMessage `json:"triggered_limits,omitempty"`

	// Results carries per-record cost events when the server computes
	// them synchronously.
	Results []TrackResult `json:"results,omitempty"`
}

// TrackResult is one record's server-side processing result.
type TrackResult struct {
	CostEvents []json.RawMessage `json:"cost_events"`
}

// EventID returns the event UUID created for responseID, if the server
// accepted the record.
func (r *TrackResponse) EventID(responseID string) (string, bool) {
	raw, ok := r.lookup(responseID)
	if !ok {
		return "", false
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", false
	}
	return id, true
}

// RecordErrors returns the per-record error messages the server attached
// to responseID, preserved unchanged. Nil means the record was accepted.
func (r *TrackResponse) RecordErrors(responseID string) []string {
	raw, ok := r.lookup(responseID)
	if !ok {
		return nil
	}
	var errs []string
	if err := json.Unmarshal(raw, &errs); err != nil {
		return nil
	}
	return errs
}

// HasCostEvents reports whether any result carries cost events.
func (r *TrackResponse) HasCostEvents() bool {
	for _, res := range r.Results {
		if len(res.CostEvents) > 0 {
			return true
		}
	}
	return false
}

func (r *TrackResponse) lookup(responseID string) (json.RawMessage, bool) {
	for _, entry := range r.EventIDs {
		if raw, ok := entry[responseID]; ok {
			return raw, true
		}
	}
	return nil, false
}
