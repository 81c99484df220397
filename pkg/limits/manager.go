package limits

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aicostmanager/aicostmanager-go/pkg/dispatch"
	"github.com/aicostmanager/aicostmanager-go/pkg/telemetry/logging"
)

// triggeredLimitsPath is the endpoint serving the current signed envelope.
const triggeredLimitsPath = "/triggered-limits"

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Client performs the HTTP calls. Required.
	Client *dispatch.Client

	// Cache receives refreshed envelopes. Required.
	Cache *Cache

	// APIBase and APIURL form the endpoint prefix, e.g.
	// "https://aicostmanager.com" + "/api/v1".
	APIBase string
	APIURL  string

	// MaxAttempts bounds refresh retries. Default: 3.
	MaxAttempts int

	// Logger receives manager logs.
	Logger *logging.Logger
}

// Manager orchestrates cache refresh from the server. The SDK never
// schedules refresh implicitly; callers refresh on startup, after
// deliveries without a triggered_limits echo, or on demand (optionally
// via RefreshScheduler).
type Manager struct {
	client      *dispatch.Client
	cache       *Cache
	url         string
	maxAttempts int
	logger      *logging.Logger
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("limits manager: client is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("limits manager: cache is required")
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	url := strings.TrimRight(cfg.APIBase, "/") + strings.TrimRight(cfg.APIURL, "/") + triggeredLimitsPath
	return &Manager{
		client:      cfg.Client,
		cache:       cfg.Cache,
		url:         url,
		maxAttempts: maxAttempts,
		logger:      logger.Component("limits"),
	}, nil
}

// Cache returns the manager's cache.
func (m *Manager) Cache() *Cache {
	return m.cache
}

// Refresh pulls the current signed envelope and overwrites the cache.
// The endpoint may return the envelope bare or wrapped in an outer
// "triggered_limits" key; both forms are accepted.
func (m *Manager) Refresh(ctx context.Context) error {
	resp, err := m.client.Get(ctx, m.url, m.maxAttempts)
	if err != nil {
		return fmt.Errorf("failed to fetch triggered limits: %w", err)
	}

	raw, err := parseEnvelopeResponse(resp.Body)
	if err != nil {
		return err
	}
	if err := m.cache.WriteRaw(raw); err != nil {
		return err
	}
	var env Envelope
	_ = json.Unmarshal(raw, &env)
	m.logger.Debug("triggered limits refreshed", "empty", env.Empty())
	return nil
}

// Check is a convenience wrapper around the cache query.
func (m *Manager) Check(apiKeyID, serviceKey, customerKey string) ([]TriggeredLimit, error) {
	return m.cache.Query(apiKeyID, serviceKey, customerKey)
}

// parseEnvelopeResponse extracts the envelope bytes, unwrapping the
// optional outer triggered_limits key. The bytes are returned unmodified
// so the cache can store exactly what the server sent.
func parseEnvelopeResponse(body []byte) (json.RawMessage, error) {
	var wrapped struct {
		TriggeredLimits json.RawMessage `json:"triggered_limits"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil &&
		len(wrapped.TriggeredLimits) > 0 && string(wrapped.TriggeredLimits) != "null" {
		return wrapped.TriggeredLimits, nil
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("malformed triggered limits response: %w", err)
	}
	return json.RawMessage(body), nil
}
