package limits

import (
	"encoding/json"
	"fmt"

	"github.com/aicostmanager/aicostmanager-go/pkg/inistore"
	"github.com/aicostmanager/aicostmanager-go/pkg/telemetry/logging"
)

const (
	iniSection = "triggered_limits"
	iniKey     = "payload"
)

// CacheConfig configures a Cache.
type CacheConfig struct {
	// Store is the shared INI store. Required.
	Store *inistore.Store

	// Issuer is the expected envelope issuer. Default: DefaultIssuer.
	Issuer string

	// Policy controls behavior on verification failure. Default: FailOpen.
	Policy FailurePolicy

	// Logger receives cache logs. Defaults to logging.Default().
	Logger *logging.Logger
}

// Cache holds the currently-active limit envelope. It is strictly
// read-through the INI store: every Query re-reads the file, so multiple
// processes on the host share one view.
type Cache struct {
	store  *inistore.Store
	issuer string
	policy FailurePolicy
	logger *logging.Logger
}

// NewCache creates a Cache over the shared INI store.
func NewCache(cfg CacheConfig) (*Cache, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("limits cache: store is required")
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}
	policy := cfg.Policy
	if policy == "" {
		policy = FailOpen
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Cache{
		store:  cfg.Store,
		issuer: issuer,
		policy: policy,
		logger: logger.Component("limits"),
	}, nil
}

// WriteRaw overwrites the cached envelope with the exact bytes the
// server sent. Envelopes are stored verbatim and fully replaced, never
// merged; re-encoding would drop unknown fields and reorder keys, and
// the other SDKs sharing the INI file compare payloads byte-for-byte.
func (c *Cache) WriteRaw(raw []byte) error {
	return c.store.Set(iniSection, iniKey, string(raw))
}

// Write overwrites the cached envelope with env's JSON encoding. Callers
// holding the server's original bytes should use WriteRaw instead.
func (c *Cache) Write(env *Envelope) error {
	if env == nil {
		env = &Envelope{}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	return c.WriteRaw(data)
}

// Read returns the cached envelope, or nil when none is stored.
func (c *Cache) Read() (*Envelope, error) {
	raw, ok, err := c.store.Get(iniSection, iniKey)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("corrupt envelope payload: %w", err)
	}
	return &env, nil
}

// Query verifies the cached envelope, decodes its claims, and returns the
// limits matching (apiKeyID, serviceKey, customerKey). serviceKey and
// customerKey may be empty. Verification failures follow the configured
// FailurePolicy.
func (c *Cache) Query(apiKeyID, serviceKey, customerKey string) ([]TriggeredLimit, error) {
	env, err := c.Read()
	if err != nil {
		return nil, err
	}
	if env.Empty() {
		return nil, nil
	}

	events, err := decodeEnvelope(env, c.issuer)
	if err != nil {
		if c.policy == FailClosed {
			c.logger.Warn("envelope verification failed, failing closed", "error", err)
			return []TriggeredLimit{{
				LimitID:       "unverified-envelope",
				ThresholdType: ThresholdLimit,
				APIKeyID:      apiKeyID,
			}}, nil
		}
		c.logger.Warn("envelope verification failed, failing open", "error", err)
		return nil, nil
	}

	var matched []TriggeredLimit
	for _, ev := range events {
		if ev.matches(apiKeyID, serviceKey, customerKey) {
			matched = append(matched, ev)
		}
	}
	return matched, nil
}
