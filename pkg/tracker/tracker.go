package tracker

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/aicostmanager/aicostmanager-go/pkg/delivery"
	"github.com/aicostmanager/aicostmanager-go/pkg/limits"
	"github.com/aicostmanager/aicostmanager-go/pkg/telemetry/logging"
	"github.com/aicostmanager/aicostmanager-go/pkg/usage"
)

// AlertFunc receives alert-threshold limits that matched a tracked
// record. Alerts never block tracking.
type AlertFunc func(rec usage.Record, alerts []limits.TriggeredLimit)

// Config configures a Tracker.
type Config struct {
	// Delivery ships the records. Required.
	Delivery delivery.Delivery

	// Cache is the shared triggered-limits cache. Optional; nil disables
	// the pre-enqueue limit check.
	Cache *limits.Cache

	// APIKeyID scopes limit checks to this API key's UUID. Optional.
	APIKeyID string

	// ClientCustomerKey is attached to every record that does not set its
	// own. Optional.
	ClientCustomerKey string

	// OnAlert receives alert-threshold matches. Nil logs them at warn.
	OnAlert AlertFunc

	// Logger receives tracker logs. Defaults to logging.Default().
	Logger *logging.Logger
}

// Tracker builds and enqueues usage records.
type Tracker struct {
	delivery delivery.Delivery
	cache    *limits.Cache

	apiKeyID    string
	customerKey string
	onAlert     AlertFunc
	logger      *logging.Logger
}

// New creates a Tracker.
func New(cfg Config) (*Tracker, error) {
	if cfg.Delivery == nil {
		return nil, fmt.Errorf("tracker: delivery is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Tracker{
		delivery:    cfg.Delivery,
		cache:       cfg.Cache,
		apiKeyID:    cfg.APIKeyID,
		customerKey: cfg.ClientCustomerKey,
		onAlert:     cfg.OnAlert,
		logger:      logger.Component("tracker"),
	}, nil
}

// Result reports what Track did with a record.
type Result struct {
	// ResponseID is the record's correlation id, generated when the caller
	// did not supply one.
	ResponseID string

	// Response is the parsed server response. Nil for queue-backed
	// deliveries, which ship asynchronously.
	Response *delivery.TrackResponse
}

// Option customizes a single tracked record.
type Option func(*recordOpts)

type recordOpts struct {
	responseID  string
	timestamp   string
	customerKey string
	hasCustomer bool
	context     map[string]any
}

// WithResponseID sets the record's correlation id instead of generating
// one. Reusing an id makes the ingest idempotent.
func WithResponseID(id string) Option {
	return func(o *recordOpts) { o.responseID = id }
}

// WithTimestamp stamps the record with the given instant instead of now.
func WithTimestamp(t time.Time) Option {
	return func(o *recordOpts) { o.timestamp = usage.FormatTimestamp(t) }
}

// WithTimestampString stamps the record with a pre-formatted timestamp.
// The value is validated and a trailing Z is stripped at build time.
func WithTimestampString(s string) Option {
	return func(o *recordOpts) { o.timestamp = s }
}

// WithCustomerKey scopes the record to an end customer, overriding the
// tracker-level default.
func WithCustomerKey(key string) Option {
	return func(o *recordOpts) {
		o.customerKey = key
		o.hasCustomer = true
	}
}

// WithContext attaches caller metadata to the record.
func WithContext(meta map[string]any) Option {
	return func(o *recordOpts) { o.context = meta }
}

// Track builds a record from the raw usage payload and hands it to the
// delivery. A blocking triggered limit matching the record's scope aborts
// with *UsageLimitExceededError before anything is enqueued.
func (t *Tracker) Track(ctx context.Context, apiID, serviceKey string, payload map[string]any, opts ...Option) (*Result, error) {
	rec, err := t.buildRecord(apiID, serviceKey, payload, opts)
	if err != nil {
		return nil, err
	}
	if err := t.checkLimits(rec); err != nil {
		return nil, err
	}

	resp, err := t.delivery.Enqueue(ctx, rec)
	if err != nil {
		return &Result{ResponseID: rec.ResponseID, Response: resp}, err
	}
	return &Result{ResponseID: rec.ResponseID, Response: resp}, nil
}

// TrackLLMUsage extracts the usage block from a vendor response object
// and tracks it. The response may be the SDK's typed struct, a decoded
// JSON map, or raw bytes; extraction follows the per-vendor rules
// registered for apiID.
func (t *Tracker) TrackLLMUsage(ctx context.Context, apiID, serviceKey string, response any, opts ...Option) (*Result, error) {
	ex, ok := ExtractorFor(apiID)
	if !ok {
		return nil, fmt.Errorf("tracker: no usage extractor registered for api id %q", apiID)
	}
	payload := ex.FromResponse(response)
	if len(payload) == 0 {
		return nil, fmt.Errorf("tracker: no usage found in %s response", apiID)
	}
	return t.Track(ctx, apiID, serviceKey, payload, opts...)
}

// TrackStream wraps a stream of vendor events. The returned sequence is
// lazy: it yields each event to the caller unchanged and, at most once
// per stream, tracks the first event carrying usage. Vendors emit usage
// once per stream (normally on the final event); later matches are
// ignored. Tracking failures are logged, never surfaced mid-stream.
func (t *Tracker) TrackStream(ctx context.Context, apiID, serviceKey string, events iter.Seq[any], opts ...Option) (iter.Seq[any], error) {
	ex, ok := ExtractorFor(apiID)
	if !ok {
		return nil, fmt.Errorf("tracker: no usage extractor registered for api id %q", apiID)
	}

	tracked := false
	return func(yield func(any) bool) {
		for ev := range events {
			if !tracked {
				if payload := ex.FromStreamEvent(ev); len(payload) > 0 {
					tracked = true
					if _, err := t.Track(ctx, apiID, serviceKey, payload, opts...); err != nil {
						t.logger.Warn("failed to track stream usage",
							"api_id", apiID, "error", err)
					}
				}
			}
			if !yield(ev) {
				return
			}
		}
	}, nil
}

// Stats reports the underlying delivery's health.
func (t *Tracker) Stats() delivery.Stats {
	return t.delivery.Stats()
}

// Stop shuts down the underlying delivery.
func (t *Tracker) Stop(ctx context.Context) error {
	return t.delivery.Stop(ctx)
}

// buildRecord assembles a validated usage record from the call.
func (t *Tracker) buildRecord(apiID, serviceKey string, payload map[string]any, opts []Option) (usage.Record, error) {
	var o recordOpts
	for _, opt := range opts {
		opt(&o)
	}

	responseID := o.responseID
	if responseID == "" {
		responseID = usage.NewResponseID()
	}

	timestamp := o.timestamp
	if timestamp == "" {
		timestamp = usage.FormatTimestamp(time.Now())
	} else {
		normalized, err := usage.NormalizeTimestamp(timestamp)
		if err != nil {
			return usage.Record{}, err
		}
		timestamp = normalized
	}

	customerKey := t.customerKey
	if o.hasCustomer {
		customerKey = o.customerKey
	}

	rec := usage.Record{
		APIID:             apiID,
		ServiceKey:        serviceKey,
		ResponseID:        responseID,
		Timestamp:         timestamp,
		Payload:           payload,
		ClientCustomerKey: customerKey,
		Context:           o.context,
	}
	if err := rec.Validate(); err != nil {
		return usage.Record{}, err
	}
	return rec, nil
}

// checkLimits queries the shared cache for limits matching the record's
// scope. Blocking matches abort the call; alert matches are surfaced via
// OnAlert (or logged) and never block.
func (t *Tracker) checkLimits(rec usage.Record) error {
	if t.cache == nil {
		return nil
	}
	matched, err := t.cache.Query(t.apiKeyID, rec.ServiceKey, rec.ClientCustomerKey)
	if err != nil {
		// An unreadable cache must not take tracking down.
		t.logger.Warn("triggered limits check failed", "error", err)
		return nil
	}
	if len(matched) == 0 {
		return nil
	}

	var blocking, alerts []limits.TriggeredLimit
	for _, l := range matched {
		if l.Blocks() {
			blocking = append(blocking, l)
		} else {
			alerts = append(alerts, l)
		}
	}

	if len(alerts) > 0 {
		if t.onAlert != nil {
			t.onAlert(rec, alerts)
		} else {
			t.logger.Warn("usage alert threshold reached",
				"alerts", len(alerts),
				"service_key", rec.ServiceKey,
			)
		}
	}
	if len(blocking) > 0 {
		return &UsageLimitExceededError{Limits: blocking}
	}
	return nil
}
