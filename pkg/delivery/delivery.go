package delivery

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aicostmanager/aicostmanager-go/pkg/limits"
	"github.com/aicostmanager/aicostmanager-go/pkg/telemetry/logging"
	"github.com/aicostmanager/aicostmanager-go/pkg/usage"
)

// Type selects a delivery strategy.
type Type string

const (
	// TypeImmediate ships synchronously on the caller's goroutine.
	TypeImmediate Type = "immediate"

	// TypeMemQueue buffers in a bounded in-memory queue (lossy).
	TypeMemQueue Type = "mem_queue"

	// TypePersistentQueue buffers in a crash-safe SQLite queue.
	TypePersistentQueue Type = "persistent_queue"
)

// ParseType parses a delivery strategy name.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeImmediate, TypeMemQueue, TypePersistentQueue:
		return Type(s), nil
	default:
		return "", fmt.Errorf("unsupported delivery type %q", s)
	}
}

// PrecheckFunc runs before a record is buffered or shipped. Returning an
// error aborts the enqueue; the error is surfaced to the caller
// unchanged. The tracker installs its usage-limit pre-check here.
type PrecheckFunc func(ctx context.Context, rec usage.Record) error

// Stats is a point-in-time snapshot of a delivery's health.
type Stats struct {
	// Queued is the number of records waiting to ship.
	Queued int

	// InFlight is the number of records claimed by a worker but not yet
	// acknowledged (persistent strategy only).
	InFlight int

	// TotalSent counts records confirmed by the server.
	TotalSent int64

	// TotalFailed counts records dropped, exhausted, or terminally failed.
	TotalFailed int64

	// LastError is the most recent delivery error, if any.
	LastError string

	// WorkerAlive reports whether the background worker is running.
	WorkerAlive bool
}

// Delivery is the contract shared by all three strategies.
type Delivery interface {
	// Enqueue hands one record to the engine for shipment. The immediate
	// strategy returns the parsed server response; queue strategies
	// return nil on acceptance.
	Enqueue(ctx context.Context, rec usage.Record) (*TrackResponse, error)

	// Deliver ships a pre-built batch, bypassing any queue.
	Deliver(ctx context.Context, recs []usage.Record) (*TrackResponse, error)

	// Stop initiates graceful shutdown and blocks until in-flight work
	// completes or is durably persisted. Stop is idempotent.
	Stop(ctx context.Context) error

	// Stats reports the delivery's current health.
	Stats() Stats

	// Type identifies the strategy.
	Type() Type
}

// Config is the shared configuration for every delivery strategy.
// Zero values take the documented defaults.
type Config struct {
	// APIKey is the bearer credential for the ingestion endpoint. Required.
	APIKey string

	// APIBase is the server origin. Default: "https://aicostmanager.com".
	APIBase string

	// APIURL is the versioned path prefix. Default: "/api/v1".
	APIURL string

	// Endpoint is the track endpoint path. Default: "/track".
	Endpoint string

	// BodyKey is the batch body key matching the server contract.
	// Default: "tracked".
	BodyKey string

	// UserAgent identifies the SDK. Default: "aicostmanager-go".
	UserAgent string

	// Timeout is the per-request HTTP timeout. Default: 10s.
	Timeout time.Duration

	// MaxAttempts bounds attempts for one POST. Default: 3.
	MaxAttempts int

	// MaxRetries bounds delivery attempts per persistent row before it is
	// marked failed. Default: 5.
	MaxRetries int

	// PollInterval is the persistent worker's idle sleep. Default: 1s.
	PollInterval time.Duration

	// BatchInterval is how long a worker waits to fill a batch.
	// Default: 500ms.
	BatchInterval time.Duration

	// QueueSize bounds the in-memory queue. Default: 10000.
	QueueSize int

	// MaxBatchSize bounds records per POST for the in-memory queue.
	// Default: 1000.
	MaxBatchSize int

	// PickBatchSize bounds rows the persistent worker claims per cycle,
	// and so the size of its POST batches. Default: 100.
	PickBatchSize int

	// DBPath locates the persistent queue database. Required for the
	// persistent strategy.
	DBPath string

	// ReclaimThreshold is the age after which an orphaned processing row
	// is demoted back to queued. Default: 5m.
	ReclaimThreshold time.Duration

	// DrainCap bounds the shutdown drain loop. Default: 100 passes.
	DrainCap int

	// LogBodies enables redacted request/response body logging.
	LogBodies bool

	// Precheck runs before buffering each enqueued record.
	Precheck PrecheckFunc

	// Cache receives triggered_limits envelopes carried by delivery
	// responses.
	Cache *limits.Cache

	// Logger receives delivery logs. Defaults to logging.Default().
	Logger *logging.Logger

	// Metrics receives delivery metrics. Optional; nil disables.
	Metrics *Metrics

	// HTTPClient overrides the HTTP client, mainly for tests.
	HTTPClient *http.Client
}

// withDefaults returns a copy with unset fields defaulted.
func (c Config) withDefaults() Config {
	if c.APIBase == "" {
		c.APIBase = "https://aicostmanager.com"
	}
	if c.APIURL == "" {
		c.APIURL = "/api/v1"
	}
	if c.Endpoint == "" {
		c.Endpoint = "/track"
	}
	if c.BodyKey == "" {
		c.BodyKey = "tracked"
	}
	if c.UserAgent == "" {
		c.UserAgent = "aicostmanager-go"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = 500 * time.Millisecond
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 10000
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 1000
	}
	if c.PickBatchSize <= 0 {
		c.PickBatchSize = 100
	}
	if c.ReclaimThreshold <= 0 {
		c.ReclaimThreshold = 5 * time.Minute
	}
	if c.DrainCap <= 0 {
		c.DrainCap = 100
	}
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	return c
}

// New creates a delivery of the given strategy.
func New(typ Type, cfg Config) (Delivery, error) {
	switch typ {
	case TypeImmediate:
		return NewImmediate(cfg)
	case TypeMemQueue:
		return NewMemQueue(cfg)
	case TypePersistentQueue:
		return NewPersistent(cfg)
	default:
		return nil, fmt.Errorf("unsupported delivery type %q", typ)
	}
}
