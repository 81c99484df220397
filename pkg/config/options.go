package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default values for configuration fields.
const (
	DefaultAPIBase       = "https://aicostmanager.com"
	DefaultAPIURL        = "/api/v1"
	DefaultDeliveryType  = "persistent_queue"
	DefaultTimeout       = 10 * time.Second
	DefaultPollInterval  = time.Second
	DefaultBatchInterval = 500 * time.Millisecond
	DefaultMaxAttempts   = 3
	DefaultMaxRetries    = 5
	DefaultQueueSize     = 10000
	DefaultMaxBatchSize  = 1000
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "json"
	DefaultLimitsPolicy  = "open"
)

// Options holds every SDK knob. Zero values mean "not set"; Resolve
// fills them from the lower-precedence layers and defaults.
type Options struct {
	// APIKey is the bearer credential. Never read from the INI file.
	APIKey string `yaml:"api_key"`

	// APIBase is the server origin.
	APIBase string `yaml:"api_base"`

	// APIURL is the versioned path prefix.
	APIURL string `yaml:"api_url"`

	// INIPath locates the shared INI file.
	INIPath string `yaml:"ini_path"`

	// DeliveryType selects the delivery strategy:
	// immediate, mem_queue, or persistent_queue.
	DeliveryType string `yaml:"delivery_type"`

	// DBPath locates the persistent queue database.
	DBPath string `yaml:"db_path"`

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration `yaml:"timeout"`

	// PollInterval is the persistent worker's idle sleep.
	PollInterval time.Duration `yaml:"poll_interval"`

	// BatchInterval is how long a queue worker waits to fill a batch.
	BatchInterval time.Duration `yaml:"batch_interval"`

	// MaxAttempts bounds attempts for one POST.
	MaxAttempts int `yaml:"max_attempts"`

	// MaxRetries bounds delivery attempts per persistent row.
	MaxRetries int `yaml:"max_retries"`

	// QueueSize bounds the in-memory queue.
	QueueSize int `yaml:"queue_size"`

	// MaxBatchSize bounds records per POST.
	MaxBatchSize int `yaml:"max_batch_size"`

	// LogBodies enables redacted request/response body logging.
	LogBodies bool `yaml:"log_bodies"`

	// LimitsFailurePolicy is "open" or "closed".
	LimitsFailurePolicy string `yaml:"limits_failure_policy"`

	// APIKeyID scopes triggered-limit checks to this key's UUID.
	APIKeyID string `yaml:"api_key_id"`

	// ClientCustomerKey is the default end-customer scope.
	ClientCustomerKey string `yaml:"client_customer_key"`

	// LogLevel is debug, info, warn, or error.
	LogLevel string `yaml:"log_level"`

	// LogFormat is json or text.
	LogFormat string `yaml:"log_format"`
}

// DefaultINIPath returns the conventional shared INI location,
// $HOME/.config/aicostmanager/AICM.INI.
func DefaultINIPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "AICM.INI")
	}
	return filepath.Join(home, ".config", "aicostmanager", "AICM.INI")
}

// DefaultDBPath returns the conventional queue database location beside
// the INI file.
func DefaultDBPath(iniPath string) string {
	return filepath.Join(filepath.Dir(iniPath), "delivery_queue.db")
}

// ApplyDefaults fills unset fields with the documented defaults.
func ApplyDefaults(o *Options) {
	if o.APIBase == "" {
		o.APIBase = DefaultAPIBase
	}
	if o.APIURL == "" {
		o.APIURL = DefaultAPIURL
	}
	if o.INIPath == "" {
		o.INIPath = DefaultINIPath()
	}
	if o.DeliveryType == "" {
		o.DeliveryType = DefaultDeliveryType
	}
	if o.DBPath == "" {
		o.DBPath = DefaultDBPath(o.INIPath)
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.BatchInterval <= 0 {
		o.BatchInterval = DefaultBatchInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = DefaultMaxBatchSize
	}
	if o.LimitsFailurePolicy == "" {
		o.LimitsFailurePolicy = DefaultLimitsPolicy
	}
	if o.LogLevel == "" {
		o.LogLevel = DefaultLogLevel
	}
	if o.LogFormat == "" {
		o.LogFormat = DefaultLogFormat
	}
}
