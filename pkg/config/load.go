package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aicostmanager/aicostmanager-go/pkg/inistore"
)

// iniSection is the INI section carrying SDK options.
const iniSection = "tracker"

// Resolve layers configuration under the explicitly-set fields of opts.
// Precedence, highest first: explicit field, [tracker] INI section,
// AICM_* environment variable, YAML file named by AICM_CONFIG, default.
// The resolved options are validated before returning.
func Resolve(opts Options) (*Options, error) {
	// INIPath itself cannot come from the INI file.
	if opts.INIPath == "" {
		opts.INIPath = os.Getenv("AICM_INI_PATH")
	}
	if opts.INIPath == "" {
		opts.INIPath = DefaultINIPath()
	}

	if err := applyINI(&opts); err != nil {
		return nil, err
	}
	applyEnv(&opts)
	if err := applyYAML(&opts); err != nil {
		return nil, err
	}
	ApplyDefaults(&opts)

	if err := Validate(&opts); err != nil {
		return nil, err
	}
	return &opts, nil
}

// applyINI fills unset fields from the shared INI file. A missing file
// is not an error. The API key is deliberately never read from the INI
// file.
func applyINI(o *Options) error {
	store := inistore.New(o.INIPath)
	section, ok, err := store.GetSection(iniSection)
	if err != nil {
		return fmt.Errorf("failed to read [tracker] section: %w", err)
	}
	if ok {
		get := func(key string) string { return section[key] }
		setString(&o.APIBase, get("aicm_api_base"))
		setString(&o.APIURL, get("aicm_api_url"))
		setString(&o.DeliveryType, get("delivery_type"))
		// delivery_manager is the name some sibling SDKs write.
		setString(&o.DeliveryType, get("delivery_manager"))
		setString(&o.DBPath, get("db_path"))
		setDuration(&o.Timeout, get("timeout"))
		setDuration(&o.PollInterval, get("poll_interval"))
		setDuration(&o.BatchInterval, get("batch_interval"))
		setInt(&o.MaxAttempts, get("max_attempts"))
		setInt(&o.MaxRetries, get("max_retries"))
		setInt(&o.QueueSize, get("queue_size"))
		setInt(&o.MaxBatchSize, get("max_batch_size"))
		setBool(&o.LogBodies, get("log_bodies"))
		setString(&o.LimitsFailurePolicy, get("limits_failure_policy"))
		setString(&o.APIKeyID, get("api_key_id"))
		setString(&o.ClientCustomerKey, get("client_customer_key"))
		setString(&o.LogLevel, get("log_level"))
		setString(&o.LogFormat, get("log_format"))
	}

	// Sibling SDKs keep the queue location under its own section.
	delivery, ok, err := store.GetSection("delivery")
	if err != nil {
		return fmt.Errorf("failed to read [delivery] section: %w", err)
	}
	if ok {
		setString(&o.DBPath, delivery["db_path"])
	}
	return nil
}

// applyEnv fills unset fields from AICM_* environment variables.
func applyEnv(o *Options) {
	setString(&o.APIKey, os.Getenv("AICM_API_KEY"))
	setString(&o.APIBase, os.Getenv("AICM_API_BASE"))
	setString(&o.APIURL, os.Getenv("AICM_API_URL"))
	setString(&o.DeliveryType, os.Getenv("AICM_DELIVERY_TYPE"))
	setString(&o.DBPath, os.Getenv("AICM_DELIVERY_DB_PATH"))
	setBool(&o.LogBodies, os.Getenv("AICM_DELIVERY_LOG_BODIES"))
	setString(&o.LimitsFailurePolicy, os.Getenv("AICM_LIMITS_FAILURE_POLICY"))
	setString(&o.LogLevel, os.Getenv("AICM_LOG_LEVEL"))
	setString(&o.LogFormat, os.Getenv("AICM_LOG_FORMAT"))
}

// applyYAML fills unset fields from the YAML file named by AICM_CONFIG,
// when set.
func applyYAML(o *Options) error {
	path := os.Getenv("AICM_CONFIG")
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}
	var fromFile Options
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	setString(&o.APIKey, fromFile.APIKey)
	setString(&o.APIBase, fromFile.APIBase)
	setString(&o.APIURL, fromFile.APIURL)
	setString(&o.DeliveryType, fromFile.DeliveryType)
	setString(&o.DBPath, fromFile.DBPath)
	if o.Timeout <= 0 {
		o.Timeout = fromFile.Timeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = fromFile.PollInterval
	}
	if o.BatchInterval <= 0 {
		o.BatchInterval = fromFile.BatchInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = fromFile.MaxAttempts
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = fromFile.MaxRetries
	}
	if o.QueueSize <= 0 {
		o.QueueSize = fromFile.QueueSize
	}
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = fromFile.MaxBatchSize
	}
	if !o.LogBodies {
		o.LogBodies = fromFile.LogBodies
	}
	setString(&o.LimitsFailurePolicy, fromFile.LimitsFailurePolicy)
	setString(&o.APIKeyID, fromFile.APIKeyID)
	setString(&o.ClientCustomerKey, fromFile.ClientCustomerKey)
	setString(&o.LogLevel, fromFile.LogLevel)
	setString(&o.LogFormat, fromFile.LogFormat)
	return nil
}

func setString(dst *string, val string) {
	if *dst == "" && val != "" {
		*dst = val
	}
}

func setInt(dst *int, val string) {
	if *dst > 0 || val == "" {
		return
	}
	if i, err := strconv.Atoi(val); err == nil {
		*dst = i
	}
}

// setDuration accepts Go duration strings ("10s") and bare seconds
// ("10", "0.5") for compatibility with INI files written by the other
// SDKs.
func setDuration(dst *time.Duration, val string) {
	if *dst > 0 || val == "" {
		return
	}
	if d, err := time.ParseDuration(val); err == nil {
		*dst = d
		return
	}
	if f, err := strconv.ParseFloat(val, 64); err == nil {
		*dst = time.Duration(f * float64(time.Second))
	}
}

func setBool(dst *bool, val string) {
	if *dst || val == "" {
		return
	}
	switch val {
	case "1", "true", "yes", "on", "True", "TRUE", "Yes", "On":
		*dst = true
	}
}
