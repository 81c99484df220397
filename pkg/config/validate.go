package config

import "fmt"

// Validate checks the resolved options. The API key is required for
// every delivery strategy; the queue database path is required for the
// persistent strategy but always has a default.
func Validate(o *Options) error {
	if o.APIKey == "" {
		return &MissingConfigurationError{Field: "api_key"}
	}
	switch o.DeliveryType {
	case "immediate", "mem_queue", "persistent_queue":
	default:
		return fmt.Errorf("invalid delivery_type %q", o.DeliveryType)
	}
	switch o.LimitsFailurePolicy {
	case "open", "closed":
	default:
		return fmt.Errorf("invalid limits_failure_policy %q", o.LimitsFailurePolicy)
	}
	switch o.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log_format %q", o.LogFormat)
	}
	return nil
}
