package config

import "fmt"

// MissingConfigurationError reports a required option that no layer
// provided.
type MissingConfigurationError struct {
	// Field is the option's name, e.g. "api_key".
	Field string
}

func (e *MissingConfigurationError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", e.Field)
}
