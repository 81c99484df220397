// Package config resolves SDK options from explicit values, the shared
// INI file's [tracker] section, AICM_* environment variables, an
// optional YAML file, and built-in defaults, in that precedence order.
package config
