// Package logging provides structured logging for the SDK.
//
// It wraps log/slog with level and format parsing plus a Redactor that
// masks credential material (authorization headers, API keys) before
// request and response bodies are written to logs. Body logging is
// disabled by default and controlled by AICM_DELIVERY_LOG_BODIES.
package logging
