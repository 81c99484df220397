package dispatch

import (
	"encoding/json"
	"fmt"
)

// APIError represents a non-2xx response from the ingestion API.
// It is terminal by design at the call site: the retry policy never
// retries 4xx responses, and 5xx responses surface as APIError only
// after attempts are exhausted.
type APIError struct {
	// StatusCode is the HTTP status code of the response.
	StatusCode int

	// ErrorCode is the top-level "error" field of the JSON error body.
	ErrorCode string

	// Message is the top-level "message" field of the JSON error body.
	Message string

	// Details carries the raw "details" field, when present.
	Details json.RawMessage

	// Body is the raw response body for non-JSON errors.
	Body []byte
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error (status %d): %s: %s", e.StatusCode, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("api error (status %d)", e.StatusCode)
}

// ParseError represents a malformed response body from the API.
type ParseError struct {
	// Body is the raw body that failed to parse.
	Body []byte

	// Cause is the underlying decode error.
	Cause error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed api response: %v", e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// errorBody is the top-level error shape returned by the API.
type errorBody struct {
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
}

// newAPIError builds an APIError from a response body, tolerating
// non-JSON bodies.
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: body}
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.ErrorCode = parsed.Error
		apiErr.Message = parsed.Message
		apiErr.Details = parsed.Details
	}
	return apiErr
}
