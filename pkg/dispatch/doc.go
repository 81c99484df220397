// Package dispatch performs the SDK's HTTP calls to the ingestion API.
//
// A Client issues one request at a time with bearer authentication and a
// shared retry policy: exponential backoff with jitter (base 1s, cap 30s),
// retrying network errors, timeouts, and 5xx responses. Any 4xx response
// is terminal and surfaces as an *APIError carrying the parsed error body.
package dispatch
