// Package usage defines the canonical usage record shipped to the
// ingestion API, along with response-id generation and the timestamp
// normalization rules the server's validator expects.
package usage
