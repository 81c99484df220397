// Package tracker is the SDK facade: it builds usage records, enforces
// triggered usage limits before enqueue, and hands records to the
// configured delivery strategy.
//
// A Tracker is safe for concurrent use. Track never blocks on network
// I/O for queue-backed deliveries; the immediate strategy ships on the
// caller's goroutine.
package tracker
