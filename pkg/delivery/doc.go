// Package delivery queues, batches, ships, and retries usage records.
//
// Three interchangeable strategies implement the same Delivery contract:
//
//   - Immediate: synchronous send on the caller's goroutine with bounded
//     retries; back-pressure lands directly on the caller.
//   - MemQueue: bounded in-memory FIFO with one background worker;
//     explicitly lossy under pressure (drops on full, counts failures,
//     never requeues) to preserve bounded memory.
//   - Persistent: crash-safe at-least-once queue backed by SQLite in WAL
//     mode; rows survive process death and orphaned in-flight rows are
//     reclaimed on startup.
//
// All strategies run enqueues through an optional pre-check hook, share
// one retry policy via pkg/dispatch, and integrate the server's response:
// when a delivery response carries a triggered_limits envelope it is
// persisted through the limits cache so subsequent pre-checks see it.
package delivery
