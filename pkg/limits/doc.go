// Package limits maintains the locally cached set of triggered usage
// limits and answers the tracker's pre-check question: do any currently
// active limits match this (api_key_id, service_key, customer_key)?
//
// The server ships limit violations as a signed envelope. The cache
// stores the envelope verbatim in the shared INI file and verifies the
// signature on every read using the embedded public key, so multiple
// processes on one host share a single enforcement view. A Manager
// refreshes the cache from the /triggered-limits endpoint; an optional
// cron-backed RefreshScheduler and an fsnotify Watcher cover periodic
// refresh and cross-process update notification.
package limits
