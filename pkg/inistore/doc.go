// Package inistore provides a cross-process-safe key/value store backed by
// a single INI file.
//
// The file is the synchronization point shared by every process on a host
// that uses the SDK: the delivery engine, the triggered-limits cache, and
// the tracker all read and write through it. Writers serialize via an
// advisory file lock on a sibling lock file, and every write replaces the
// file atomically (write-to-temp plus rename) so readers never observe a
// partially written version.
package inistore
