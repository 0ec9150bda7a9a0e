// Package state persists classification decisions between runs.
//
// The Store keeps one JSON document per state directory: decisions keyed by
// "item:<id>" with one entry per collection, plus bounded logs of recent tag
// changes and errors. Save copies the previous document into a timestamped
// backup before atomically replacing it and keeps the newest five backups.
// Load never fails the caller: an unreadable document is replaced by the
// newest readable backup, or by an empty state when none exists.
//
// The Store is not safe for concurrent use beyond its internal locking of
// individual calls; the pipeline reads once at start and writes after every
// batch.
package state
