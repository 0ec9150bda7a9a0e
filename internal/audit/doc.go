// Package audit stores the free-text analysis produced by borderline
// refinement calls. The decision store keeps only the terse verdict; the
// long rationale lives here in SQLite, keyed by item and collection.
package audit
