// Package tags maps collections onto catalog tags and reconciles membership.
//
// Slug and Label derive the "KAI-<slug>" tag label for a collection name.
// Manager caches catalog tags by lowercase label and creates missing ones on
// first use. Reconcile computes the set difference between desired and actual
// membership and issues one add or remove per affected item.
package tags
