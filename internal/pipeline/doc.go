// Package pipeline sequences one Kometa-AI run.
//
// A run takes the state-directory lock, loads the decision store, fetches the
// catalog once, then for each enabled collection classifies the items and
// reconciles the collection tag. Every collection is checkpointed to disk
// before the next one starts. Per-collection failures are recorded in the
// store's error log and the run moves on; configuration and authentication
// failures abort the run. A Summary of the run is handed to the notifier
// whatever the outcome.
package pipeline
