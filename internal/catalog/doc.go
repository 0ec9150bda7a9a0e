// Package catalog models the media catalog the pipeline classifies: items,
// tags, and the flat capability interface a catalog backend implements.
//
// It also owns the content hash used for change detection and the compact
// item summary sent to the classification model, so both stay in sync with
// the set of fields that influence a classification.
package catalog
