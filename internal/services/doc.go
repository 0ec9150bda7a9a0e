// Package services defines shared utilities consumed by the classification
// pipeline and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, collection names, and batch numbers
//     for logging.
//   - Structured error markers plus the Wrap and Categorize helpers that sort
//     failures into transient, resource, validation, configuration, and
//     critical categories.
//   - The Retry decorator and the cooperative Cancellation token.
//
// Use these helpers when wiring new integrations so operational behaviour
// (error handling, observability, retries) stays uniform across the pipeline.
package services
