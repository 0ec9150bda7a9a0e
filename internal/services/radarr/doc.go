// Package radarr implements catalog.Service against the Radarr v3 REST API.
//
// Requests carry the X-Api-Key header and a per-request timeout. HTTP status
// failures map onto the services error markers (400 validation, 401/403
// critical, 404 not found, 409 conflict, 5xx transient) through APIError.
// Only connection and timeout failures are retried. Tag mutations read the
// full movie document and PUT it back so fields this package does not model
// survive the round trip.
package radarr
