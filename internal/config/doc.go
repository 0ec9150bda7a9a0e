// Package config loads, normalizes, and validates kometaai configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// RADARR_API_KEY and ANTHROPIC_API_KEY. The Config type centralizes every knob
// the pipeline and CLI need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
