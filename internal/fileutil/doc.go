// Package fileutil provides atomic writes and verified copies for the
// durable state document and its backups.
package fileutil
