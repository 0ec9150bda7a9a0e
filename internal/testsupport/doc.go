// Package testsupport holds fixtures shared by package tests: temp-dir
// configs, an in-memory catalog, and file helpers.
package testsupport
