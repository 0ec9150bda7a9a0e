// Command kometaai classifies a Radarr movie library into Kometa collections
// with an LLM and keeps the collection tags in sync.
//
// Typical use:
//
//	kometaai config init
//	kometaai health
//	kometaai run --dry-run
//	kometaai daemon
package main
