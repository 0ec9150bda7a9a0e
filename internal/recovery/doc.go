// Package recovery extracts a classification payload from free-form model
// output.
//
// Strategies is an ordered list of pure text-to-Response functions. Parse
// tries them in order and returns the first success; when all of them fail
// it returns a *ParseError carrying a preview of the offending text. Nothing
// here performs I/O.
package recovery
