package state

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"
)

// Validate checks the in-memory document and returns human-readable
// violations. It never fails.
func (s *Store) Validate() []string {
	data, err := s.Dump()
	if err != nil {
		return []string{fmt.Sprintf("state cannot be encoded: %v", err)}
	}
	return ValidateDocument(data)
}

// ValidateFile checks a state document on disk.
func ValidateFile(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return []string{fmt.Sprintf("cannot read %s: %v", path, err)}
	}
	return ValidateDocument(data)
}

// ValidateDocument performs a structural check of raw state JSON without
// decoding it into typed structs, so it can report on damaged files.
func ValidateDocument(data []byte) []string {
	if !gjson.ValidBytes(data) {
		return []string{"document is not valid JSON"}
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return []string{"document root is not an object"}
	}

	var problems []string
	for _, key := range []string{"version", "state_format_version", "last_update", "decisions", "changes", "errors"} {
		if !root.Get(key).Exists() {
			problems = append(problems, fmt.Sprintf("missing required key %q", key))
		}
	}
	if v := root.Get("state_format_version"); v.Exists() {
		if v.Type != gjson.Number {
			problems = append(problems, "state_format_version is not a number")
		} else if v.Int() != FormatVersion {
			problems = append(problems, fmt.Sprintf("state_format_version is %d, expected %d", v.Int(), FormatVersion))
		}
	}
	if d := root.Get("decisions"); d.Exists() && !d.IsObject() {
		problems = append(problems, "decisions is not an object")
	}
	for _, key := range []string{"changes", "errors"} {
		if v := root.Get(key); v.Exists() && !v.IsArray() {
			problems = append(problems, fmt.Sprintf("%s is not an array", key))
		}
	}

	root.Get("decisions").ForEach(func(key, item gjson.Result) bool {
		if _, err := parseItemKey(key.String()); err != nil {
			problems = append(problems, fmt.Sprintf("decision key %q is not of the form item:<id>", key.String()))
		}
		if !item.IsObject() {
			problems = append(problems, fmt.Sprintf("decision %s is not an object", key.String()))
			return true
		}
		if !item.Get("metadata_hash").Exists() {
			problems = append(problems, fmt.Sprintf("decision %s is missing metadata_hash", key.String()))
		}
		collections := item.Get("collections")
		if !collections.IsObject() {
			problems = append(problems, fmt.Sprintf("decision %s collections is not an object", key.String()))
			return true
		}
		collections.ForEach(func(name, c gjson.Result) bool {
			for _, field := range []string{"include", "confidence", "timestamp"} {
				if !c.Get(field).Exists() {
					problems = append(problems, fmt.Sprintf("decision %s collection %q is missing %s", key.String(), name.String(), field))
				}
			}
			if conf := c.Get("confidence"); conf.Exists() && (conf.Type != gjson.Number || conf.Float() < 0 || conf.Float() > 1) {
				problems = append(problems, fmt.Sprintf("decision %s collection %q confidence out of range", key.String(), name.String()))
			}
			return true
		})
		return true
	})
	return problems
}
