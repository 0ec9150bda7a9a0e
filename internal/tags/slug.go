package tags

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Prefix marks tags owned by this tool.
const Prefix = "KAI-"

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slug folds accents, lowercases, and collapses every non-alphanumeric run
// into a single hyphen.
func Slug(name string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(folded), "-")
	return strings.Trim(slug, "-")
}

// Label returns the catalog tag label for a collection.
func Label(collectionName string) string {
	return Prefix + Slug(collectionName)
}

// IsManaged reports whether label carries the tool prefix.
func IsManaged(label string) bool {
	return strings.HasPrefix(strings.ToUpper(label), Prefix)
}
