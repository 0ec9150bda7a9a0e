package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
)

// hashFields lists the classification-relevant fields in a fixed order.
// Tags, identifiers and file details are excluded so tag writes never
// invalidate a cached decision.
type hashFields struct {
	Title             string   `json:"title"`
	OriginalTitle     string   `json:"original_title"`
	Year              int      `json:"year"`
	Overview          string   `json:"overview"`
	Genres            []string `json:"genres"`
	Studio            string   `json:"studio"`
	Runtime           int      `json:"runtime"`
	AlternativeTitles []string `json:"alternative_titles"`
	ParentCollection  string   `json:"parent_collection"`
}

// ContentHash returns a deterministic digest of the item's
// classification-relevant fields.
func ContentHash(item Item) string {
	fields := hashFields{
		Title:             item.Title,
		OriginalTitle:     item.OriginalTitle,
		Year:              item.Year,
		Overview:          item.Overview,
		Genres:            sortedCopy(item.Genres),
		Studio:            item.Studio,
		Runtime:           item.Runtime,
		AlternativeTitles: sortedCopy(item.AlternativeTitles),
		ParentCollection:  item.ParentCollection,
	}
	encoded, _ := json.Marshal(fields)
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

func sortedCopy(values []string) []string {
	out := append([]string{}, values...)
	slices.Sort(out)
	return out
}
