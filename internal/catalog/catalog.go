package catalog

import "context"

// Item is a catalog entry narrowed to the fields classification reads plus
// its mutable tag set.
type Item struct {
	ID                int      `json:"id"`
	Title             string   `json:"title"`
	OriginalTitle     string   `json:"originalTitle,omitempty"`
	Year              int      `json:"year,omitempty"`
	Overview          string   `json:"overview,omitempty"`
	Genres            []string `json:"genres,omitempty"`
	Studio            string   `json:"studio,omitempty"`
	Runtime           int      `json:"runtime,omitempty"`
	AlternativeTitles []string `json:"alternativeTitles,omitempty"`
	ParentCollection  string   `json:"parentCollection,omitempty"`
	TMDBID            int      `json:"tmdbId,omitempty"`
	IMDBID            string   `json:"imdbId,omitempty"`
	Tags              []int    `json:"tags,omitempty"`
}

// HasTag reports whether the item carries tagID.
func (i Item) HasTag(tagID int) bool {
	for _, id := range i.Tags {
		if id == tagID {
			return true
		}
	}
	return false
}

// Tag is a catalog label.
type Tag struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
}

// Service is the capability set a catalog backend exposes. Implementations
// must make AddTag and RemoveTag idempotent.
type Service interface {
	ListItems(ctx context.Context) ([]Item, error)
	GetItem(ctx context.Context, id int) (Item, error)
	ListTags(ctx context.Context) ([]Tag, error)
	CreateTag(ctx context.Context, label string) (Tag, error)
	AddTag(ctx context.Context, itemID, tagID int) error
	RemoveTag(ctx context.Context, itemID, tagID int) error
}

// HealthChecker is implemented by backends that can report reachability.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// TagDeleter is implemented by backends that can remove tag definitions.
type TagDeleter interface {
	DeleteTag(ctx context.Context, tagID int) error
}

// Index maps item IDs to items.
func Index(items []Item) map[int]Item {
	out := make(map[int]Item, len(items))
	for _, item := range items {
		out[item.ID] = item
	}
	return out
}
