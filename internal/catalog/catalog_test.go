package catalog

import (
	"testing"
)

func baseItem() Item {
	return Item{
		ID:                7,
		Title:             "The Third Man",
		OriginalTitle:     "The Third Man",
		Year:              1949,
		Overview:          "Pulp novelist Holly Martins travels to postwar Vienna.",
		Genres:            []string{"Thriller", "Mystery"},
		Studio:            "London Films",
		Runtime:           104,
		AlternativeTitles: []string{"Der dritte Mann", "Le Troisième Homme"},
		Tags:              []int{1, 2},
	}
}

func TestContentHashDetectsRelevantChanges(t *testing.T) {
	base := ContentHash(baseItem())
	if len(base) != 64 {
		t.Fatalf("expected hex sha256, got %q", base)
	}

	relevant := []struct {
		name   string
		mutate func(*Item)
	}{
		{"title", func(i *Item) { i.Title = "Third Man" }},
		{"overview", func(i *Item) { i.Overview += " Harry Lime." }},
		{"year", func(i *Item) { i.Year = 1950 }},
		{"genres", func(i *Item) { i.Genres = append(i.Genres, "Film-Noir") }},
		{"studio", func(i *Item) { i.Studio = "Selznick" }},
		{"runtime", func(i *Item) { i.Runtime = 93 }},
		{"alt titles", func(i *Item) { i.AlternativeTitles = nil }},
		{"parent collection", func(i *Item) { i.ParentCollection = "Reed Noir" }},
	}
	for _, tt := range relevant {
		t.Run(tt.name, func(t *testing.T) {
			item := baseItem()
			tt.mutate(&item)
			if ContentHash(item) == base {
				t.Fatalf("expected hash to change when %s changes", tt.name)
			}
		})
	}

	irrelevant := baseItem()
	irrelevant.Tags = []int{9}
	irrelevant.ID = 99
	irrelevant.TMDBID = 1092
	irrelevant.IMDBID = "tt0041959"
	if ContentHash(irrelevant) != base {
		t.Fatal("hash must not depend on tags or identifiers")
	}

	reordered := baseItem()
	reordered.Genres = []string{"Mystery", "Thriller"}
	if ContentHash(reordered) != base {
		t.Fatal("hash must not depend on genre order")
	}
}

func TestSummarizeOmitsRedundantOriginalTitle(t *testing.T) {
	item := baseItem()
	s := Summarize(item)
	if s.OriginalTitle != "" {
		t.Fatalf("expected original title omitted when equal, got %q", s.OriginalTitle)
	}
	item.OriginalTitle = "Der dritte Mann"
	if got := Summarize(item).OriginalTitle; got != "Der dritte Mann" {
		t.Fatalf("original title = %q", got)
	}
	if s.MovieID != 7 || s.RuntimeMinutes != 104 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if Summarize(Item{ID: 1}).Genres == nil {
		t.Fatal("genres should encode as an empty array")
	}
}

func TestItemHasTagAndIndex(t *testing.T) {
	item := baseItem()
	if !item.HasTag(2) || item.HasTag(3) {
		t.Fatalf("HasTag mismatch for %v", item.Tags)
	}
	idx := Index([]Item{item, {ID: 8}})
	if len(idx) != 2 || idx[7].Title != "The Third Man" {
		t.Fatalf("unexpected index: %+v", idx)
	}
}
