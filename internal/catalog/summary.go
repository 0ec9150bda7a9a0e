package catalog

import "strings"

// Summary is the per-item payload sent to the classification model.
type Summary struct {
	MovieID           int      `json:"movie_id"`
	Title             string   `json:"title"`
	Year              int      `json:"year,omitempty"`
	Genres            []string `json:"genres"`
	Overview          string   `json:"overview"`
	IMDBID            string   `json:"imdb_id,omitempty"`
	TMDBID            int      `json:"tmdb_id,omitempty"`
	Studio            string   `json:"studio,omitempty"`
	RuntimeMinutes    int      `json:"runtime_minutes,omitempty"`
	OriginalTitle     string   `json:"original_title,omitempty"`
	AlternativeTitles []string `json:"alternative_titles,omitempty"`
	Collection        string   `json:"collection,omitempty"`
}

// Summarize builds the model payload for item.
func Summarize(item Item) Summary {
	s := Summary{
		MovieID:           item.ID,
		Title:             item.Title,
		Year:              item.Year,
		Genres:            item.Genres,
		Overview:          item.Overview,
		IMDBID:            item.IMDBID,
		TMDBID:            item.TMDBID,
		Studio:            item.Studio,
		RuntimeMinutes:    item.Runtime,
		AlternativeTitles: item.AlternativeTitles,
		Collection:        item.ParentCollection,
	}
	if s.Genres == nil {
		s.Genres = []string{}
	}
	if item.OriginalTitle != "" && !strings.EqualFold(item.OriginalTitle, item.Title) {
		s.OriginalTitle = item.OriginalTitle
	}
	return s
}

// SummarizeAll maps Summarize over items.
func SummarizeAll(items []Item) []Summary {
	out := make([]Summary, 0, len(items))
	for _, item := range items {
		out = append(out, Summarize(item))
	}
	return out
}
