package radarr

import "kometaai/internal/catalog"

type movieResource struct {
	ID                int      `json:"id"`
	Title             string   `json:"title"`
	OriginalTitle     string   `json:"originalTitle"`
	Year              int      `json:"year"`
	Overview          string   `json:"overview"`
	Runtime           int      `json:"runtime"`
	Genres            []string `json:"genres"`
	Studio            string   `json:"studio"`
	Tags              []int    `json:"tags"`
	TMDBID            int      `json:"tmdbId"`
	IMDBID            string   `json:"imdbId"`
	Collection        *struct {
		Name  string `json:"name"`
		Title string `json:"title"`
	} `json:"collection"`
	AlternativeTitles []struct {
		Title string `json:"title"`
	} `json:"alternativeTitles"`
}

func (m movieResource) toItem() catalog.Item {
	item := catalog.Item{
		ID:            m.ID,
		Title:         m.Title,
		OriginalTitle: m.OriginalTitle,
		Year:          m.Year,
		Overview:      m.Overview,
		Genres:        m.Genres,
		Studio:        m.Studio,
		Runtime:       m.Runtime,
		TMDBID:        m.TMDBID,
		IMDBID:        m.IMDBID,
		Tags:          m.Tags,
	}
	if m.Collection != nil {
		item.ParentCollection = m.Collection.Title
		if item.ParentCollection == "" {
			item.ParentCollection = m.Collection.Name
		}
	}
	for _, alt := range m.AlternativeTitles {
		if alt.Title != "" {
			item.AlternativeTitles = append(item.AlternativeTitles, alt.Title)
		}
	}
	return item
}
