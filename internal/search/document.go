// Package search provides full-text search over indexed comics using Bleve.
package search

import (
	"github.com/shelfsync/shelfsync/internal/domain"
)

// ComicDocument is the Bleve representation of one comic.
type ComicDocument struct {
	ID           string `json:"id"`
	RootID       string `json:"root_id"`
	Title        string `json:"title"`
	Synopsis     string `json:"synopsis,omitempty"`
	Source       string `json:"source,omitempty"`
	SortKey      string `json:"sort_key"`
	ChapterCount int    `json:"chapter_count"`
	UpdatedAt    int64  `json:"updated_at"` // unix seconds
	Scraped      bool   `json:"scraped"`
}

// ComicToDocument converts a domain comic.
func ComicToDocument(c *domain.Comic) *ComicDocument {
	return &ComicDocument{
		ID:           c.ID,
		RootID:       c.RootID,
		Title:        c.Title,
		Synopsis:     c.Synopsis,
		Source:       c.MetadataSource,
		SortKey:      c.SortKey,
		ChapterCount: c.ChapterCount,
		UpdatedAt:    c.UpdatedAt.Unix(),
		Scraped:      !c.ScrapedAt.IsZero(),
	}
}

// ToMap converts the document to the field names the mapping expects.
// Indexing structs directly would key fields by Go name.
func (d *ComicDocument) ToMap() map[string]any {
	m := map[string]any{
		"id":            d.ID,
		"root_id":       d.RootID,
		"title":         d.Title,
		"sort_key":      d.SortKey,
		"chapter_count": float64(d.ChapterCount),
		"updated_at":    float64(d.UpdatedAt),
		"scraped":       d.Scraped,
	}
	if d.Synopsis != "" {
		m["synopsis"] = d.Synopsis
	}
	if d.Source != "" {
		m["source"] = d.Source
	}
	return m
}
