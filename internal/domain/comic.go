package domain

import "time"

// Comic is a top-level series directory inside a root.
// Scan-derived fields are owned by the diff pipeline; enrichment fields
// are owned by the scrape pipeline and survive rescans.
type Comic struct {
	ID           string    `json:"id"`
	RootID       string    `json:"root_id"`
	URI          string    `json:"uri"`
	Title        string    `json:"title"`
	CoverURI     string    `json:"cover_uri,omitempty"`
	ChapterCount int       `json:"chapter_count"`
	SortKey      string    `json:"sort_key"`
	UpdatedAt    time.Time `json:"updated_at"` // last seen by scan

	// Enrichment
	Synopsis       string    `json:"synopsis,omitempty"`
	CoverBlurHash  string    `json:"cover_blurhash,omitempty"`
	RemoteCoverURL string    `json:"remote_cover_url,omitempty"`
	MetadataSource string    `json:"metadata_source,omitempty"`
	ScrapedAt      time.Time `json:"scraped_at,omitzero"`
}

// Chapter is one readable unit of a comic (a folder of images or an archive).
type Chapter struct {
	ID        string    `json:"id"`
	ComicID   string    `json:"comic_id"`
	RootID    string    `json:"root_id"`
	URI       string    `json:"uri"`
	Title     string    `json:"title"`
	PageCount int       `json:"page_count"`
	SortKey   string    `json:"sort_key"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Page is a single image of a chapter.
type Page struct {
	ID        string    `json:"id"`
	ChapterID string    `json:"chapter_id"`
	RootID    string    `json:"root_id"`
	URI       string    `json:"uri"`
	Index     int       `json:"index"`
	MimeType  string    `json:"mime_type"`
	SizeBytes int64     `json:"size_bytes"`
	SortKey   string    `json:"sort_key"`
	UpdatedAt time.Time `json:"updated_at"`
}
