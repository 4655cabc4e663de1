package sqlite

import (
	"context"
	"time"

	"github.com/shelfsync/shelfsync/internal/scrape"
)

// ApplyScrape implements scrape.Sink.
func (s *Store) ApplyScrape(ctx context.Context, comicID string, md *scrape.Metadata) error {
	return s.UpdateComicEnrichment(ctx, comicID, Enrichment{
		Synopsis:       md.Synopsis,
		CoverBlurHash:  md.CoverBlurHash,
		RemoteCoverURL: md.RemoteCoverURL,
		MetadataSource: md.Source,
		ScrapedAt:      time.Now(),
	})
}

var _ scrape.Sink = (*Store)(nil)
