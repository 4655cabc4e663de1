package store

import (
	"context"

	"github.com/shelfsync/shelfsync/internal/domain"
)

// SearchIndexer keeps the full-text index in step with committed index writes.
// It is set after store creation because the search service is built later.
type SearchIndexer interface {
	IndexComics(ctx context.Context, comics []domain.Comic) error
	DeleteComics(ctx context.Context, comicIDs []string) error
}

// NoopSearchIndexer is a no-op implementation for testing.
type NoopSearchIndexer struct{}

// IndexComics is a no-op.
func (NoopSearchIndexer) IndexComics(context.Context, []domain.Comic) error { return nil }

// DeleteComics is a no-op.
func (NoopSearchIndexer) DeleteComics(context.Context, []string) error { return nil }

// NewNoopSearchIndexer creates a new no-op search indexer for testing.
func NewNoopSearchIndexer() SearchIndexer {
	return NoopSearchIndexer{}
}
