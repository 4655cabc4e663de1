package search

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/shelfsync/shelfsync/internal/domain"
	"github.com/shelfsync/shelfsync/internal/store"
)

// mappingVersion changes whenever buildIndexMapping does; a mismatch on
// open rebuilds the index from scratch.
const mappingVersion = "comics-1"

const batchSize = 500

// ComicIndex wraps a Bleve index of comics.
// All methods are safe for concurrent use.
type ComicIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string // empty for in-memory
	logger *slog.Logger
}

// Options configures the index.
type Options struct {
	DataPath string // directory; empty keeps the index in memory
	Logger   *slog.Logger
}

// Open creates or opens the comic index.
// A corrupt or outdated index is removed and recreated empty; the caller
// repopulates it with Reindex.
func Open(opts Options) (*ComicIndex, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if opts.DataPath == "" {
		index, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create memory index: %w", err)
		}
		return &ComicIndex{index: index, logger: logger}, nil
	}

	indexPath := filepath.Join(opts.DataPath, "comics.bleve")
	versionPath := filepath.Join(opts.DataPath, "comics.version")

	var index bleve.Index
	if _, err := os.Stat(indexPath); err == nil {
		existing, readErr := os.ReadFile(versionPath)
		switch {
		case readErr != nil || string(existing) != mappingVersion:
			logger.Info("search mapping changed, rebuilding", "old_version", string(existing), "new_version", mappingVersion)
		default:
			index, err = bleve.Open(indexPath)
			if err != nil {
				logger.Warn("failed to open search index, recreating", "path", indexPath, "error", err)
				index = nil
			}
		}
	}

	if index == nil {
		if err := os.RemoveAll(indexPath); err != nil {
			return nil, fmt.Errorf("remove old index: %w", err)
		}
		created, err := bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
		if err := os.WriteFile(versionPath, []byte(mappingVersion), 0o644); err != nil {
			logger.Warn("failed to write search version file", "error", err)
		}
		logger.Info("created search index", "path", indexPath, "mapping_version", mappingVersion)
		index = created
	}

	return &ComicIndex{index: index, path: indexPath, logger: logger}, nil
}

// Close releases the index.
func (s *ComicIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

// IndexComics adds or replaces comics in chunks of batchSize.
func (s *ComicIndex) IndexComics(ctx context.Context, comics []domain.Comic) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for start := 0; start < len(comics); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+batchSize, len(comics))

		batch := s.index.NewBatch()
		for i := start; i < end; i++ {
			doc := ComicToDocument(&comics[i])
			if err := batch.Index(doc.ID, doc.ToMap()); err != nil {
				return fmt.Errorf("batch index %s: %w", doc.ID, err)
			}
		}
		if err := s.index.Batch(batch); err != nil {
			return fmt.Errorf("commit batch %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// DeleteComics removes comics by id. Unknown ids are ignored.
func (s *ComicIndex) DeleteComics(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	batch := s.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return s.index.Batch(batch)
}

// Count returns the number of indexed comics.
func (s *ComicIndex) Count() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.DocCount()
}

// Reindex drops every document and indexes comics afresh.
// Used at startup when the index was recreated.
func (s *ComicIndex) Reindex(ctx context.Context, comics []domain.Comic) error {
	if err := s.reset(); err != nil {
		return err
	}
	if err := s.IndexComics(ctx, comics); err != nil {
		return err
	}
	s.logger.Info("search index rebuilt", "comics", len(comics))
	return nil
}

func (s *ComicIndex) reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}

	var (
		index bleve.Index
		err   error
	)
	if s.path == "" {
		index, err = bleve.NewMemOnly(buildIndexMapping())
	} else {
		if err := os.RemoveAll(s.path); err != nil {
			return fmt.Errorf("remove index: %w", err)
		}
		index, err = bleve.New(s.path, buildIndexMapping())
	}
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	s.index = index
	return nil
}

var _ store.SearchIndexer = (*ComicIndex)(nil)
