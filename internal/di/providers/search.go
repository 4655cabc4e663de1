package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/shelfsync/shelfsync/internal/config"
	"github.com/shelfsync/shelfsync/internal/domain"
	"github.com/shelfsync/shelfsync/internal/logger"
	"github.com/shelfsync/shelfsync/internal/search"
)

// SearchIndexHandle wraps the search index with shutdown capability.
type SearchIndexHandle struct {
	*search.ComicIndex
}

// Shutdown implements do.Shutdownable.
func (h *SearchIndexHandle) Shutdown() error {
	return h.Close()
}

// ProvideSearchIndex provides the Bleve comic index and wires it to the
// SQLite index so committed writes are searchable.
func ProvideSearchIndex(i do.Injector) (*SearchIndexHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	indexHandle := do.MustInvoke[*IndexHandle](i)

	index, err := search.Open(search.Options{
		DataPath: cfg.Data.SearchPath(),
		Logger:   log.ForComponent("search"),
	})
	if err != nil {
		return nil, err
	}

	indexHandle.SetSearchIndexer(index)

	docCount, _ := index.Count()
	log.Info("Search index initialized", "documents", docCount)

	return &SearchIndexHandle{ComicIndex: index}, nil
}

// TriggerSearchReindexIfNeeded rebuilds the search index in the background
// when it is empty but the comic index is not, e.g. after a mapping change.
func TriggerSearchReindexIfNeeded(i do.Injector) {
	searchHandle := do.MustInvoke[*SearchIndexHandle](i)
	indexHandle := do.MustInvoke[*IndexHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	docCount, _ := searchHandle.Count()
	if docCount > 0 {
		return
	}

	ctx := context.Background()
	roots, err := indexHandle.ListRoots(ctx)
	if err != nil || len(roots) == 0 {
		return
	}

	go func() {
		var comics []domain.Comic
		for _, r := range roots {
			list, err := indexHandle.ListComics(ctx, r.ID)
			if err != nil {
				log.Error("Failed to load comics for reindex", "root_id", r.ID, "error", err)
				return
			}
			comics = append(comics, list...)
		}
		if len(comics) == 0 {
			return
		}

		log.Info("Search index is empty but comics exist, rebuilding", "comic_count", len(comics))
		if err := searchHandle.Reindex(ctx, comics); err != nil {
			log.Error("Initial search reindex failed", "error", err)
		}
	}()
}
