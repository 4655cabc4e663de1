package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/shelfsync/shelfsync/internal/domain"
)

func (s *Server) registerComicRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listComics",
		Method:      http.MethodGet,
		Path:        "/api/v1/roots/{id}/comics",
		Summary:     "List comics",
		Description: "Returns a page of the comics indexed under a root, ordered by sort key",
		Tags:        []string{"Comics"},
	}, s.handleListComics)

	huma.Register(s.api, huma.Operation{
		OperationID: "getComic",
		Method:      http.MethodGet,
		Path:        "/api/v1/comics/{id}",
		Summary:     "Get comic",
		Description: "Returns a comic with its chapters",
		Tags:        []string{"Comics"},
	}, s.handleGetComic)

	huma.Register(s.api, huma.Operation{
		OperationID: "listPages",
		Method:      http.MethodGet,
		Path:        "/api/v1/chapters/{id}/pages",
		Summary:     "List pages",
		Description: "Returns the pages of a chapter in reading order",
		Tags:        []string{"Comics"},
	}, s.handleListPages)
}

// === DTOs ===

// ListComicsInput contains parameters for listing comics.
type ListComicsInput struct {
	ID     string `path:"id" doc:"Root ID"`
	Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Items per page"`
	Offset int    `query:"offset" minimum:"0" doc:"Items to skip"`
}

// ListComicsResponse is one page of comics.
type ListComicsResponse struct {
	Comics []domain.Comic `json:"comics" doc:"Comics on this page"`
	Total  int            `json:"total" doc:"Comics under the root"`
	Offset int            `json:"offset" doc:"Offset of the first item"`
	// Checkpoint is the latest index write under the root. Unchanged
	// checkpoint and total mean a client copy is current.
	Checkpoint time.Time `json:"checkpoint,omitzero" doc:"Latest index write under the root"`
}

// ListComicsOutput wraps the comic page for Huma.
type ListComicsOutput struct {
	Body ListComicsResponse
}

// GetComicInput identifies a comic.
type GetComicInput struct {
	ID string `path:"id" doc:"Comic ID"`
}

// ComicResponse is a comic with its chapters.
type ComicResponse struct {
	domain.Comic
	Chapters []domain.Chapter `json:"chapters" doc:"Chapters in reading order"`
}

// ComicOutput wraps a comic for Huma.
type ComicOutput struct {
	Body ComicResponse
}

// ListPagesInput identifies a chapter.
type ListPagesInput struct {
	ID string `path:"id" doc:"Chapter ID"`
}

// ListPagesOutput wraps a chapter's pages for Huma.
type ListPagesOutput struct {
	Body struct {
		Pages []domain.Page `json:"pages" doc:"Pages in reading order"`
	}
}

// === Handlers ===

func (s *Server) handleListComics(ctx context.Context, input *ListComicsInput) (*ListComicsOutput, error) {
	if _, err := s.deps.Syncer.GetRoot(ctx, input.ID); err != nil {
		return nil, toAPIError(err)
	}

	comics, err := s.deps.Comics.ListComics(ctx, input.ID)
	if err != nil {
		return nil, toAPIError(err)
	}

	checkpoint, err := s.deps.Comics.RootCheckpoint(ctx, input.ID)
	if err != nil {
		return nil, toAPIError(err)
	}

	total := len(comics)
	start := min(input.Offset, total)
	end := min(start+input.Limit, total)

	return &ListComicsOutput{Body: ListComicsResponse{
		Comics:     nonNil(comics[start:end]),
		Total:      total,
		Offset:     start,
		Checkpoint: checkpoint,
	}}, nil
}

func (s *Server) handleGetComic(ctx context.Context, input *GetComicInput) (*ComicOutput, error) {
	comic, err := s.deps.Comics.GetComic(ctx, input.ID)
	if err != nil {
		return nil, toAPIError(err)
	}
	chapters, err := s.deps.Comics.ListChapters(ctx, comic.ID)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &ComicOutput{Body: ComicResponse{Comic: *comic, Chapters: nonNil(chapters)}}, nil
}

func (s *Server) handleListPages(ctx context.Context, input *ListPagesInput) (*ListPagesOutput, error) {
	pages, err := s.deps.Comics.ListPages(ctx, input.ID)
	if err != nil {
		return nil, toAPIError(err)
	}
	out := &ListPagesOutput{}
	out.Body.Pages = nonNil(pages)
	return out, nil
}
