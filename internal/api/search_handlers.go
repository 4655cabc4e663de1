package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	domainerrors "github.com/shelfsync/shelfsync/internal/errors"
	"github.com/shelfsync/shelfsync/internal/search"
)

func (s *Server) registerSearchRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "searchComics",
		Method:      http.MethodGet,
		Path:        "/api/v1/search",
		Summary:     "Search comics",
		Description: "Full-text search over comic titles and synopses with root, source and enrichment filters",
		Tags:        []string{"Search"},
	}, s.handleSearch)
}

// SearchInput contains search parameters.
type SearchInput struct {
	Query     string `query:"q" maxLength:"200" doc:"Search text; empty matches every comic"`
	Roots     string `query:"roots" doc:"Comma-separated root IDs"`
	Source    string `query:"source" doc:"Metadata source filter"`
	Scraped   string `query:"scraped" enum:"true,false," doc:"Filter on enrichment state"`
	Sort      string `query:"sort" default:"relevance" enum:"relevance,title,recent" doc:"Sort order"`
	Desc      bool   `query:"desc" doc:"Reverse the sort order"`
	Highlight bool   `query:"highlight" doc:"Return highlighted title fragments"`
	Limit     int    `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Results per page"`
	Offset    int    `query:"offset" minimum:"0" doc:"Results to skip"`
}

// SearchOutput wraps the search result for Huma.
type SearchOutput struct {
	Body *search.Result
}

func (s *Server) handleSearch(ctx context.Context, input *SearchInput) (*SearchOutput, error) {
	if s.deps.Search == nil {
		return nil, toAPIError(domainerrors.Internalf("search index not configured"))
	}

	p := search.Params{
		Query:     input.Query,
		Source:    input.Source,
		SortBy:    input.Sort,
		Desc:      input.Desc,
		Highlight: input.Highlight,
		Limit:     input.Limit,
		Offset:    input.Offset,
	}
	for id := range strings.SplitSeq(input.Roots, ",") {
		if id = strings.TrimSpace(id); id != "" {
			p.RootIDs = append(p.RootIDs, id)
		}
	}
	if input.Scraped != "" {
		scraped := input.Scraped == "true"
		p.Scraped = &scraped
	}

	res, err := s.deps.Search.Search(ctx, p)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &SearchOutput{Body: res}, nil
}
