package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Params configures a search.
type Params struct {
	Query   string
	RootIDs []string // empty searches every root
	Source  string   // metadata source filter
	// Scraped filters on enrichment state when non-nil.
	Scraped *bool

	Limit  int
	Offset int

	SortBy string // "relevance" (default), "title", "recent"
	Desc   bool

	Highlight bool
}

// Result is one page of search hits.
type Result struct {
	Query   string       `json:"query"`
	Total   uint64       `json:"total"`
	TookMs  int64        `json:"took_ms"`
	Hits    []Hit        `json:"hits"`
	Sources []FacetCount `json:"sources,omitempty"`
}

// Hit is a matching comic.
type Hit struct {
	ID           string            `json:"id"`
	RootID       string            `json:"root_id"`
	Title        string            `json:"title"`
	Score        float64           `json:"score"`
	ChapterCount int               `json:"chapter_count"`
	Highlights   map[string]string `json:"highlights,omitempty"`
}

// FacetCount is one facet value and its count.
type FacetCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Search runs a query.
func (s *ComicIndex) Search(ctx context.Context, p Params) (*Result, error) {
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	p.Limit = min(p.Limit, maxLimit)
	p.Offset = max(p.Offset, 0)

	req := bleve.NewSearchRequestOptions(buildQuery(p), p.Limit, p.Offset, false)
	req.SortBy(sortOrder(p))
	req.Fields = []string{"id", "root_id", "title", "chapter_count"}
	req.AddFacet("source", bleve.NewFacetRequest("source", 10))
	if p.Highlight && p.Query != "" {
		req.Highlight = bleve.NewHighlight()
		req.Highlight.AddField("title")
	}

	s.mu.RLock()
	res, err := s.index.SearchInContext(ctx, req)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}

	out := &Result{
		Query:  p.Query,
		Total:  res.Total,
		TookMs: res.Took.Milliseconds(),
		Hits:   make([]Hit, 0, len(res.Hits)),
	}
	for _, h := range res.Hits {
		hit := Hit{ID: h.ID, Score: h.Score}
		if v, ok := h.Fields["root_id"].(string); ok {
			hit.RootID = v
		}
		if v, ok := h.Fields["title"].(string); ok {
			hit.Title = v
		}
		if v, ok := h.Fields["chapter_count"].(float64); ok {
			hit.ChapterCount = int(v)
		}
		if len(h.Fragments) > 0 {
			hit.Highlights = make(map[string]string, len(h.Fragments))
			for field, frags := range h.Fragments {
				if len(frags) > 0 {
					hit.Highlights[field] = frags[0]
				}
			}
		}
		out.Hits = append(out.Hits, hit)
	}

	if f, ok := res.Facets["source"]; ok && f.Terms != nil {
		for _, term := range f.Terms.Terms() {
			out.Sources = append(out.Sources, FacetCount{Value: term.Term, Count: term.Count})
		}
	}
	return out, nil
}

func buildQuery(p Params) query.Query {
	var must []query.Query

	if q := strings.TrimSpace(p.Query); q != "" {
		title := bleve.NewMatchQuery(q)
		title.SetField("title")
		title.SetBoost(3.0)

		synopsis := bleve.NewMatchQuery(q)
		synopsis.SetField("synopsis")
		synopsis.SetBoost(0.5)

		fuzzy := bleve.NewFuzzyQuery(strings.ToLower(q))
		fuzzy.SetField("title")
		fuzzy.SetFuzziness(1)
		fuzzy.SetBoost(0.8)

		text := []query.Query{title, synopsis, fuzzy}
		if len(q) >= 2 {
			prefix := bleve.NewPrefixQuery(strings.ToLower(q))
			prefix.SetField("title")
			prefix.SetBoost(0.5)
			text = append(text, prefix)
		}
		must = append(must, bleve.NewDisjunctionQuery(text...))
	}

	if len(p.RootIDs) > 0 {
		roots := make([]query.Query, len(p.RootIDs))
		for i, id := range p.RootIDs {
			tq := bleve.NewTermQuery(id)
			tq.SetField("root_id")
			roots[i] = tq
		}
		must = append(must, bleve.NewDisjunctionQuery(roots...))
	}

	if p.Source != "" {
		tq := bleve.NewTermQuery(p.Source)
		tq.SetField("source")
		must = append(must, tq)
	}

	if p.Scraped != nil {
		bq := bleve.NewBoolFieldQuery(*p.Scraped)
		bq.SetField("scraped")
		must = append(must, bq)
	}

	switch len(must) {
	case 0:
		return bleve.NewMatchAllQuery()
	case 1:
		return must[0]
	default:
		return bleve.NewConjunctionQuery(must...)
	}
}

func sortOrder(p Params) []string {
	dir := ""
	if p.Desc {
		dir = "-"
	}
	switch p.SortBy {
	case "title":
		return []string{dir + "sort_key", dir + "_id"}
	case "recent":
		return []string{dir + "updated_at", dir + "_id"}
	default:
		return []string{"-_score", "_id"}
	}
}
