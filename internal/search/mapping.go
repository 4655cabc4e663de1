package search

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
)

// buildIndexMapping creates the mapping for comic documents.
// Titles use the simple analyzer: comic names are often romanized and
// stemming them does more harm than good.
func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = en.AnalyzerName

	docMapping := bleve.NewDocumentMapping()

	titleField := bleve.NewTextFieldMapping()
	titleField.Analyzer = simple.Name
	titleField.Store = true
	titleField.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt("title", titleField)

	// Synopsis is searchable but too large to store.
	synopsisField := bleve.NewTextFieldMapping()
	synopsisField.Analyzer = en.AnalyzerName
	synopsisField.Store = false
	docMapping.AddFieldMappingsAt("synopsis", synopsisField)

	for _, name := range []string{"id", "root_id", "source", "sort_key"} {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		f.Store = true
		docMapping.AddFieldMappingsAt(name, f)
	}

	for _, name := range []string{"chapter_count", "updated_at"} {
		f := bleve.NewNumericFieldMapping()
		f.Store = true
		docMapping.AddFieldMappingsAt(name, f)
	}

	scrapedField := bleve.NewBooleanFieldMapping()
	scrapedField.Store = true
	docMapping.AddFieldMappingsAt("scraped", scrapedField)

	indexMapping.AddDocumentMapping("_default", docMapping)
	return indexMapping
}
