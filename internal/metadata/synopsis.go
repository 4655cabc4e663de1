package metadata

import (
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// htmlTagPattern detects the markup catalogs commonly embed in descriptions.
var htmlTagPattern = regexp.MustCompile(`<(p|br|div|span|b|i|strong|em|a|ul|ol|li|h[1-6]|blockquote)[\s>/]`)

// blankLines collapses runs of blank lines left by conversion.
var blankLines = regexp.MustCompile(`\n{3,}`)

// toMarkdown converts an HTML description to Markdown.
// Plain text is returned trimmed and otherwise unchanged.
func toMarkdown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || !htmlTagPattern.MatchString(strings.ToLower(s)) {
		return s
	}

	md, err := htmltomarkdown.ConvertString(s)
	if err != nil {
		return s
	}
	return strings.TrimSpace(blankLines.ReplaceAllString(md, "\n\n"))
}
