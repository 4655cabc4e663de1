package metadata

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/segmentio/encoding/json"
)

const searchLimit = 10

// Title is one catalog entry, flattened from the API shape.
type Title struct {
	ID          string
	Name        string
	AltNames    []string
	Description string // may contain HTML
	CoverFile   string
	Year        int
	Status      string
}

type searchResponse struct {
	Result string     `json:"result"`
	Data   []rawTitle `json:"data"`
	Total  int        `json:"total"`
}

type rawTitle struct {
	ID         string `json:"id"`
	Attributes struct {
		Title       map[string]string   `json:"title"`
		AltTitles   []map[string]string `json:"altTitles"`
		Description map[string]string   `json:"description"`
		Status      string              `json:"status"`
		Year        int                 `json:"year"`
	} `json:"attributes"`
	Relationships []struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			FileName string `json:"fileName"`
		} `json:"attributes"`
	} `json:"relationships"`
}

// SearchTitle finds the catalog entry for a comic title.
// An entry whose name or alternative name matches exactly (ignoring case
// and punctuation) wins; otherwise the first result is used.
// Returns ErrNotFound when the catalog has no results.
func (c *Client) SearchTitle(ctx context.Context, title string) (*Title, error) {
	q := url.Values{}
	q.Set("title", title)
	q.Set("limit", strconv.Itoa(searchLimit))
	q.Add("includes[]", "cover_art")

	body, err := c.get(ctx, c.opts.BaseURL+"/manga?"+q.Encode(), "application/json")
	if err != nil {
		return nil, wrapError("search", title, err)
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, wrapError("search", title, err)
	}
	if len(resp.Data) == 0 {
		return nil, wrapError("search", title, ErrNotFound)
	}

	results := make([]Title, 0, min(len(resp.Data), searchLimit))
	for _, raw := range resp.Data[:min(len(resp.Data), searchLimit)] {
		results = append(results, flatten(raw))
	}

	want := normalizeKey(title)
	for i := range results {
		if results[i].matches(want) {
			return &results[i], nil
		}
	}
	return &results[0], nil
}

// CoverURL returns the absolute URL of t's cover, or "".
func (c *Client) CoverURL(t *Title) string {
	if t.CoverFile == "" {
		return ""
	}
	return c.opts.CoverBaseURL + "/covers/" + url.PathEscape(t.ID) + "/" + url.PathEscape(t.CoverFile)
}

// PageURL returns the human-facing page of t, or "" without a site.
func (c *Client) PageURL(t *Title) string {
	if c.opts.SiteURL == "" {
		return ""
	}
	return c.opts.SiteURL + "/title/" + url.PathEscape(t.ID)
}

func (t *Title) matches(key string) bool {
	if normalizeKey(t.Name) == key {
		return true
	}
	for _, alt := range t.AltNames {
		if normalizeKey(alt) == key {
			return true
		}
	}
	return false
}

func flatten(raw rawTitle) Title {
	t := Title{
		ID:          raw.ID,
		Name:        pickLocalized(raw.Attributes.Title),
		Description: pickLocalized(raw.Attributes.Description),
		Year:        raw.Attributes.Year,
		Status:      raw.Attributes.Status,
	}
	for _, alt := range raw.Attributes.AltTitles {
		for _, name := range alt {
			t.AltNames = append(t.AltNames, name)
		}
	}
	for _, rel := range raw.Relationships {
		if rel.Type == "cover_art" && rel.Attributes.FileName != "" {
			t.CoverFile = rel.Attributes.FileName
			break
		}
	}
	return t
}

// pickLocalized prefers English, then romanized Japanese, then any value
// in key order so the choice is stable.
func pickLocalized(m map[string]string) string {
	for _, lang := range []string{"en", "ja-ro"} {
		if v := strings.TrimSpace(m[lang]); v != "" {
			return v
		}
	}
	best := ""
	bestKey := ""
	for k, v := range m {
		if strings.TrimSpace(v) == "" {
			continue
		}
		if best == "" || k < bestKey {
			best, bestKey = strings.TrimSpace(v), k
		}
	}
	return best
}

// normalizeKey lowercases s and reduces every run of non-alphanumerics to
// one space.
func normalizeKey(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			prevSpace = false
			continue
		}
		if !prevSpace {
			b.WriteRune(' ')
			prevSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}
