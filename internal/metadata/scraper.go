package metadata

import (
	"context"
	"errors"

	"github.com/shelfsync/shelfsync/internal/domain"
	"github.com/shelfsync/shelfsync/internal/scrape"
)

// Source is recorded on every comic this client enriched.
const Source = "catalog"

// Scrape implements scrape.Scraper.
//
// Not-found and bad-request answers are permanent; everything else,
// including 429 and 5xx, is left retryable. A cover that cannot be
// hashed does not fail the scrape.
func (c *Client) Scrape(ctx context.Context, req scrape.Request) (*scrape.Metadata, error) {
	title, err := c.SearchTitle(ctx, req.ComicTitle)
	if err != nil {
		return nil, classify(err)
	}

	md := &scrape.Metadata{Title: title.Name, Source: Source}
	wantText := req.ScrapeType == domain.ScrapeMetadata || req.ScrapeType == domain.ScrapeFull
	wantCover := req.ScrapeType == domain.ScrapeCover || req.ScrapeType == domain.ScrapeFull

	if wantText {
		md.Synopsis = toMarkdown(title.Description)
	}
	if wantCover {
		md.RemoteCoverURL = c.CoverURL(title)
	}

	if page := c.PageURL(title); page != "" &&
		((wantText && md.Synopsis == "") || (wantCover && md.RemoteCoverURL == "")) {
		og, err := c.fetchOpenGraph(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Debug("open graph fallback failed", "comic_id", req.ComicID, "error", err)
		} else {
			if wantText && md.Synopsis == "" {
				md.Synopsis = og.Description
			}
			if wantCover && md.RemoteCoverURL == "" {
				md.RemoteCoverURL = og.Image
			}
		}
	}

	if wantCover && md.RemoteCoverURL != "" {
		hash, err := c.coverBlurHash(ctx, md.RemoteCoverURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("cover placeholder failed", "comic_id", req.ComicID, "error", err)
		}
		md.CoverBlurHash = hash
	}

	return md, nil
}

func classify(err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrBadRequest) {
		return scrape.Permanent(err)
	}
	return err
}

var _ scrape.Scraper = (*Client)(nil)
