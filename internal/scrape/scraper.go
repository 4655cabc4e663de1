// Package scrape holds the enrichment work queue and the worker pool that
// drains it.
//
// Workers take the highest priority pending task, call the Scraper and
// report the outcome back to the Queue, which owns every task transition.
// A single comic's failure never travels further than its own task.
package scrape

import (
	"context"
	"errors"
	"fmt"

	"github.com/shelfsync/shelfsync/internal/domain"
)

// Request is what a Scraper needs to enrich one comic.
type Request struct {
	ComicID    string
	ComicTitle string
	ScrapeType domain.ScrapeType
}

// Metadata is what a Scraper found. Empty fields mean "nothing found".
type Metadata struct {
	Title          string
	Synopsis       string
	RemoteCoverURL string
	CoverBlurHash  string
	Source         string
}

// Scraper fetches enrichment for a comic.
// Errors wrapping ErrPermanent fail the task without further attempts.
type Scraper interface {
	Scrape(ctx context.Context, req Request) (*Metadata, error)
}

// Sink stores scrape results. It returns an error matching
// domainerrors.ErrNotFound when the comic no longer exists.
type Sink interface {
	ApplyScrape(ctx context.Context, comicID string, md *Metadata) error
}

// ErrPermanent marks a scrape failure that another attempt cannot fix,
// such as the catalog not knowing the title.
var ErrPermanent = errors.New("permanent scrape failure")

// Permanent wraps err so IsRetryable reports false for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsRetryable reports whether a failed attempt should be retried.
// Timeouts, transport errors and server errors are retryable;
// permanent errors and caller cancellation are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
