// Package metadata is the HTTP catalog client used to enrich comics with a
// synopsis and cover. It implements scrape.Scraper.
package metadata

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shelfsync/shelfsync/internal/ratelimit"
)

const (
	defaultRPS     = 2.0
	defaultBurst   = 4
	defaultTimeout = 15 * time.Second

	// Responses above this are refused; covers are the largest payload.
	maxBodyBytes = 16 << 20

	userAgent = "shelfsync/1.0"
)

// Options configures a Client.
type Options struct {
	BaseURL string // catalog API root
	// CoverBaseURL serves cover files. Defaults to BaseURL.
	CoverBaseURL string
	// SiteURL serves human-facing title pages whose Open Graph tags fill
	// gaps in API data. Empty disables the fallback.
	SiteURL string

	RPS     float64
	Burst   int
	Timeout time.Duration
}

// Client is a rate-limited catalog client.
type Client struct {
	http    *http.Client
	limiter *ratelimit.KeyedRateLimiter
	opts    Options
	logger  *slog.Logger
}

// New creates a catalog client.
func New(opts Options, logger *slog.Logger) *Client {
	if opts.RPS <= 0 {
		opts.RPS = defaultRPS
	}
	if opts.Burst <= 0 {
		opts.Burst = defaultBurst
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.CoverBaseURL == "" {
		opts.CoverBaseURL = opts.BaseURL
	}
	opts.CoverBaseURL = strings.TrimRight(opts.CoverBaseURL, "/")
	opts.SiteURL = strings.TrimRight(opts.SiteURL, "/")

	return &Client{
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: ratelimit.New(opts.RPS, opts.Burst),
		opts:    opts,
		logger:  logger,
	}
}

// Close releases resources held by the client.
func (c *Client) Close() {
	c.limiter.Stop()
}

// get fetches rawURL, waiting on the limiter of its host first.
func (c *Client) get(ctx context.Context, rawURL, accept string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	if err := c.limiter.Wait(ctx, u.Host); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)

	c.logger.Debug("catalog request", "host", u.Host, "path", u.Path)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusBadRequest:
		return nil, ErrBadRequest
	case resp.StatusCode >= 500:
		return nil, ErrServer
	default:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}
