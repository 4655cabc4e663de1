package orchestrator

import (
	"github.com/shelfsync/shelfsync/internal/diff"
	"github.com/shelfsync/shelfsync/internal/domain"
)

// SyncConfig tunes one sync invocation.
type SyncConfig struct {
	// BatchSize is the number of index writes per transaction.
	BatchSize int `json:"batch_size" validate:"gte=0,lte=10000"`
	// EnableAutoScrape enqueues scrape tasks for new and updated comics.
	EnableAutoScrape bool `json:"enable_auto_scrape"`
	// ScrapeUpdated also scrapes comics whose title or cover changed.
	ScrapeUpdated bool `json:"scrape_updated"`
	// MaxConcurrentRoots bounds SyncAllRoots. Zero means one.
	MaxConcurrentRoots int `json:"max_concurrent_roots" validate:"gte=0,lte=64"`
	// MaxScrapeRetries is the attempt budget of enqueued scrape tasks.
	MaxScrapeRetries int `json:"max_scrape_retries" validate:"gte=0,lte=20"`
}

// DefaultSyncConfig returns the configuration used when none is given.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		BatchSize:          diff.DefaultBatchSize,
		EnableAutoScrape:   true,
		ScrapeUpdated:      true,
		MaxConcurrentRoots: 2,
		MaxScrapeRetries:   domain.DefaultMaxRetries,
	}
}

func (c SyncConfig) withDefaults() SyncConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = diff.DefaultBatchSize
	}
	if c.MaxConcurrentRoots <= 0 {
		c.MaxConcurrentRoots = 1
	}
	if c.MaxScrapeRetries <= 0 {
		c.MaxScrapeRetries = domain.DefaultMaxRetries
	}
	return c
}
