package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/shelfsync/shelfsync/internal/config"
	"github.com/shelfsync/shelfsync/internal/logger"
	"github.com/shelfsync/shelfsync/internal/metadata"
	"github.com/shelfsync/shelfsync/internal/scrape"
	"github.com/shelfsync/shelfsync/internal/sse"
)

// ScrapeHandle holds the scrape queue and its worker pool. Both are nil
// when no catalog is configured.
type ScrapeHandle struct {
	Queue *scrape.Queue
	Pool  *scrape.Pool
}

// Shutdown implements do.Shutdownable.
// Running tasks are interrupted and go back to pending in the journal.
func (h *ScrapeHandle) Shutdown() error {
	if h.Pool != nil {
		h.Pool.Stop()
	}
	if h.Queue != nil {
		h.Queue.Close()
	}
	return nil
}

// Enabled reports whether scraping is configured.
func (h *ScrapeHandle) Enabled() bool {
	return h.Queue != nil
}

// ProvideScrapeQueue repairs the task journal, then builds the scrape queue
// and pool and requeues every pending task.
func ProvideScrapeQueue(i do.Injector) (*ScrapeHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	journal := do.MustInvoke[*JournalHandle](i)
	indexHandle := do.MustInvoke[*IndexHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)

	ctx := context.Background()
	pending, err := journal.Recover(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.Scrape.BaseURL == "" {
		log.Info("Metadata scraping disabled, no catalog configured", "pending_tasks", len(pending))
		return &ScrapeHandle{}, nil
	}

	scrapeLog := log.ForComponent("scrape")
	queue := scrape.NewQueue(scrape.QueueOptions{
		RetryBackoff: cfg.Scrape.RetryBackoff,
		Observers: []scrape.Observer{
			scrape.JournalObserver(journal.Store, scrapeLog),
			sse.ScrapeObserver(sseHandle.Manager),
		},
	}, scrapeLog)

	for _, task := range pending {
		if err := queue.Enqueue(task); err != nil {
			log.Warn("Failed to requeue scrape task", "task_id", task.ID, "error", err)
		}
	}

	client := metadata.New(metadata.Options{
		BaseURL: cfg.Scrape.BaseURL,
		SiteURL: cfg.Scrape.SiteURL,
		RPS:     cfg.Scrape.RateLimit,
		Burst:   cfg.Scrape.Burst,
		Timeout: cfg.Scrape.Timeout,
	}, log.ForComponent("catalog"))

	pool := scrape.NewPool(queue, client, indexHandle.Store, scrape.PoolOptions{
		Workers: cfg.Scrape.Workers,
		Timeout: cfg.Scrape.Timeout * 4,
	}, scrapeLog)
	pool.Start()

	log.Info("Scrape pool started",
		"workers", cfg.Scrape.Workers,
		"catalog", cfg.Scrape.BaseURL,
		"requeued", len(pending),
	)

	return &ScrapeHandle{Queue: queue, Pool: pool}, nil
}
