package scrape

import (
	"context"
	"log/slog"
	"time"

	"github.com/shelfsync/shelfsync/internal/domain"
)

// Observer is told about every scrape task transition, after the queue lock
// is released. Transitions arrive one at a time, in the order the queue made
// them. Implementations must not call back into the Queue.
type Observer interface {
	ScrapeTaskChanged(task domain.ScrapeTask)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(task domain.ScrapeTask)

// ScrapeTaskChanged calls f.
func (f ObserverFunc) ScrapeTaskChanged(task domain.ScrapeTask) { f(task) }

// Journal persists scrape tasks.
type Journal interface {
	SaveScrapeTask(ctx context.Context, task domain.ScrapeTask) error
}

// JournalObserver writes every transition to the task journal.
func JournalObserver(journal Journal, logger *slog.Logger) Observer {
	return ObserverFunc(func(task domain.ScrapeTask) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := journal.SaveScrapeTask(ctx, task); err != nil {
			logger.Error("failed to persist scrape task",
				"task_id", task.ID,
				"status", task.Status,
				"error", err,
			)
		}
	})
}
