package store

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/shelfsync/shelfsync/internal/domain"
)

// SaveScanTask persists the current value of a scan task.
func (s *Store) SaveScanTask(ctx context.Context, task domain.ScanTask) error {
	return s.ScanTasks.Put(ctx, &task)
}

// GetScanTask returns a scan task by ID.
func (s *Store) GetScanTask(ctx context.Context, id string) (domain.ScanTask, error) {
	t, err := s.ScanTasks.Get(ctx, id)
	if err != nil {
		return domain.ScanTask{}, err
	}
	return *t, nil
}

// ListScanTasks returns the scan history of a root, newest first.
func (s *Store) ListScanTasks(ctx context.Context, rootID string) ([]domain.ScanTask, error) {
	var tasks []domain.ScanTask
	for t, err := range s.ScanTasks.ListByIndex(ctx, "root", rootID) {
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	slices.SortFunc(tasks, func(a, b domain.ScanTask) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return tasks, nil
}

// ListScanTasksPage returns one page of a root's scan history, newest first.
func (s *Store) ListScanTasksPage(ctx context.Context, rootID string, params PaginationParams) (PaginatedResult[domain.ScanTask], error) {
	tasks, err := s.ListScanTasks(ctx, rootID)
	if err != nil {
		return PaginatedResult[domain.ScanTask]{}, err
	}
	return paginate(tasks, params, func(t domain.ScanTask) string { return t.ID })
}

// SaveScrapeTask persists the current value of a scrape task.
func (s *Store) SaveScrapeTask(ctx context.Context, task domain.ScrapeTask) error {
	return s.ScrapeTasks.Put(ctx, &task)
}

// GetScrapeTask returns a scrape task by ID.
func (s *Store) GetScrapeTask(ctx context.Context, id string) (domain.ScrapeTask, error) {
	t, err := s.ScrapeTasks.Get(ctx, id)
	if err != nil {
		return domain.ScrapeTask{}, err
	}
	return *t, nil
}

// ListScrapeTasks returns the scrape tasks in the given status, oldest first.
func (s *Store) ListScrapeTasks(ctx context.Context, status domain.TaskStatus) ([]domain.ScrapeTask, error) {
	var tasks []domain.ScrapeTask
	for t, err := range s.ScrapeTasks.ListByIndex(ctx, "status", string(status)) {
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	slices.SortFunc(tasks, func(a, b domain.ScrapeTask) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return tasks, nil
}

// DeleteTasksForRoot removes the whole journal of a root.
func (s *Store) DeleteTasksForRoot(ctx context.Context, rootID string) error {
	if _, err := s.ScanTasks.DeleteByIndex(ctx, "root", rootID); err != nil {
		return err
	}
	_, err := s.ScrapeTasks.DeleteByIndex(ctx, "root", rootID)
	return err
}

// Recover repairs tasks left running by an unclean shutdown.
// Running scans are failed as interrupted; running scrapes go back to pending
// without being charged a retry. It returns every pending scrape task,
// oldest first, so the caller can requeue them.
func (s *Store) Recover(ctx context.Context) ([]domain.ScrapeTask, error) {
	var scans []domain.ScanTask
	for t, err := range s.ScanTasks.ListByIndex(ctx, "status", string(domain.TaskRunning)) {
		if err != nil {
			return nil, err
		}
		scans = append(scans, *t)
	}
	for _, t := range scans {
		failed, err := t.MarkFailed(errInterrupted)
		if err != nil {
			return nil, err
		}
		if err := s.SaveScanTask(ctx, failed); err != nil {
			return nil, err
		}
	}

	running, err := s.ListScrapeTasks(ctx, domain.TaskRunning)
	if err != nil {
		return nil, err
	}
	for _, t := range running {
		back, err := t.MarkInterrupted()
		if err != nil {
			return nil, err
		}
		if err := s.SaveScrapeTask(ctx, back); err != nil {
			return nil, err
		}
	}

	if s.logger != nil && (len(scans) > 0 || len(running) > 0) {
		s.logger.Warn("recovered interrupted tasks",
			"scans_failed", len(scans),
			"scrapes_requeued", len(running),
		)
	}
	return s.ListScrapeTasks(ctx, domain.TaskPending)
}

// PruneFinished deletes terminal tasks that completed before cutoff.
// Pending and running tasks are never pruned.
func (s *Store) PruneFinished(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	for _, status := range []domain.TaskStatus{domain.TaskCompleted, domain.TaskFailed, domain.TaskCancelled} {
		var scanIDs, scrapeIDs []string
		for t, err := range s.ScanTasks.ListByIndex(ctx, "status", string(status)) {
			if err != nil {
				return removed, err
			}
			if finishedBefore(t.CompletedAt, cutoff) {
				scanIDs = append(scanIDs, t.ID)
			}
		}
		for t, err := range s.ScrapeTasks.ListByIndex(ctx, "status", string(status)) {
			if err != nil {
				return removed, err
			}
			if finishedBefore(t.CompletedAt, cutoff) {
				scrapeIDs = append(scrapeIDs, t.ID)
			}
		}
		for _, id := range scanIDs {
			if err := s.ScanTasks.Delete(ctx, id); err != nil {
				return removed, err
			}
			removed++
		}
		for _, id := range scrapeIDs {
			if err := s.ScrapeTasks.Delete(ctx, id); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

func finishedBefore(completedAt *time.Time, cutoff time.Time) bool {
	return completedAt != nil && completedAt.Before(cutoff)
}
