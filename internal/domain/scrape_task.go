package domain

import "time"

// ScrapeType selects which enrichment a scrape task performs.
type ScrapeType string

const (
	ScrapeMetadata ScrapeType = "metadata"
	ScrapeCover    ScrapeType = "cover"
	ScrapeFull     ScrapeType = "full"
)

// Valid reports whether t is a known scrape type.
func (t ScrapeType) Valid() bool {
	switch t {
	case ScrapeMetadata, ScrapeCover, ScrapeFull:
		return true
	}
	return false
}

// DefaultMaxRetries is the attempt budget of a new scrape task.
const DefaultMaxRetries = 3

// Priorities assigned by the orchestrator. Higher runs first.
const (
	PriorityNew     = 10
	PriorityUpdated = 5
)

// ScrapeTask is one pending enrichment of one comic.
//
// Like ScanTask, transitions return a new value.
type ScrapeTask struct {
	ID          string     `json:"id"`
	ComicID     string     `json:"comic_id"`
	RootID      string     `json:"root_id"`
	ComicTitle  string     `json:"comic_title"`
	ScrapeType  ScrapeType `json:"scrape_type"`
	Status      TaskStatus `json:"status"`
	Priority    int        `json:"priority"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewScrapeTask returns a pending scrape task with the default retry budget.
func NewScrapeTask(id string, comic *Comic, scrapeType ScrapeType, priority int) ScrapeTask {
	return ScrapeTask{
		ID:         id,
		ComicID:    comic.ID,
		RootID:     comic.RootID,
		ComicTitle: comic.Title,
		ScrapeType: scrapeType,
		Status:     TaskPending,
		Priority:   priority,
		MaxRetries: DefaultMaxRetries,
		CreatedAt:  time.Now(),
	}
}

// MarkStarted moves a pending task to running.
func (t ScrapeTask) MarkStarted() (ScrapeTask, error) {
	if t.Status != TaskPending {
		return t, invalidTransition("scrape", t.ID, t.Status, TaskRunning)
	}
	now := time.Now()
	t.Status = TaskRunning
	t.StartedAt = &now
	return t, nil
}

// MarkCompleted finishes a running task.
func (t ScrapeTask) MarkCompleted() (ScrapeTask, error) {
	if t.Status != TaskRunning {
		return t, invalidTransition("scrape", t.ID, t.Status, TaskCompleted)
	}
	now := time.Now()
	t.Status = TaskCompleted
	t.Error = ""
	t.CompletedAt = &now
	return t, nil
}

// MarkFailed finishes a running task without consuming further retries.
func (t ScrapeTask) MarkFailed(cause error) (ScrapeTask, error) {
	if t.Status != TaskRunning {
		return t, invalidTransition("scrape", t.ID, t.Status, TaskFailed)
	}
	now := time.Now()
	t.Status = TaskFailed
	t.Error = errorString(cause)
	t.CompletedAt = &now
	return t, nil
}

// MarkFailedWithRetry records a failed attempt.
// While attempts remain (retryCount+1 < maxRetries) the task goes back to
// pending with retryCount incremented; otherwise it fails terminally with
// retryCount == maxRetries. CreatedAt is never refreshed.
func (t ScrapeTask) MarkFailedWithRetry(cause error) (ScrapeTask, error) {
	if t.Status != TaskRunning {
		return t, invalidTransition("scrape", t.ID, t.Status, TaskFailed)
	}
	t.Error = errorString(cause)
	if t.RetryCount+1 < t.MaxRetries {
		t.RetryCount++
		t.Status = TaskPending
		t.StartedAt = nil
		return t, nil
	}
	now := time.Now()
	t.RetryCount = t.MaxRetries
	t.Status = TaskFailed
	t.CompletedAt = &now
	return t, nil
}

// MarkCancelled finishes a pending or running task.
func (t ScrapeTask) MarkCancelled() (ScrapeTask, error) {
	if t.Status != TaskPending && t.Status != TaskRunning {
		return t, invalidTransition("scrape", t.ID, t.Status, TaskCancelled)
	}
	now := time.Now()
	t.Status = TaskCancelled
	t.CompletedAt = &now
	return t, nil
}

// MarkInterrupted returns a task found running after a restart to pending.
// The lost attempt is not charged against the retry budget.
func (t ScrapeTask) MarkInterrupted() (ScrapeTask, error) {
	if t.Status != TaskRunning {
		return t, invalidTransition("scrape", t.ID, t.Status, TaskPending)
	}
	t.Status = TaskPending
	t.StartedAt = nil
	return t, nil
}

// Exhausted reports whether the task failed after using every attempt.
func (t ScrapeTask) Exhausted() bool {
	return t.Status == TaskFailed && t.RetryCount >= t.MaxRetries
}
