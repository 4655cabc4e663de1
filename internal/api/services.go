package api

import (
	"context"
	"net/http"
	"time"

	"github.com/shelfsync/shelfsync/internal/domain"
	"github.com/shelfsync/shelfsync/internal/orchestrator"
	"github.com/shelfsync/shelfsync/internal/scrape"
	"github.com/shelfsync/shelfsync/internal/search"
	"github.com/shelfsync/shelfsync/internal/store"
	"github.com/shelfsync/shelfsync/internal/trigger"
)

// Syncer is the orchestrator surface the API drives.
type Syncer interface {
	RegisterRoot(ctx context.Context, in orchestrator.RootInput) (*domain.LibraryRoot, error)
	GetRoot(ctx context.Context, rootID string) (*domain.LibraryRoot, error)
	ListRoots(ctx context.Context) ([]*domain.LibraryRoot, error)
	RefreshPermission(ctx context.Context, rootID string, perm domain.Permission) (*domain.LibraryRoot, error)
	DeleteRoot(ctx context.Context, rootID string) error

	SyncRoot(ctx context.Context, rootID string, scanType domain.ScanType, cfg *orchestrator.SyncConfig) (*domain.SyncResult, error)
	SyncPaths(ctx context.Context, rootID string, paths []string, cfg *orchestrator.SyncConfig) (*domain.SyncResult, error)
	SyncAllRoots(ctx context.Context, scanType domain.ScanType, cfg *orchestrator.SyncConfig) ([]*domain.SyncResult, error)
	CancelSync(rootID string) (bool, int)
	RunningTaskID(rootID string) (string, bool)
	Config() orchestrator.SyncConfig
}

// ComicReader reads the comic index.
type ComicReader interface {
	Ping(ctx context.Context) error
	ListComics(ctx context.Context, rootID string) ([]domain.Comic, error)
	GetComic(ctx context.Context, id string) (*domain.Comic, error)
	ListChapters(ctx context.Context, comicID string) ([]domain.Chapter, error)
	ListPages(ctx context.Context, chapterID string) ([]domain.Page, error)
	RootCheckpoint(ctx context.Context, rootID string) (time.Time, error)
}

// TaskReader reads the task journal.
type TaskReader interface {
	Ping() error
	GetScanTask(ctx context.Context, id string) (domain.ScanTask, error)
	ListScanTasks(ctx context.Context, rootID string) ([]domain.ScanTask, error)
	ListScanTasksPage(ctx context.Context, rootID string, params store.PaginationParams) (store.PaginatedResult[domain.ScanTask], error)
	GetScrapeTask(ctx context.Context, id string) (domain.ScrapeTask, error)
	ListScrapeTasks(ctx context.Context, status domain.TaskStatus) ([]domain.ScrapeTask, error)
}

// Searcher queries the full-text comic index.
type Searcher interface {
	Search(ctx context.Context, p search.Params) (*search.Result, error)
	Count() (uint64, error)
}

// QueueStats reports scrape queue counters.
type QueueStats interface {
	Stats() scrape.Stats
}

// TriggerStatus reports the latest triggered runs. Refresh re-reads the
// roots after one is added, removed or loses access.
type TriggerStatus interface {
	LastResults() map[trigger.Origin]trigger.Result
	Refresh(ctx context.Context) error
}

// Subscribers counts connected SSE clients.
type Subscribers interface {
	ClientCount() int
}

// Deps groups everything the handlers use. Syncer and Comics are required;
// the rest may be nil and their endpoints report the feature as unavailable.
type Deps struct {
	Syncer   Syncer
	Comics   ComicReader
	Tasks    TaskReader
	Search   Searcher
	Queue    QueueStats
	Triggers TriggerStatus
	// Events serves GET /api/v1/events; Subscribers feeds the health check.
	Events      http.Handler
	Subscribers Subscribers
}
