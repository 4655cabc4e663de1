// Package orchestrator sequences scan, diff, index apply and scrape
// enqueue for library roots.
//
// Roots sync concurrently and each root's pipeline runs sequentially.
// Applying a diff holds a mutex scoped to that root only. A second sync
// request for a busy root fails with a conflict instead of queueing.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shelfsync/shelfsync/internal/diff"
	"github.com/shelfsync/shelfsync/internal/domain"
	"github.com/shelfsync/shelfsync/internal/scanner"
	"github.com/shelfsync/shelfsync/internal/validation"
)

// IndexStore is the persistent comic index.
type IndexStore interface {
	CreateRoot(ctx context.Context, root *domain.LibraryRoot) error
	GetRoot(ctx context.Context, id string) (*domain.LibraryRoot, error)
	ListRoots(ctx context.Context) ([]*domain.LibraryRoot, error)
	UpdateRootPermission(ctx context.Context, id string, p domain.Permission) error
	UpdateRootScanStats(ctx context.Context, id string, scannedAt time.Time) error
	// DeleteRoot cascades to the root's comics and returns their ids.
	DeleteRoot(ctx context.Context, id string) ([]string, error)

	CurrentSnapshot(ctx context.Context, rootID string) (domain.Snapshot, error)
	ApplyDiff(ctx context.Context, rootID string, d *diff.Diff, opts diff.ApplyOptions) (domain.UpdateResult, error)
}

// TaskJournal persists task transitions.
type TaskJournal interface {
	SaveScanTask(ctx context.Context, task domain.ScanTask) error
	DeleteTasksForRoot(ctx context.Context, rootID string) error
}

// ScrapeQueue receives enrichment work.
type ScrapeQueue interface {
	Enqueue(task domain.ScrapeTask) error
	CancelForRoot(rootID string) int
}

// Orchestrator runs sync pipelines.
type Orchestrator struct {
	index     IndexStore
	scanner   scanner.Scanner
	differ    *diff.Differ
	queue     ScrapeQueue
	journal   TaskJournal
	validator *validation.Validator
	cfg       SyncConfig

	running    *SyncMap[string, *run]
	applyLocks *SyncMap[string, *sync.Mutex]
	events     *dispatcher
	logger     *slog.Logger
}

// run is one in-flight sync of one root.
type run struct {
	taskID string
	cancel context.CancelFunc
	done   chan struct{}
}

// Deps are the collaborators of an Orchestrator. Queue may be nil when
// scraping is disabled.
type Deps struct {
	Index   IndexStore
	Scanner scanner.Scanner
	Queue   ScrapeQueue
	Journal TaskJournal
}

// New creates an Orchestrator. cfg is the default for calls that pass none.
func New(deps Deps, cfg SyncConfig, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		index:      deps.Index,
		scanner:    deps.Scanner,
		differ:     diff.NewDiffer(logger),
		queue:      deps.Queue,
		journal:    deps.Journal,
		validator:  validation.New(),
		cfg:        cfg.withDefaults(),
		running:    NewSyncMap[string, *run](),
		applyLocks: NewSyncMap[string, *sync.Mutex](),
		events:     newDispatcher(logger),
		logger:     logger,
	}
}

// AddListener registers l for progress callbacks.
func (o *Orchestrator) AddListener(l ProgressListener) {
	o.events.add(l)
}

// Config returns the default sync configuration.
func (o *Orchestrator) Config() SyncConfig {
	return o.cfg
}

// Close cancels running syncs, waits for them to unwind and flushes
// pending listener events.
func (o *Orchestrator) Close() {
	for _, rootID := range o.running.Keys() {
		if r, ok := o.running.Load(rootID); ok {
			r.cancel()
			<-r.done
		}
	}
	o.events.close()
}

// SyncRoot scans rootID and brings the index up to date.
//
// Errors: RootUnavailable when the root is missing or unreadable, Conflict
// when the root is already syncing, ScanFailure or IndexApplyFailure when
// the pipeline fails, Cancelled when ctx or CancelSync stops it. Scrape
// problems never fail the sync.
func (o *Orchestrator) SyncRoot(ctx context.Context, rootID string, scanType domain.ScanType, cfg *SyncConfig) (*domain.SyncResult, error) {
	return o.sync(ctx, rootID, scanner.Request{Type: scanType}, cfg)
}

// SyncPaths runs an incremental sync limited to the comics containing paths.
func (o *Orchestrator) SyncPaths(ctx context.Context, rootID string, paths []string, cfg *SyncConfig) (*domain.SyncResult, error) {
	return o.sync(ctx, rootID, scanner.Request{Type: domain.ScanIncremental, Paths: paths}, cfg)
}

// CancelSync stops the running sync of rootID, if any, and cancels the
// root's scrape tasks. The scan task becomes CANCELLED once the pipeline
// notices.
func (o *Orchestrator) CancelSync(rootID string) (syncCancelled bool, scrapesCancelled int) {
	if r, ok := o.running.Load(rootID); ok {
		r.cancel()
		syncCancelled = true
	}
	if o.queue != nil {
		scrapesCancelled = o.queue.CancelForRoot(rootID)
	}
	if syncCancelled || scrapesCancelled > 0 {
		o.logger.Info("sync cancelled", "root_id", rootID, "scrapes_cancelled", scrapesCancelled)
	}
	return syncCancelled, scrapesCancelled
}

// IsSyncing reports whether rootID has a sync in flight.
func (o *Orchestrator) IsSyncing(rootID string) bool {
	_, ok := o.running.Load(rootID)
	return ok
}

// RunningTaskID returns the scan task id of rootID's running sync.
func (o *Orchestrator) RunningTaskID(rootID string) (string, bool) {
	r, ok := o.running.Load(rootID)
	if !ok {
		return "", false
	}
	return r.taskID, true
}

func (o *Orchestrator) applyLock(rootID string) *sync.Mutex {
	mu, _ := o.applyLocks.LoadOrStore(rootID, &sync.Mutex{})
	return mu
}

// waitIdle cancels any running sync of rootID and waits until it exits.
func (o *Orchestrator) waitIdle(ctx context.Context, rootID string) error {
	r, ok := o.running.Load(rootID)
	if !ok {
		return nil
	}
	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
