package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shelfsync/shelfsync/internal/diff"
	"github.com/shelfsync/shelfsync/internal/domain"
	domainerrors "github.com/shelfsync/shelfsync/internal/errors"
	"github.com/shelfsync/shelfsync/internal/id"
	"github.com/shelfsync/shelfsync/internal/scanner"
)

// Progress bands: scanning fills the first half, applying the second.
const (
	scanBand  = 50
	applyBase = 50
)

func (o *Orchestrator) sync(ctx context.Context, rootID string, req scanner.Request, override *SyncConfig) (*domain.SyncResult, error) {
	cfg := o.cfg
	if override != nil {
		cfg = override.withDefaults()
	}
	if !req.Type.Valid() {
		return nil, domainerrors.Validationf("unknown scan type %q", req.Type)
	}

	root, err := o.index.GetRoot(ctx, rootID)
	if err != nil {
		if domainerrors.Is(err, domainerrors.ErrNotFound) {
			return nil, domainerrors.RootUnavailablef("root %s does not exist", rootID)
		}
		return nil, fmt.Errorf("load root %s: %w", rootID, err)
	}
	if !root.Scannable() {
		return nil, domainerrors.RootUnavailablef("root %s is not readable", rootID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	task := domain.NewScanTask(id.MustGenerate(id.PrefixScanTask), rootID, req.Type)
	r := &run{taskID: task.ID, cancel: cancel, done: make(chan struct{})}
	if _, loaded := o.running.LoadOrStore(rootID, r); loaded {
		cancel()
		return nil, domainerrors.Conflictf("root %s is already syncing", rootID)
	}
	defer func() {
		CompareAndDelete(o.running, rootID, r)
		cancel()
		close(r.done)
	}()

	p := &pipeline{
		o:    o,
		root: root,
		cfg:  cfg,
		req:  req,
		task: task,
		log:  o.logger.With("root_id", rootID, "task_id", task.ID, "scan_type", req.Type),
	}
	return p.execute(runCtx)
}

// pipeline is the state of one sync run.
type pipeline struct {
	o    *Orchestrator
	root *domain.LibraryRoot
	cfg  SyncConfig
	req  scanner.Request
	log  *slog.Logger

	mu   sync.Mutex // guards task; scanner progress arrives concurrently
	task domain.ScanTask
}

func (p *pipeline) execute(ctx context.Context) (*domain.SyncResult, error) {
	rootID := p.root.ID
	p.save(ctx)

	if err := p.transition(domain.ScanTask.MarkStarted); err != nil {
		return nil, err
	}
	p.save(ctx)
	p.log.Info("sync started", "paths", len(p.req.Paths))
	started := p.current()
	p.o.events.emit(false, func(l ProgressListener) { l.OnScanStarted(started) })

	scanned, err := p.o.scanner.ScanRoot(ctx, p.root, p.req, p.onScanProgress)
	if err != nil {
		return p.fail(ctx, domainerrors.ScanFailure(err))
	}
	if len(scanned.Errors) > 0 {
		p.log.Warn("scan finished with unreadable paths",
			"count", len(scanned.Errors),
			"unverified", len(scanned.Unverified))
		for _, se := range scanned.Errors {
			p.log.Debug("unreadable path", "path", se.Path, "error", se.Err)
		}
	}

	previous, err := p.o.index.CurrentSnapshot(ctx, rootID)
	if err != nil {
		return p.fail(ctx, domainerrors.IndexApplyFailure(err))
	}

	d, err := p.o.differ.ComputeDiff(ctx, rootID, diff.Input{
		Previous:   previous,
		Scanned:    scanned.Snapshot,
		ScanType:   p.req.Type,
		Scope:      scanned.Scope,
		Unverified: scanned.Unverified,
	})
	if err != nil {
		return p.fail(ctx, domainerrors.IndexApplyFailure(err))
	}

	p.setProgress(applyBase)
	indexing := p.current()
	writes := d.Ops()
	p.o.events.emit(false, func(l ProgressListener) { l.OnIndexingStarted(indexing, writes) })

	counts, err := p.apply(ctx, d)
	if err != nil {
		p.log.Warn("index apply stopped", "committed", counts, "error", err)
		return p.fail(ctx, domainerrors.IndexApplyFailure(err))
	}

	// Stats are bookkeeping; the applied diff stands even if this fails.
	if err := p.o.index.UpdateRootScanStats(context.WithoutCancel(ctx), rootID, time.Now()); err != nil {
		p.log.Warn("failed to update root scan stats", "error", err)
	}

	counters := domain.ScanCounters{
		FoundComics: len(scanned.Snapshot.Comics),
		NewChapters: counts.NewChapters,
		NewPages:    counts.NewPages,
	}
	if err := p.transition(func(t domain.ScanTask) (domain.ScanTask, error) { return t.MarkCompleted(counters) }); err != nil {
		return nil, err
	}
	p.save(ctx)

	result := domain.SyncResult{
		ScanTask:      p.current(),
		Counts:        counts,
		ScrapeTaskIDs: []string{},
	}
	switch {
	case !p.cfg.EnableAutoScrape || p.o.queue == nil:
	case ctx.Err() != nil:
		// cancelled after the index was written; the root's scrapes are
		// being cancelled too
		p.log.Info("scrape enqueue skipped", "error", ctx.Err())
	default:
		result.ScrapeTaskIDs, result.ScrapeEnqueueErrors = p.enqueueScrapes(d)
	}

	enqueued := len(result.ScrapeTaskIDs)
	p.o.events.emit(false, func(l ProgressListener) { l.OnScrapeStarted(result.ScanTask, enqueued) })
	p.o.events.emit(false, func(l ProgressListener) { l.OnSyncCompleted(result) })

	p.log.Info("sync completed",
		"found_comics", counters.FoundComics,
		"new_comics", counts.NewComics,
		"updated_comics", counts.UpdatedComics,
		"deleted_comics", counts.DeletedComics,
		"new_chapters", counts.NewChapters,
		"deleted_chapters", counts.DeletedChapters,
		"new_pages", counts.NewPages,
		"deleted_pages", counts.DeletedPages,
		"scrapes_enqueued", enqueued,
	)
	return &result, nil
}

// apply writes d under the root's apply lock.
func (p *pipeline) apply(ctx context.Context, d *diff.Diff) (domain.UpdateResult, error) {
	lock := p.o.applyLock(p.root.ID)
	lock.Lock()
	defer lock.Unlock()

	return p.o.index.ApplyDiff(ctx, p.root.ID, d, diff.ApplyOptions{
		BatchSize: p.cfg.BatchSize,
		OnBatch: func(applied, total int) {
			if total <= 0 {
				return
			}
			if task, changed := p.setProgress(applyBase + applied*(100-applyBase)/total); changed {
				p.o.events.emit(true, func(l ProgressListener) { l.OnIndexingProgress(task) })
			}
		},
	})
}

// enqueueScrapes queues new comics at high priority and, when enabled,
// retitled or re-covered comics at lower priority. Refreshed and deleted
// comics are never scraped.
func (p *pipeline) enqueueScrapes(d *diff.Diff) (ids []string, failed int) {
	ids = make([]string, 0, len(d.Comics.Creates)+len(d.Comics.Updates))

	enqueue := func(c *domain.Comic, scrapeType domain.ScrapeType, priority int) {
		task := domain.NewScrapeTask(id.MustGenerate(id.PrefixScrapeTask), c, scrapeType, priority)
		task.MaxRetries = p.cfg.MaxScrapeRetries
		if err := p.o.queue.Enqueue(task); err != nil {
			failed++
			p.log.Warn("failed to enqueue scrape", "comic_id", c.ID, "error", err)
			return
		}
		ids = append(ids, task.ID)
	}

	for i := range d.Comics.Creates {
		enqueue(&d.Comics.Creates[i], domain.ScrapeFull, domain.PriorityNew)
	}
	if p.cfg.ScrapeUpdated {
		for i := range d.Comics.Updates {
			enqueue(&d.Comics.Updates[i], domain.ScrapeMetadata, domain.PriorityUpdated)
		}
	}
	return ids, failed
}

func (p *pipeline) onScanProgress(pr scanner.Progress) {
	if task, changed := p.setProgress(pr.Percent() * scanBand / 100); changed {
		item := pr.CurrentItem
		p.o.events.emit(true, func(l ProgressListener) { l.OnScanProgress(task, item) })
	}
}

// fail finishes the task as FAILED, or CANCELLED when ctx is done.
func (p *pipeline) fail(ctx context.Context, cause error) (*domain.SyncResult, error) {
	err := cause
	cancelled := ctx.Err() != nil
	if cancelled {
		err = domainerrors.Cancelled(ctx.Err())
	}

	terr := p.transition(func(t domain.ScanTask) (domain.ScanTask, error) {
		if cancelled {
			return t.MarkCancelled()
		}
		return t.MarkFailed(cause)
	})
	if terr != nil {
		return nil, terr
	}
	p.save(ctx)

	if cancelled {
		p.log.Info("sync cancelled")
	} else {
		p.log.Error("sync failed", "error", cause)
	}

	task := p.current()
	p.o.events.emit(false, func(l ProgressListener) { l.OnSyncFailed(task, err) })
	return nil, err
}

func (p *pipeline) current() domain.ScanTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.task
}

// transition applies a state change. An illegal one is a bug: it is
// logged at error level and returned as is.
func (p *pipeline) transition(next func(domain.ScanTask) (domain.ScanTask, error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, err := next(p.task)
	if err != nil {
		p.log.Error("illegal scan task transition", "status", p.task.Status, "error", err)
		return err
	}
	p.task = t
	return nil
}

// setProgress raises the task's progress. Late or lower reports are
// dropped by the task itself; changed reports whether anything moved.
func (p *pipeline) setProgress(percent int) (domain.ScanTask, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, err := p.task.UpdateProgress(percent)
	if err != nil || t.Progress == p.task.Progress {
		return p.task, false
	}
	p.task = t
	return t, true
}

// save persists the current task. Terminal states must land even when
// ctx is already cancelled.
func (p *pipeline) save(ctx context.Context) {
	if p.o.journal == nil {
		return
	}
	if err := p.o.journal.SaveScanTask(context.WithoutCancel(ctx), p.current()); err != nil {
		p.log.Warn("failed to persist scan task", "error", err)
	}
}
