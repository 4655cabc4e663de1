package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfsync/shelfsync/internal/domain"
	domainerrors "github.com/shelfsync/shelfsync/internal/errors"
	"github.com/shelfsync/shelfsync/internal/id"
	"github.com/shelfsync/shelfsync/internal/scrape"
	"github.com/shelfsync/shelfsync/internal/store"
	"github.com/shelfsync/shelfsync/internal/store/sqlite"
)

var (
	_ IndexStore  = (*sqlite.Store)(nil)
	_ ScrapeQueue = (*scrape.Queue)(nil)
	_ TaskJournal = (*store.Store)(nil)
)

func TestSyncRoot_EndToEndScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.addRoot(t, "manga", true)

	// {A:[Ch1]}
	env.scanner.set(root.ID, snapshotOf(root, comicDir{dir: "A", chapters: []string{"Ch1"}}))
	res, err := env.orch.SyncRoot(ctx, root.ID, domain.ScanFull, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counts.NewComics)
	require.Len(t, env.queue.take(), 1)

	// {A:[Ch1,Ch2], B:[Ch1]}
	env.scanner.set(root.ID, snapshotOf(root,
		comicDir{dir: "A", chapters: []string{"Ch1", "Ch2"}},
		comicDir{dir: "B", chapters: []string{"Ch1"}},
	))
	res, err = env.orch.SyncRoot(ctx, root.ID, domain.ScanFull, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counts.NewComics)
	assert.Equal(t, 0, res.Counts.UpdatedComics, "a chapter-count change is a refresh")
	assert.Equal(t, 2, res.Counts.NewChapters)
	assert.Equal(t, 0, res.Counts.DeletedComics)
	assert.Equal(t, domain.TaskCompleted, res.ScanTask.Status)
	assert.Equal(t, 100, res.ScanTask.Progress)

	tasks := env.queue.take()
	require.Len(t, tasks, 1)
	assert.Equal(t, id.Comic(root.URI+"/B"), tasks[0].ComicID)
	assert.Equal(t, domain.ScrapeFull, tasks[0].ScrapeType)
	assert.Equal(t, domain.PriorityNew, tasks[0].Priority)
	assert.Equal(t, []string{tasks[0].ID}, res.ScrapeTaskIDs)

	a, err := env.index.GetComic(ctx, id.Comic(root.URI+"/A"))
	require.NoError(t, err)
	assert.Equal(t, 2, a.ChapterCount)

	// A retitled
	env.scanner.set(root.ID, snapshotOf(root,
		comicDir{dir: "A", title: "A Remastered", chapters: []string{"Ch1", "Ch2"}},
		comicDir{dir: "B", chapters: []string{"Ch1"}},
	))
	res, err = env.orch.SyncRoot(ctx, root.ID, domain.ScanFull, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counts.UpdatedComics)

	tasks = env.queue.take()
	require.Len(t, tasks, 1)
	assert.Equal(t, a.ID, tasks[0].ComicID)
	assert.Equal(t, "A Remastered", tasks[0].ComicTitle)
	assert.Equal(t, domain.ScrapeMetadata, tasks[0].ScrapeType)
	assert.Less(t, tasks[0].Priority, domain.PriorityNew)

	stored, err := env.index.GetRoot(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.ComicCount)
	assert.False(t, stored.LastScannedAt.IsZero())
}

func TestSyncRoot_DeletesVanishedComic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.addRoot(t, "manga", true)

	env.scanner.set(root.ID, snapshotOf(root,
		comicDir{dir: "A", chapters: []string{"Ch1", "Ch2"}},
		comicDir{dir: "B", chapters: []string{"Ch1"}},
	))
	_, err := env.orch.SyncRoot(ctx, root.ID, domain.ScanFull, nil)
	require.NoError(t, err)

	env.scanner.set(root.ID, snapshotOf(root, comicDir{dir: "B", chapters: []string{"Ch1"}}))
	res, err := env.orch.SyncRoot(ctx, root.ID, domain.ScanFull, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counts.DeletedComics)
	assert.Equal(t, 2, res.Counts.DeletedChapters)
	assert.Equal(t, 2, res.Counts.DeletedPages)
	assert.Empty(t, res.ScrapeTaskIDs, "deleted comics are never scraped")

	snap, err := env.index.CurrentSnapshot(ctx, root.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Comics, 1)
	assert.Len(t, snap.Chapters, 1)
	assert.Len(t, snap.Pages, 1)
}

func TestSyncRoot_OrphanCleanup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.addRoot(t, "manga", true)
	tree := snapshotOf(root,
		comicDir{dir: "A", chapters: []string{"Ch1", "Ch2"}},
		comicDir{dir: "B", chapters: []string{"Ch1"}},
	)
	env.scanner.set(root.ID, tree)
	_, err := env.orch.SyncRoot(ctx, root.ID, domain.ScanFull, nil)
	require.NoError(t, err)

	// A's row goes away without a diff, leaving its chapters and pages behind
	comicA := id.Comic(root.URI + "/A")
	env.execOutOfBand(t, `DELETE FROM comics WHERE id = ?`, comicA)
	snap, err := env.index.CurrentSnapshot(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, snap.Comics, 1)
	require.Len(t, snap.Chapters, 3, "dangling chapters are still indexed")

	tests := []struct {
		name         string
		scanType     domain.ScanType
		wantChapters int
		wantPages    int
	}{
		{"incremental leaves orphans alone", domain.ScanIncremental, 0, 0},
		{"full sweeps orphans", domain.ScanFull, 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.scanner.set(root.ID, snapshotOf(root, comicDir{dir: "B", chapters: []string{"Ch1"}}), id.Comic(root.URI+"/B"))
			res, err := env.orch.SyncRoot(ctx, root.ID, tt.scanType, nil)
			require.NoError(t, err)
			assert.Zero(t, res.Counts.DeletedComics)
			assert.Equal(t, tt.wantChapters, res.Counts.DeletedChapters)
			assert.Equal(t, tt.wantPages, res.Counts.DeletedPages)
		})
	}

	snap, err = env.index.CurrentSnapshot(ctx, root.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Comics, 1)
	assert.Len(t, snap.Chapters, 1)
	assert.Len(t, snap.Pages, 1)
	for _, ch := range snap.Chapters {
		assert.NotEqual(t, comicA, ch.ComicID)
	}
}

func TestSyncRoot_ApplyFailureKeepsCommittedBatches(t *testing.T) {
	env := newTestEnv(t)
	listener := &recordingListener{}
	env.orch.AddListener(listener)
	ctx := context.Background()
	root := env.addRoot(t, "manga", true)

	errDiskFull := errors.New("database or disk is full")
	env.index.failApplyAfter = 1
	env.index.failApply = errDiskFull

	// 1 comic + 3 chapters + 3 pages, two writes per batch
	env.scanner.set(root.ID, snapshotOf(root, comicDir{dir: "A", chapters: []string{"1", "2", "3"}}))
	cfg := DefaultSyncConfig()
	cfg.BatchSize = 2
	res, err := env.orch.SyncRoot(ctx, root.ID, domain.ScanFull, &cfg)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrIndexApplyFailure), "got %v", err)
	assert.ErrorIs(t, err, errDiskFull)
	assert.False(t, env.orch.IsSyncing(root.ID))

	snap, err := env.index.CurrentSnapshot(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Len(), "the first batch stays committed")
	assert.Empty(t, env.queue.take(), "a failed sync enqueues no scrapes")

	require.Len(t, env.journal.last, 1)
	for taskID := range env.journal.last {
		task, history := env.journal.task(taskID)
		assert.Equal(t, []domain.TaskStatus{domain.TaskPending, domain.TaskRunning, domain.TaskFailed}, history)
		assert.Contains(t, task.Error, "disk is full")
	}

	// a rerun finishes what the failed one left
	env.index.mu.Lock()
	env.index.failApply = nil
	env.index.mu.Unlock()
	res, err = env.orch.SyncRoot(ctx, root.ID, domain.ScanFull, &cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Counts.NewComics)
	snap, err = env.index.CurrentSnapshot(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, snap.Len())

	env.orch.Close()
	require.Len(t, listener.failures, 1)
	assert.ErrorIs(t, listener.failures[0], errDiskFull)
	assert.Contains(t, listener.events, "sync_failed")
}

func TestSyncRoot_IncrementalKeepsOutOfScope(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.addRoot(t, "manga", true)

	env.scanner.set(root.ID, snapshotOf(root,
		comicDir{dir: "A", chapters: []string{"Ch1"}},
		comicDir{dir: "B", chapters: []string{"Ch1"}},
	))
	_, err := env.orch.SyncRoot(ctx, root.ID, domain.ScanFull, nil)
	require.NoError(t, err)

	// only B was rescanned and it gained a chapter; A is absent but out of scope
	scanned := snapshotOf(root, comicDir{dir: "B", chapters: []string{"Ch1", "Ch2"}})
	env.scanner.set(root.ID, scanned, scanned.Comics[0].ID)
	res, err := env.orch.SyncPaths(ctx, root.ID, []string{"/library/manga/B/Ch2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ScanIncremental, res.ScanTask.ScanType)
	assert.Equal(t, 0, res.Counts.DeletedComics)
	assert.Equal(t, 1, res.Counts.NewChapters)

	comics, err := env.index.ListComics(ctx, root.ID)
	require.NoError(t, err)
	assert.Len(t, comics, 2)

	env.scanner.mu.Lock()
	last := env.scanner.calls[len(env.scanner.calls)-1]
	env.scanner.mu.Unlock()
	assert.Equal(t, []string{"/library/manga/B/Ch2"}, last.Paths)
}

func TestSyncRoot_RootUnavailable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.addRoot(t, "manga", true)

	_, err := env.orch.RefreshPermission(ctx, root.ID, domain.Permission{CanRead: true, Persisted: false})
	require.NoError(t, err)

	tests := []struct {
		name   string
		rootID string
	}{
		{"missing root", "root-missing"},
		{"permission not persisted", root.ID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.orch.SyncRoot(ctx, tt.rootID, domain.ScanFull, nil)
			require.Error(t, err)
			assert.True(t, domainerrors.Is(err, domainerrors.ErrRootUnavailable), "got %v", err)
		})
	}
	assert.Empty(t, env.journal.last, "an unavailable root never gets a scan task")
}

func TestSyncRoot_ScanFailure(t *testing.T) {
	env := newTestEnv(t)
	listener := &recordingListener{}
	env.orch.AddListener(listener)
	root := env.addRoot(t, "manga", true)
	env.scanner.fail(root.ID, errors.New("device unmounted"))

	_, err := env.orch.SyncRoot(context.Background(), root.ID, domain.ScanFull, nil)
	require.Error(t, err)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrScanFailure))
	assert.False(t, env.orch.IsSyncing(root.ID))

	require.Len(t, env.journal.last, 1)
	for taskID := range env.journal.last {
		task, history := env.journal.task(taskID)
		assert.Equal(t, []domain.TaskStatus{domain.TaskPending, domain.TaskRunning, domain.TaskFailed}, history)
		assert.Contains(t, task.Error, "device unmounted")
	}

	env.orch.Close()
	assert.Equal(t, []string{"scan_started", "sync_failed"}, listener.events)
}

func TestSyncRoot_ConflictAndCancel(t *testing.T) {
	env := newTestEnv(t)
	root := env.addRoot(t, "manga", true)
	env.scanner.block = make(chan struct{})

	type outcome struct {
		res *domain.SyncResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := env.orch.SyncRoot(context.Background(), root.ID, domain.ScanFull, nil)
		done <- outcome{res, err}
	}()
	<-env.scanner.started

	_, err := env.orch.SyncRoot(context.Background(), root.ID, domain.ScanFull, nil)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrConflict), "got %v", err)
	require.True(t, env.orch.IsSyncing(root.ID))
	taskID, ok := env.orch.RunningTaskID(root.ID)
	require.True(t, ok)

	syncCancelled, _ := env.orch.CancelSync(root.ID)
	assert.True(t, syncCancelled)

	select {
	case out := <-done:
		assert.Nil(t, out.res)
		assert.True(t, domainerrors.Is(out.err, domainerrors.ErrCancelled), "got %v", out.err)
	case <-time.After(5 * time.Second):
		t.Fatal("sync did not stop after cancel")
	}

	task, _ := env.journal.task(taskID)
	assert.Equal(t, domain.TaskCancelled, task.Status)
	assert.Contains(t, env.queue.cancelled, root.ID)
	assert.False(t, env.orch.IsSyncing(root.ID))

	// the root is free again
	env.scanner.mu.Lock()
	env.scanner.block = nil
	env.scanner.mu.Unlock()
	_, err = env.orch.SyncRoot(context.Background(), root.ID, domain.ScanFull, nil)
	assert.NoError(t, err)
}

func TestSyncRoot_ProgressAndEventOrder(t *testing.T) {
	env := newTestEnv(t)
	listener := &recordingListener{}
	env.orch.AddListener(listener)
	root := env.addRoot(t, "manga", true)

	env.scanner.set(root.ID, snapshotOf(root,
		comicDir{dir: "A", chapters: []string{"1", "2", "3"}},
		comicDir{dir: "B", chapters: []string{"1"}},
		comicDir{dir: "C", chapters: []string{"1", "2"}},
	))
	cfg := DefaultSyncConfig()
	cfg.BatchSize = 2
	_, err := env.orch.SyncRoot(context.Background(), root.ID, domain.ScanFull, &cfg)
	require.NoError(t, err)

	env.orch.Close()

	assert.Equal(t, []string{
		"scan_started", "scan_progress", "indexing_started", "indexing_progress",
		"scrape_started", "sync_completed",
	}, listener.events)
	assert.IsNonDecreasing(t, listener.progress)
	assert.Equal(t, 100, listener.progress[len(listener.progress)-1])
	require.Len(t, listener.results, 1)
	assert.Len(t, listener.results[0].ScrapeTaskIDs, 3)
}

func TestSyncRoot_ScrapePolicy(t *testing.T) {
	tests := []struct {
		name      string
		cfg       SyncConfig
		rejectAll error
		wantTasks int
		wantErrs  int
	}{
		{"auto scrape off", SyncConfig{EnableAutoScrape: false}, nil, 0, 0},
		{"new only", SyncConfig{EnableAutoScrape: true, ScrapeUpdated: false}, nil, 1, 0},
		{"new and updated", SyncConfig{EnableAutoScrape: true, ScrapeUpdated: true}, nil, 2, 0},
		{"queue closed", SyncConfig{EnableAutoScrape: true, ScrapeUpdated: true}, scrape.ErrClosed, 0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			root := env.addRoot(t, "manga", true)

			env.scanner.set(root.ID, snapshotOf(root, comicDir{dir: "A", chapters: []string{"1"}}))
			_, err := env.orch.SyncRoot(ctx, root.ID, domain.ScanFull, &SyncConfig{})
			require.NoError(t, err)
			env.queue.take()
			env.queue.rejectAll = tt.rejectAll

			env.scanner.set(root.ID, snapshotOf(root,
				comicDir{dir: "A", title: "A (new edition)", chapters: []string{"1"}},
				comicDir{dir: "B", chapters: []string{"1"}},
			))
			res, err := env.orch.SyncRoot(ctx, root.ID, domain.ScanFull, &tt.cfg)
			require.NoError(t, err, "scrape problems never fail a sync")
			assert.Len(t, res.ScrapeTaskIDs, tt.wantTasks)
			assert.Equal(t, tt.wantErrs, res.ScrapeEnqueueErrors)
			assert.Len(t, env.queue.take(), tt.wantTasks)
		})
	}
}

func TestSyncRoot_InvalidScanType(t *testing.T) {
	env := newTestEnv(t)
	root := env.addRoot(t, "manga", true)

	_, err := env.orch.SyncRoot(context.Background(), root.ID, domain.ScanType("partial"), nil)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrValidation))
}
