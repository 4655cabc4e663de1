package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shelfsync/shelfsync/internal/diff"
	"github.com/shelfsync/shelfsync/internal/domain"
	"github.com/shelfsync/shelfsync/internal/id"
	"github.com/shelfsync/shelfsync/internal/scanner"
	"github.com/shelfsync/shelfsync/internal/sortkey"
	"github.com/shelfsync/shelfsync/internal/store/sqlite"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// comicDir is one comic directory of a fake tree.
type comicDir struct {
	dir      string
	title    string // defaults to dir
	chapters []string
}

func snapshotOf(root *domain.LibraryRoot, comics ...comicDir) domain.Snapshot {
	var s domain.Snapshot
	seen := time.Now().UTC().Truncate(time.Second)
	for _, cd := range comics {
		title := cd.title
		if title == "" {
			title = cd.dir
		}
		comicURI := root.URI + "/" + cd.dir
		comic := domain.Comic{
			ID: id.Comic(comicURI), RootID: root.ID, URI: comicURI, Title: title,
			ChapterCount: len(cd.chapters), SortKey: sortkey.Key(title), UpdatedAt: seen,
		}
		s.Comics = append(s.Comics, comic)

		for _, ch := range cd.chapters {
			chapterURI := comicURI + "/" + ch
			chapter := domain.Chapter{
				ID: id.Chapter(chapterURI), ComicID: comic.ID, RootID: root.ID, URI: chapterURI,
				Title: ch, PageCount: 1, SortKey: sortkey.Key(ch), UpdatedAt: seen,
			}
			s.Chapters = append(s.Chapters, chapter)

			pageURI := chapterURI + "/001.png"
			s.Pages = append(s.Pages, domain.Page{
				ID: id.Page(pageURI), ChapterID: chapter.ID, RootID: root.ID, URI: pageURI,
				MimeType: "image/png", SizeBytes: 10, SortKey: sortkey.Key("001.png"), UpdatedAt: seen,
			})
		}
	}
	return s
}

// fakeScanner serves canned results per root.
type fakeScanner struct {
	mu      sync.Mutex
	results map[string]*scanner.Result
	errs    map[string]error
	calls   []scanner.Request

	block   chan struct{} // when set, ScanRoot waits for it or ctx
	started chan string
}

func newFakeScanner() *fakeScanner {
	return &fakeScanner{
		results: make(map[string]*scanner.Result),
		errs:    make(map[string]error),
		started: make(chan string, 16),
	}
}

func (f *fakeScanner) set(rootID string, snap domain.Snapshot, scope ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[rootID] = &scanner.Result{Snapshot: snap, Scope: scope}
}

func (f *fakeScanner) fail(rootID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[rootID] = err
}

func (f *fakeScanner) ScanRoot(ctx context.Context, root *domain.LibraryRoot, req scanner.Request, progress scanner.ProgressFunc) (*scanner.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	res, err, block := f.results[root.ID], f.errs[root.ID], f.block
	f.mu.Unlock()

	select {
	case f.started <- root.ID:
	default:
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	if res == nil {
		res = &scanner.Result{}
	}
	total := len(res.Snapshot.Comics)
	progress(scanner.Progress{Phase: scanner.PhaseReading, Total: total})
	for i, c := range res.Snapshot.Comics {
		progress(scanner.Progress{Phase: scanner.PhaseReading, Current: i + 1, Total: total, CurrentItem: c.URI})
	}
	progress(scanner.Progress{Phase: scanner.PhaseComplete})
	return res, nil
}

// memJournal records every persisted scan task state.
type memJournal struct {
	mu      sync.Mutex
	history map[string][]domain.TaskStatus
	last    map[string]domain.ScanTask
	deleted []string
}

func newMemJournal() *memJournal {
	return &memJournal{
		history: make(map[string][]domain.TaskStatus),
		last:    make(map[string]domain.ScanTask),
	}
}

func (j *memJournal) SaveScanTask(_ context.Context, task domain.ScanTask) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	h := j.history[task.ID]
	if len(h) == 0 || h[len(h)-1] != task.Status {
		j.history[task.ID] = append(h, task.Status)
	}
	j.last[task.ID] = task
	return nil
}

func (j *memJournal) DeleteTasksForRoot(_ context.Context, rootID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.deleted = append(j.deleted, rootID)
	return nil
}

func (j *memJournal) task(id string) (domain.ScanTask, []domain.TaskStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last[id], slices.Clone(j.history[id])
}

// recordingQueue accepts every task unless rejectAll is set. Cancelling a
// root drops its pending tasks.
type recordingQueue struct {
	mu        sync.Mutex
	tasks     []domain.ScrapeTask
	cancelled []string
	rejectAll error

	beforeEnqueue func()      // runs outside mu
	cancels       chan string // when set, receives each cancelled root
}

func (q *recordingQueue) Enqueue(task domain.ScrapeTask) error {
	if q.beforeEnqueue != nil {
		q.beforeEnqueue()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.rejectAll != nil {
		return q.rejectAll
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *recordingQueue) CancelForRoot(rootID string) int {
	q.mu.Lock()
	q.cancelled = append(q.cancelled, rootID)
	before := len(q.tasks)
	q.tasks = slices.DeleteFunc(q.tasks, func(t domain.ScrapeTask) bool { return t.RootID == rootID })
	n := before - len(q.tasks)
	q.mu.Unlock()

	if q.cancels != nil {
		q.cancels <- rootID
	}
	return n
}

func (q *recordingQueue) take() []domain.ScrapeTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.tasks
	q.tasks = nil
	return out
}

// hookedIndex is the SQLite index with test hooks around the writes the
// pipeline makes.
type hookedIndex struct {
	*sqlite.Store

	mu sync.Mutex
	// failApplyAfter, with failApply set, makes ApplyDiff stop with
	// failApply once that many batches have committed.
	failApplyAfter int
	failApply      error
	beforeStats    func()
}

func (h *hookedIndex) ApplyDiff(ctx context.Context, rootID string, d *diff.Diff, opts diff.ApplyOptions) (domain.UpdateResult, error) {
	h.mu.Lock()
	after, failure := h.failApplyAfter, h.failApply
	h.mu.Unlock()
	if failure == nil {
		return h.Store.ApplyDiff(ctx, rootID, d, opts)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	committed := 0
	onBatch := opts.OnBatch
	opts.OnBatch = func(applied, total int) {
		if onBatch != nil {
			onBatch(applied, total)
		}
		committed++
		if committed == after {
			cancel(failure)
		}
	}

	res, err := h.Store.ApplyDiff(ctx, rootID, d, opts)
	if err != nil && errors.Is(context.Cause(ctx), failure) {
		return res, fmt.Errorf("apply batch %d: %w", after+1, failure)
	}
	return res, err
}

func (h *hookedIndex) UpdateRootScanStats(ctx context.Context, id string, scannedAt time.Time) error {
	h.mu.Lock()
	hook := h.beforeStats
	h.mu.Unlock()
	if hook != nil {
		hook()
	}
	return h.Store.UpdateRootScanStats(ctx, id, scannedAt)
}

type testEnv struct {
	orch    *Orchestrator
	index   *hookedIndex
	dbPath  string
	scanner *fakeScanner
	journal *memJournal
	queue   *recordingQueue
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "index.db")
	store, err := sqlite.Open(dbPath, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	index := &hookedIndex{Store: store}

	env := &testEnv{
		index:   index,
		dbPath:  dbPath,
		scanner: newFakeScanner(),
		journal: newMemJournal(),
		queue:   &recordingQueue{},
	}
	env.orch = New(Deps{
		Index:   index,
		Scanner: env.scanner,
		Queue:   env.queue,
		Journal: env.journal,
	}, DefaultSyncConfig(), discardLogger())
	t.Cleanup(env.orch.Close)
	return env
}

// execOutOfBand runs a statement on its own connection with foreign keys
// off, the way an external tool could leave the index.
func (e *testEnv) execOutOfBand(t *testing.T, query string, args ...any) {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+e.dbPath+"?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(query, args...)
	require.NoError(t, err)
}

func (e *testEnv) addRoot(t *testing.T, name string, autoSync bool) *domain.LibraryRoot {
	t.Helper()
	root, err := e.orch.RegisterRoot(context.Background(), RootInput{
		Name:       name,
		URI:        "file:///library/" + name,
		SourceKind: domain.SourceImportedInternal,
		AutoSync:   autoSync,
		Permission: domain.Permission{CanRead: true, Persisted: true},
	})
	require.NoError(t, err)
	return root
}

// recordingListener captures callbacks in order.
type recordingListener struct {
	mu       sync.Mutex
	events   []string
	progress []int
	results  []domain.SyncResult
	failures []error
}

func (r *recordingListener) record(name string, task domain.ScanTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 || r.events[len(r.events)-1] != name {
		r.events = append(r.events, name)
	}
	r.progress = append(r.progress, task.Progress)
}

func (r *recordingListener) OnScanStarted(t domain.ScanTask) { r.record("scan_started", t) }
func (r *recordingListener) OnScanProgress(t domain.ScanTask, _ string) { r.record("scan_progress", t) }
func (r *recordingListener) OnIndexingStarted(t domain.ScanTask, _ int) { r.record("indexing_started", t) }
func (r *recordingListener) OnIndexingProgress(t domain.ScanTask) { r.record("indexing_progress", t) }
func (r *recordingListener) OnScrapeStarted(t domain.ScanTask, _ int) { r.record("scrape_started", t) }

func (r *recordingListener) OnSyncCompleted(res domain.SyncResult) {
	r.record("sync_completed", res.ScanTask)
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

func (r *recordingListener) OnSyncFailed(t domain.ScanTask, err error) {
	r.record("sync_failed", t)
	r.mu.Lock()
	r.failures = append(r.failures, err)
	r.mu.Unlock()
}
