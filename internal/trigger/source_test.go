package trigger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfsync/shelfsync/internal/domain"
	domainerrors "github.com/shelfsync/shelfsync/internal/errors"
	"github.com/shelfsync/shelfsync/internal/orchestrator"
	"github.com/shelfsync/shelfsync/internal/scanner"
	"github.com/shelfsync/shelfsync/internal/watcher"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type pathCall struct {
	rootID string
	paths  []string
}

type fakeSyncer struct {
	mu        sync.Mutex
	roots     []*domain.LibraryRoot
	allErrs   []error // consumed per SyncAllRoots call
	pathErrs  []error // consumed per SyncPaths call
	allCalls  int
	pathCalls []pathCall
}

func (f *fakeSyncer) SyncAllRoots(_ context.Context, _ domain.ScanType, _ *orchestrator.SyncConfig) ([]*domain.SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allCalls++
	if len(f.allErrs) > 0 {
		err := f.allErrs[0]
		f.allErrs = f.allErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return []*domain.SyncResult{{}}, nil
}

func (f *fakeSyncer) SyncPaths(_ context.Context, rootID string, paths []string, _ *orchestrator.SyncConfig) (*domain.SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pathCalls = append(f.pathCalls, pathCall{rootID: rootID, paths: paths})
	if len(f.pathErrs) > 0 {
		err := f.pathErrs[0]
		f.pathErrs = f.pathErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &domain.SyncResult{}, nil
}

func (f *fakeSyncer) ListRoots(context.Context) ([]*domain.LibraryRoot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roots, nil
}

func (f *fakeSyncer) setRoots(roots ...*domain.LibraryRoot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roots = roots
}

func (f *fakeSyncer) calls() (int, []pathCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allCalls, append([]pathCall(nil), f.pathCalls...)
}

type fakeWatcher struct {
	mu      sync.Mutex
	watched map[string]bool
	events  chan watcher.Event
	errs    chan error
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		watched: make(map[string]bool),
		events:  make(chan watcher.Event, 16),
		errs:    make(chan error, 1),
	}
}

func (w *fakeWatcher) Watch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched[path] = true
	return nil
}

func (w *fakeWatcher) Unwatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.watched, path)
	return nil
}

func (w *fakeWatcher) isWatched(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watched[path]
}

func (w *fakeWatcher) Events() <-chan watcher.Event { return w.events }
func (w *fakeWatcher) Errors() <-chan error         { return w.errs }

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (p *fakePruner) PruneFinished(_ context.Context, cutoff time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, cutoff)
	return 1, nil
}

func localRoot(t *testing.T, dir string, autoSync bool) *domain.LibraryRoot {
	t.Helper()
	return &domain.LibraryRoot{
		ID:              "root-" + filepath.Base(dir),
		URI:             scanner.URIFromPath(dir),
		AutoSyncEnabled: autoSync,
		Permission:      domain.Permission{CanRead: true, Persisted: true},
	}
}

// runSource starts s and returns a channel of its results.
func runSource(t *testing.T, s *Source) <-chan Result {
	t.Helper()
	results := make(chan Result, 16)
	s.OnResult(func(r Result) { results <- r })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return results
}

func next(t *testing.T, results <-chan Result) Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for result")
		return Result{}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"success", nil, KindSuccess},
		{"root unavailable", domainerrors.RootUnavailablef("gone"), KindFailure},
		{"validation", domainerrors.Validation("bad"), KindFailure},
		{"cancelled", domainerrors.Cancelled(context.Canceled), KindFailure},
		{"context", context.Canceled, KindFailure},
		{"conflict", domainerrors.Conflictf("busy"), KindRetry},
		{"scan failure", domainerrors.ScanFailure(errors.New("io")), KindRetry},
		{"index failure", domainerrors.IndexApplyFailure(errors.New("disk full")), KindRetry},
		{"unknown", errors.New("boom"), KindRetry},
		{"joined permanent", errors.Join(
			domainerrors.RootUnavailablef("a"),
			domainerrors.NotFound("b"),
		), KindFailure},
		{"joined with transient", errors.Join(
			domainerrors.RootUnavailablef("a"),
			domainerrors.ScanFailure(errors.New("io")),
		), KindRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Classify([]*domain.SyncResult{{}}, tt.err)
			assert.Equal(t, tt.want, res.Kind)
			assert.Len(t, res.Results, 1, "partial results are kept")
			if tt.err != nil {
				assert.NotEmpty(t, res.Error())
			}
		})
	}
}

func TestSource_StartupRetriesTransientFailure(t *testing.T) {
	syncer := &fakeSyncer{allErrs: []error{domainerrors.ScanFailure(errors.New("io")), nil}}
	s := New(syncer, nil, nil, Options{SyncOnStart: true, RetryDelay: 20 * time.Millisecond}, discardLogger())
	results := runSource(t, s)

	first := next(t, results)
	assert.Equal(t, KindRetry, first.Kind)
	assert.Equal(t, OriginStartup, first.Origin)

	second := next(t, results)
	assert.Equal(t, KindSuccess, second.Kind)
	assert.Equal(t, OriginRetry, second.Origin)

	all, _ := syncer.calls()
	assert.Equal(t, 2, all)
	assert.Contains(t, s.LastResults(), OriginRetry)
}

func TestSource_PermanentFailureIsNotRetried(t *testing.T) {
	syncer := &fakeSyncer{allErrs: []error{domainerrors.RootUnavailablef("revoked")}}
	s := New(syncer, nil, nil, Options{SyncOnStart: true, RetryDelay: 10 * time.Millisecond}, discardLogger())
	results := runSource(t, s)

	assert.Equal(t, KindFailure, next(t, results).Kind)
	select {
	case r := <-results:
		t.Fatalf("unexpected extra run: %+v", r)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSource_PeriodicSyncAndPrune(t *testing.T) {
	syncer := &fakeSyncer{}
	pruner := &fakePruner{}
	s := New(syncer, nil, pruner, Options{
		Interval:  20 * time.Millisecond,
		Retention: time.Hour,
	}, discardLogger())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	results := runSource(t, s)

	res := next(t, results)
	assert.Equal(t, OriginPeriodic, res.Origin)
	assert.Equal(t, KindSuccess, res.Kind)

	require.Eventually(t, func() bool {
		pruner.mu.Lock()
		defer pruner.mu.Unlock()
		return len(pruner.cutoffs) > 0
	}, time.Second, 5*time.Millisecond)
	pruner.mu.Lock()
	assert.Equal(t, fixed.Add(-time.Hour), pruner.cutoffs[0])
	pruner.mu.Unlock()
}

func TestSource_DebouncesWatcherEvents(t *testing.T) {
	dir := t.TempDir()
	root := localRoot(t, dir, true)
	syncer := &fakeSyncer{roots: []*domain.LibraryRoot{root}}
	w := newFakeWatcher()
	s := New(syncer, w, nil, Options{Debounce: 30 * time.Millisecond}, discardLogger())
	results := runSource(t, s)

	require.Eventually(t, func() bool { return w.isWatched(dir) }, time.Second, 5*time.Millisecond)

	w.events <- watcher.Event{Type: watcher.EventAdded, Path: filepath.Join(dir, "Berserk", "002.jpg")}
	w.events <- watcher.Event{Type: watcher.EventAdded, Path: filepath.Join(dir, "Berserk", "001.jpg")}
	w.events <- watcher.Event{Type: watcher.EventAdded, Path: filepath.Join(dir, "Berserk", "001.jpg")}
	w.events <- watcher.Event{Type: watcher.EventRemoved, Path: "/elsewhere/Blame!/001.jpg"}
	w.events <- watcher.Event{Type: watcher.EventAdded, Path: dir}

	res := next(t, results)
	assert.Equal(t, OriginWatch, res.Origin)
	assert.Equal(t, root.ID, res.RootID)
	assert.Equal(t, KindSuccess, res.Kind)

	_, calls := syncer.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, root.ID, calls[0].rootID)
	assert.Equal(t, []string{
		filepath.Join(dir, "Berserk", "001.jpg"),
		filepath.Join(dir, "Berserk", "002.jpg"),
	}, calls[0].paths)
}

func TestSource_WatchConflictIsRequeued(t *testing.T) {
	dir := t.TempDir()
	syncer := &fakeSyncer{
		roots:    []*domain.LibraryRoot{localRoot(t, dir, true)},
		pathErrs: []error{domainerrors.Conflictf("busy")},
	}
	w := newFakeWatcher()
	s := New(syncer, w, nil, Options{Debounce: 10 * time.Millisecond, RetryDelay: 20 * time.Millisecond}, discardLogger())
	results := runSource(t, s)

	require.Eventually(t, func() bool { return w.isWatched(dir) }, time.Second, 5*time.Millisecond)
	page := filepath.Join(dir, "Vinland Saga", "001.jpg")
	w.events <- watcher.Event{Type: watcher.EventModified, Path: page}

	assert.Equal(t, KindRetry, next(t, results).Kind)
	assert.Equal(t, KindSuccess, next(t, results).Kind)

	_, calls := syncer.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{page}, calls[1].paths)
}

func TestSource_RefreshFollowsRoots(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	syncer := &fakeSyncer{}
	syncer.setRoots(localRoot(t, a, true), localRoot(t, b, false), &domain.LibraryRoot{
		ID:              "root-remote",
		URI:             "content://com.android.externalstorage/tree/comics",
		AutoSyncEnabled: true,
		Permission:      domain.Permission{CanRead: true, Persisted: true},
	})
	w := newFakeWatcher()
	s := New(syncer, w, nil, Options{}, discardLogger())

	require.NoError(t, s.Refresh(context.Background()))
	assert.True(t, w.isWatched(a))
	assert.False(t, w.isWatched(b), "auto sync disabled")

	revoked := localRoot(t, a, true)
	revoked.Permission.CanRead = false
	syncer.setRoots(revoked, localRoot(t, b, true))

	require.NoError(t, s.Refresh(context.Background()))
	assert.False(t, w.isWatched(a), "permission lost")
	assert.True(t, w.isWatched(b))
}
