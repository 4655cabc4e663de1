package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfsync/shelfsync/internal/domain"
	domainerrors "github.com/shelfsync/shelfsync/internal/errors"
	"github.com/shelfsync/shelfsync/internal/id"
)

func TestRegisterRoot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	root, err := env.orch.RegisterRoot(ctx, RootInput{
		Name:       " Manga ",
		URI:        "file:///library/manga/",
		SourceKind: domain.SourceDownloaded,
		Permission: domain.Permission{CanRead: true, Persisted: true},
	})
	require.NoError(t, err)
	assert.Equal(t, id.Root("file:///library/manga"), root.ID)
	assert.Equal(t, "Manga", root.Name)
	assert.False(t, root.Permission.GrantedAt.IsZero())

	stored, err := env.orch.GetRoot(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, root.URI, stored.URI)

	_, err = env.orch.RegisterRoot(ctx, RootInput{
		Name: "Again", URI: "file:///library/manga", SourceKind: domain.SourceDownloaded,
	})
	assert.True(t, domainerrors.Is(err, domainerrors.ErrAlreadyExists), "got %v", err)

	_, err = env.orch.RegisterRoot(ctx, RootInput{Name: "Web", URI: "https://example.com", SourceKind: "cloud"})
	var derr *domainerrors.Error
	require.True(t, domainerrors.As(err, &derr))
	assert.Equal(t, domainerrors.CodeValidation, derr.Code)
	assert.Len(t, derr.Details, 2)
}

func TestRefreshPermission_LossCancelsSync(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.addRoot(t, "manga", true)
	env.scanner.block = make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		_, err := env.orch.SyncRoot(ctx, root.ID, domain.ScanFull, nil)
		errCh <- err
	}()
	<-env.scanner.started

	updated, err := env.orch.RefreshPermission(ctx, root.ID, domain.Permission{CanRead: false, Persisted: true})
	require.NoError(t, err)
	assert.False(t, updated.Scannable())
	assert.False(t, updated.Permission.VerifiedAt.IsZero())

	select {
	case err := <-errCh:
		assert.True(t, domainerrors.Is(err, domainerrors.ErrCancelled))
	case <-time.After(5 * time.Second):
		t.Fatal("sync kept running after permission loss")
	}

	_, err = env.orch.RefreshPermission(ctx, "root-missing", domain.Permission{})
	assert.True(t, domainerrors.Is(err, domainerrors.ErrNotFound))
}

func TestDeleteRoot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.addRoot(t, "manga", true)
	other := env.addRoot(t, "comics", true)

	env.scanner.set(root.ID, snapshotOf(root, comicDir{dir: "A", chapters: []string{"1", "2"}}))
	env.scanner.set(other.ID, snapshotOf(other, comicDir{dir: "Z", chapters: []string{"1"}}))
	_, err := env.orch.SyncRoot(ctx, root.ID, domain.ScanFull, nil)
	require.NoError(t, err)
	_, err = env.orch.SyncRoot(ctx, other.ID, domain.ScanFull, nil)
	require.NoError(t, err)

	require.NoError(t, env.orch.DeleteRoot(ctx, root.ID))

	_, err = env.orch.GetRoot(ctx, root.ID)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrNotFound))
	snap, err := env.index.CurrentSnapshot(ctx, root.ID)
	require.NoError(t, err)
	assert.Zero(t, snap.Len())
	assert.Contains(t, env.queue.cancelled, root.ID)
	assert.Equal(t, []string{root.ID}, env.journal.deleted)

	snap, err = env.index.CurrentSnapshot(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Len(), "other roots untouched")

	err = env.orch.DeleteRoot(ctx, root.ID)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrNotFound))
}

func TestDeleteRoot_WaitsForRunningSync(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.addRoot(t, "manga", true)
	env.scanner.block = make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		_, err := env.orch.SyncRoot(ctx, root.ID, domain.ScanFull, nil)
		errCh <- err
	}()
	<-env.scanner.started

	require.NoError(t, env.orch.DeleteRoot(ctx, root.ID))
	assert.False(t, env.orch.IsSyncing(root.ID))
	assert.True(t, domainerrors.Is(<-errCh, domainerrors.ErrCancelled))
}

func TestDeleteRoot_DropsScrapesOfUnwindingSync(t *testing.T) {
	tests := []struct {
		name        string
		beforeStats bool // otherwise the delete lands while the scrape is enqueued
	}{
		{"delete after index apply", true},
		{"delete during scrape enqueue", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			root := env.addRoot(t, "manga", true)
			env.scanner.set(root.ID, snapshotOf(root, comicDir{dir: "A", chapters: []string{"1"}}))
			env.queue.cancels = make(chan string, 8)

			deleted := make(chan error, 1)
			var once sync.Once
			deleteRoot := func() {
				once.Do(func() {
					go func() { deleted <- env.orch.DeleteRoot(ctx, root.ID) }()
					// the sync is now cancelled and waited on
					<-env.queue.cancels
				})
			}
			if tt.beforeStats {
				env.index.beforeStats = deleteRoot
			} else {
				env.queue.beforeEnqueue = deleteRoot
			}

			_, err := env.orch.SyncRoot(ctx, root.ID, domain.ScanFull, nil)
			require.NoError(t, err)

			select {
			case err := <-deleted:
				require.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("delete did not finish")
			}
			assert.Empty(t, env.queue.take(), "no scrape outlives its root")
			_, err = env.orch.GetRoot(ctx, root.ID)
			assert.True(t, domainerrors.Is(err, domainerrors.ErrNotFound))
		})
	}
}

func TestSyncAllRoots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ok1 := env.addRoot(t, "ok1", true)
	ok2 := env.addRoot(t, "ok2", true)
	broken := env.addRoot(t, "broken", true)
	manual := env.addRoot(t, "manual", false)
	revoked := env.addRoot(t, "revoked", true)
	_, err := env.orch.RefreshPermission(ctx, revoked.ID, domain.Permission{})
	require.NoError(t, err)

	env.scanner.set(ok1.ID, snapshotOf(ok1, comicDir{dir: "A", chapters: []string{"1"}}))
	env.scanner.set(ok2.ID, snapshotOf(ok2, comicDir{dir: "B", chapters: []string{"1"}}))
	env.scanner.fail(broken.ID, errors.New("i/o error"))

	cfg := DefaultSyncConfig()
	cfg.MaxConcurrentRoots = 2
	results, err := env.orch.SyncAllRoots(ctx, domain.ScanFull, &cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), broken.ID)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrScanFailure))
	require.Len(t, results, 2)

	synced := map[string]bool{}
	for _, r := range results {
		synced[r.ScanTask.RootID] = true
		assert.Equal(t, 1, r.Counts.NewComics)
	}
	assert.Equal(t, map[string]bool{ok1.ID: true, ok2.ID: true}, synced)

	env.scanner.mu.Lock()
	calls := len(env.scanner.calls)
	env.scanner.mu.Unlock()
	assert.Equal(t, 3, calls, "manual and revoked roots are never scanned")
	_ = manual
}

func TestSyncAllRoots_RespectsConcurrencyLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c", "d"} {
		env.addRoot(t, name, true)
	}

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	env.orch.AddListener(&concurrencyListener{onStart: func() {
		mu.Lock()
		active++
		maxSeen = max(maxSeen, active)
		mu.Unlock()
	}, onEnd: func() {
		mu.Lock()
		active--
		mu.Unlock()
	}})

	cfg := DefaultSyncConfig()
	cfg.MaxConcurrentRoots = 1
	results, err := env.orch.SyncAllRoots(ctx, domain.ScanFull, &cfg)
	require.NoError(t, err)
	assert.Len(t, results, 4)

	env.orch.Close()
	assert.Equal(t, 1, maxSeen)
}

// concurrencyListener counts syncs between their start and end events.
// Events of one sync arrive in order, so with a limit of one the count
// never exceeds one.
type concurrencyListener struct {
	NopListener
	onStart func()
	onEnd   func()
}

func (c *concurrencyListener) OnScanStarted(domain.ScanTask) { c.onStart() }
func (c *concurrencyListener) OnSyncCompleted(domain.SyncResult) { c.onEnd() }
func (c *concurrencyListener) OnSyncFailed(domain.ScanTask, error) { c.onEnd() }

func TestDispatcher_SlowListenerNeverBlocks(t *testing.T) {
	d := newDispatcher(discardLogger())
	release := make(chan struct{})
	var got []string
	var mu sync.Mutex
	d.add(&blockingListener{release: release, record: func(s string) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	}})

	start := time.Now()
	for range 10 * maxPendingProgress {
		d.emit(true, func(l ProgressListener) { l.OnScanProgress(domain.ScanTask{}, "p") })
	}
	d.emit(false, func(l ProgressListener) { l.OnSyncCompleted(domain.SyncResult{}) })
	assert.Less(t, time.Since(start), time.Second)

	close(release)
	d.close()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 2*maxPendingProgress+1)
	assert.Equal(t, "completed", got[len(got)-1], "lifecycle events are never dropped")
}

type blockingListener struct {
	NopListener
	release chan struct{}
	record  func(string)
}

func (b *blockingListener) OnScanProgress(domain.ScanTask, string) {
	<-b.release
	b.record("progress")
}

func (b *blockingListener) OnSyncCompleted(domain.SyncResult) {
	b.record("completed")
}
