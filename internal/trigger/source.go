// Package trigger decides when roots are synced: on a timer, on startup,
// and when the file watcher reports changes under a root.
package trigger

import (
	"context"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shelfsync/shelfsync/internal/domain"
	"github.com/shelfsync/shelfsync/internal/orchestrator"
	"github.com/shelfsync/shelfsync/internal/scanner"
	"github.com/shelfsync/shelfsync/internal/watcher"
)

// Syncer is the part of the orchestrator a trigger may call.
type Syncer interface {
	SyncAllRoots(ctx context.Context, scanType domain.ScanType, cfg *orchestrator.SyncConfig) ([]*domain.SyncResult, error)
	SyncPaths(ctx context.Context, rootID string, paths []string, cfg *orchestrator.SyncConfig) (*domain.SyncResult, error)
	ListRoots(ctx context.Context) ([]*domain.LibraryRoot, error)
}

// Watcher delivers file system changes.
type Watcher interface {
	Watch(path string) error
	Unwatch(path string) error
	Events() <-chan watcher.Event
	Errors() <-chan error
}

// Pruner drops finished tasks from the task journal.
type Pruner interface {
	PruneFinished(ctx context.Context, cutoff time.Time) (int, error)
}

// Options configures a Source.
type Options struct {
	// Interval between periodic full syncs of every auto-sync root. Zero disables them.
	Interval time.Duration
	// Debounce is the quiet period after the last watcher event before a sync.
	Debounce time.Duration
	// RetryDelay is how long a Retry result waits before running again.
	RetryDelay time.Duration
	// SyncOnStart runs a full sync as soon as Run starts.
	SyncOnStart bool
	// Retention drops finished journal entries older than this on each tick. Zero keeps them.
	Retention time.Duration
}

func (o *Options) setDefaults() {
	if o.Debounce <= 0 {
		o.Debounce = 2 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Minute
	}
}

// Source runs syncs on behalf of timers and watcher events.
type Source struct {
	syncer  Syncer
	watcher Watcher // may be nil
	pruner  Pruner  // may be nil
	opts    Options
	logger  *slog.Logger

	mu       sync.RWMutex
	roots    map[string]string // root id -> local path
	last     map[Origin]Result
	onResult func(Result)

	pending  map[string]map[string]struct{} // root id -> changed paths
	requeue  chan map[string][]string
	finished chan Result
	wg       sync.WaitGroup
	now      func() time.Time
}

// New creates a Source. w and pruner may be nil.
func New(syncer Syncer, w Watcher, pruner Pruner, opts Options, logger *slog.Logger) *Source {
	opts.setDefaults()
	return &Source{
		syncer:   syncer,
		watcher:  w,
		pruner:   pruner,
		opts:     opts,
		logger:   logger,
		roots:    make(map[string]string),
		last:     make(map[Origin]Result),
		pending:  make(map[string]map[string]struct{}),
		requeue:  make(chan map[string][]string, 16),
		finished: make(chan Result, 16),
		now:      time.Now,
	}
}

// OnResult registers fn to be called with every Result. fn must not block.
func (s *Source) OnResult(fn func(Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onResult = fn
}

// LastResults returns the most recent Result per origin.
func (s *Source) LastResults() map[Origin]Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.last)
}

// Refresh re-reads the roots and brings the watch set in line with them.
// Only auto-sync roots with a readable grant and a local path are watched.
func (s *Source) Refresh(ctx context.Context) error {
	roots, err := s.syncer.ListRoots(ctx)
	if err != nil {
		return err
	}

	want := make(map[string]string, len(roots))
	for _, r := range roots {
		if !r.AutoSyncEnabled || !r.Scannable() {
			continue
		}
		path, err := scanner.PathFromURI(r.URI)
		if err != nil {
			s.logger.Debug("root has no local path, not watching", "root_id", r.ID, "uri", r.URI)
			continue
		}
		want[r.ID] = path
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for rootID, path := range s.roots {
		if want[rootID] == path {
			continue
		}
		if s.watcher != nil {
			if err := s.watcher.Unwatch(path); err != nil {
				s.logger.Warn("failed to unwatch root", "root_id", rootID, "path", path, "error", err)
			}
		}
		delete(s.roots, rootID)
	}
	for rootID, path := range want {
		if _, ok := s.roots[rootID]; ok {
			continue
		}
		if s.watcher != nil {
			if err := s.watcher.Watch(path); err != nil {
				s.logger.Warn("failed to watch root", "root_id", rootID, "path", path, "error", err)
				continue
			}
		}
		s.roots[rootID] = path
	}
	return nil
}

// Run blocks until ctx is cancelled, then waits for in-flight syncs.
func (s *Source) Run(ctx context.Context) error {
	defer s.wg.Wait()

	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("failed to load roots", "error", err)
	}

	var tick <-chan time.Time
	if s.opts.Interval > 0 {
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var events <-chan watcher.Event
	var watchErrs <-chan error
	if s.watcher != nil {
		events = s.watcher.Events()
		watchErrs = s.watcher.Errors()
	}

	flush := time.NewTimer(s.opts.Debounce)
	flush.Stop()
	defer flush.Stop()

	var retryFull <-chan time.Time
	fullRunning := false
	startFull := func(origin Origin) {
		if fullRunning {
			s.logger.Debug("full sync already running, skipping", "origin", origin)
			return
		}
		fullRunning = true
		s.goRun(ctx, func() Result {
			res := Classify(s.syncer.SyncAllRoots(ctx, domain.ScanFull, nil))
			res.Origin = origin
			return res
		})
	}

	if s.opts.SyncOnStart {
		startFull(OriginStartup)
	}

	s.logger.Info("trigger source started",
		"interval", s.opts.Interval,
		"debounce", s.opts.Debounce,
		"watching", s.watcher != nil)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("trigger source stopping")
			return nil

		case <-tick:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn("failed to refresh roots", "error", err)
			}
			startFull(OriginPeriodic)
			s.prune(ctx)

		case <-retryFull:
			retryFull = nil
			startFull(OriginRetry)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if s.record(ev) {
				flush.Reset(s.opts.Debounce)
			}

		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			s.logger.Warn("watcher error", "error", err)

		case batch := <-s.requeue:
			for rootID, paths := range batch {
				s.add(rootID, paths...)
			}
			flush.Reset(s.opts.Debounce)

		case <-flush.C:
			s.flush(ctx)

		case res := <-s.finished:
			if res.RootID == "" {
				fullRunning = false
				if res.Kind == KindRetry && retryFull == nil {
					retryFull = time.After(s.opts.RetryDelay)
				}
			}
			s.report(res)
		}
	}
}

// record files a watcher event under its root. It reports whether the
// event belongs to a watched root.
func (s *Source) record(ev watcher.Event) bool {
	rootID, ok := s.rootFor(ev.Path)
	if !ok {
		return false
	}
	s.logger.Debug("change detected", "root_id", rootID, "path", ev.Path, "type", ev.Type.String())
	s.add(rootID, ev.Path)
	return true
}

func (s *Source) add(rootID string, paths ...string) {
	set, ok := s.pending[rootID]
	if !ok {
		set = make(map[string]struct{})
		s.pending[rootID] = set
	}
	for _, p := range paths {
		set[p] = struct{}{}
	}
}

// rootFor finds the watched root containing path, preferring the deepest.
func (s *Source) rootFor(path string) (string, bool) {
	path = filepath.Clean(path)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var best, bestPath string
	for rootID, rootPath := range s.roots {
		if path == rootPath || !strings.HasPrefix(path, rootPath+string(filepath.Separator)) {
			continue
		}
		if len(rootPath) > len(bestPath) {
			best, bestPath = rootID, rootPath
		}
	}
	return best, best != ""
}

// flush starts one incremental sync per root with pending changes.
func (s *Source) flush(ctx context.Context) {
	for rootID, set := range s.pending {
		paths := slices.Sorted(maps.Keys(set))
		delete(s.pending, rootID)

		s.goRun(ctx, func() Result {
			result, err := s.syncer.SyncPaths(ctx, rootID, paths, nil)
			var results []*domain.SyncResult
			if result != nil {
				results = append(results, result)
			}
			res := Classify(results, err)
			res.Origin = OriginWatch
			res.RootID = rootID
			if res.Kind == KindRetry && ctx.Err() == nil {
				s.scheduleRequeue(ctx, rootID, paths)
			}
			return res
		})
	}
}

// scheduleRequeue hands paths back to the Run loop after RetryDelay.
func (s *Source) scheduleRequeue(ctx context.Context, rootID string, paths []string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-ctx.Done():
		case <-time.After(s.opts.RetryDelay):
			select {
			case s.requeue <- map[string][]string{rootID: paths}:
			case <-ctx.Done():
			}
		}
	}()
}

func (s *Source) goRun(ctx context.Context, run func() Result) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := run()
		select {
		case s.finished <- res:
		case <-ctx.Done():
			s.report(res)
		}
	}()
}

func (s *Source) report(res Result) {
	s.mu.Lock()
	s.last[res.Origin] = res
	fn := s.onResult
	s.mu.Unlock()

	attrs := []any{
		"origin", res.Origin,
		"kind", res.Kind.String(),
		"synced_roots", len(res.Results),
	}
	if res.RootID != "" {
		attrs = append(attrs, "root_id", res.RootID)
	}
	switch res.Kind {
	case KindSuccess:
		s.logger.Info("triggered sync finished", attrs...)
	case KindRetry:
		s.logger.Warn("triggered sync will be retried", append(attrs, "retry_in", s.opts.RetryDelay, "error", res.Err)...)
	case KindFailure:
		s.logger.Error("triggered sync failed", append(attrs, "error", res.Err)...)
	}

	if fn != nil {
		fn(res)
	}
}

func (s *Source) prune(ctx context.Context) {
	if s.pruner == nil || s.opts.Retention <= 0 {
		return
	}
	n, err := s.pruner.PruneFinished(ctx, s.now().Add(-s.opts.Retention))
	if err != nil {
		s.logger.Warn("failed to prune task journal", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("pruned task journal", "removed", n)
	}
}
